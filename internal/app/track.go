package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"price-tracker/internal/ledger"
)

// Track captures a product page and starts tracking it.
func (a *App) Track(ctx context.Context, opts TrackOptions) error {
	if (opts.URL == "") == (opts.Article == "") {
		return errors.New("exactly one of --url or --article is required")
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	var item ledger.TrackedItem
	if opts.URL != "" {
		item, err = rt.svc.Track(ctx, opts.URL)
	} else {
		item, err = rt.svc.TrackArticle(ctx, opts.Article)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "tracking %s %q at %s (%d/%d)\n",
		item.Article, item.Name, formatDecimal(item.CurrentPrice, 2), len(rt.svc.Items()), rt.svc.Capacity())
	return nil
}

// Remove stops tracking an article. Unknown articles are reported, not rejected.
func (a *App) Remove(ctx context.Context, article string) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	removed, err := rt.svc.Untrack(ctx, article)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(a.Out, "removed %s\n", article)
	} else {
		fmt.Fprintf(a.Out, "%s was not tracked\n", article)
	}
	return nil
}

// SetThreshold updates the per-item notification threshold.
func (a *App) SetThreshold(ctx context.Context, article string, value decimal.Decimal) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.svc.SetThreshold(ctx, article, value); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "threshold for %s set to %s\n", article, value.String())
	return nil
}
