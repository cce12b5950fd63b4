package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// SimulateDrop 将一次合成的价格观测送入账本与通知流程。
func (a *App) SimulateDrop(ctx context.Context, article string, price decimal.Decimal) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	update, err := rt.svc.Observe(ctx, article, price)
	if err != nil {
		return err
	}

	switch {
	case update.Dropped:
		fmt.Fprintf(a.Out, "drop detected for %s: %s -> %s\n", article, update.Previous.StringFixed(2), price.StringFixed(2))
	case update.Changed:
		fmt.Fprintf(a.Out, "price for %s recorded at %s, no notification\n", article, price.StringFixed(2))
	default:
		fmt.Fprintf(a.Out, "price for %s unchanged\n", article)
	}

	a.drainNotifications(ctx, rt.notifier)
	return nil
}
