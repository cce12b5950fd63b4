package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"price-tracker/internal/ledger"
)

// List prints tracked items in insertion order.
func (a *App) List(ctx context.Context) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	items := rt.svc.Items()
	if len(items) == 0 {
		fmt.Fprintln(a.Out, "no tracked items")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Article\tName\tInitial\tCurrent\tChange\tThreshold\tNotified\tDays\tUpdated (UTC)")

	for _, item := range items {
		notified := "-"
		if item.LastNotifiedPrice != nil {
			notified = formatDecimal(*item.LastNotifiedPrice, 2)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			item.Article,
			truncate(sanitizeInline(item.Name), 40),
			formatDecimal(item.InitialPrice, 2),
			formatDecimal(item.CurrentPrice, 2),
			formatChange(item.Change()),
			item.NotificationThreshold.String(),
			notified,
			len(item.PriceHistory),
			item.LastUpdated.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	fmt.Fprintf(a.Out, "%d/%d items\n", len(items), rt.svc.Capacity())
	return nil
}

// History prints the per-day price history of one item.
func (a *App) History(ctx context.Context, article string) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	item, ok := rt.svc.Item(article)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotTracked, article)
	}

	fmt.Fprintf(a.Out, "%s  %s\n%s\n", item.Article, sanitizeInline(item.Name), item.URL)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tPrice\tChange")

	var prev decimal.Decimal
	for i, point := range item.PriceHistory {
		change := ""
		if i > 0 {
			change = formatChange(point.Price.Sub(prev))
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", point.Date, formatDecimal(point.Price, 2), change)
		prev = point.Price
	}
	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatChange(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func truncate(v string, n int) string {
	runes := []rune(v)
	if len(runes) <= n {
		return v
	}
	return string(runes[:n-1]) + "…"
}
