package app

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// Settings prints the effective configuration surface.
func (a *App) Settings() error {
	cfg := a.Config
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"trackPrices", fmt.Sprint(cfg.TrackPrices())},
		{"priceDropNotifications", fmt.Sprint(cfg.PriceDropNotifications())},
		{"sortReviews", fmt.Sprint(cfg.SortReviews())},
		{"expandDescription", fmt.Sprint(cfg.ExpandDescription())},
		{"maxTrackedItems", fmt.Sprint(cfg.MaxTrackedItems())},
		{"defaultThreshold", cfg.DefaultThreshold().String()},
		{"fallbackPriceFloor", cfg.FallbackPriceFloor().String()},
		{"minRecheckInterval", cfg.MinRecheckInterval().String()},
		{"storage.driver", cfg.Storage.Driver},
		{"scheduler.interval", cfg.Scheduler.Interval.String()},
		{"fetch.concurrency", fmt.Sprint(cfg.Fetch.Concurrency)},
		{"alerting.telegram.enabled", fmt.Sprint(cfg.Alerting.Telegram.Enabled)},
		{"extract.strategies", a.strategyOrder()},
	}
	fmt.Fprintln(writer, "Setting\tValue")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\n", row[0], row[1])
	}
	return writer.Flush()
}

func (a *App) strategyOrder() string {
	strategies := a.newExtractor().Strategies()
	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Describe())
	}
	return strings.Join(names, " > ")
}
