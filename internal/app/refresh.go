package app

import (
	"context"
	"fmt"

	"price-tracker/internal/service"
)

type refreshResult struct {
	summary service.Summary
	err     error
}

// Refresh runs one bulk refresh and waits for its completion callback.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	done := make(chan refreshResult, 1)
	rt.svc.RefreshAsync(ctx, opts.Force, func(summary service.Summary, err error) {
		done <- refreshResult{summary: summary, err: err}
	})

	var res refreshResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}

	printSummary(a, res.summary)
	a.drainNotifications(ctx, rt.notifier)
	return nil
}

func printSummary(a *App, s service.Summary) {
	if s.Skipped {
		fmt.Fprintf(a.Out, "refresh skipped: %s\n", s.Reason)
		return
	}
	fmt.Fprintf(a.Out, "checked %d/%d, updated %d, dropped %d, failed %d in %s\n",
		s.Checked, s.Total, s.Updated, s.Dropped, s.Failed, s.Elapsed.Round(1e6))
}
