package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"price-tracker/internal/ledger"
)

// Export writes the lossless JSON export and, optionally, a CSV flattening of
// every item's price history.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.OutPath == "" && opts.CSVPath == "" {
		return errors.New("at least one of --out or --csv must be provided")
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if opts.OutPath != "" {
		data, err := rt.svc.Export(ctx)
		if err != nil {
			return err
		}
		if err := writeFile(opts.OutPath, data); err != nil {
			return err
		}
	}

	items := rt.svc.Items()
	if opts.CSVPath != "" {
		if err := ensureDir(opts.CSVPath); err != nil {
			return err
		}
		file, err := os.Create(opts.CSVPath)
		if err != nil {
			return err
		}
		defer file.Close()
		if err := writeHistoryCSV(file, items); err != nil {
			return err
		}
	}

	a.Logger.Info().Int("items", len(items)).Str("out", opts.OutPath).Str("csv", opts.CSVPath).Msg("export written")
	return nil
}

// Import merges a previously exported JSON file into the ledger.
func (a *App) Import(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.svc.Import(ctx, data)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "inserted %d, merged %d, unchanged %d, rejected %d\n",
		len(report.Inserted), len(report.Merged), len(report.Unchanged), len(report.Rejected))
	for _, r := range report.Rejected {
		fmt.Fprintf(a.Out, "  rejected %s: %v\n", r.Article, r.Err)
	}
	return nil
}

func writeHistoryCSV(w io.Writer, items []ledger.TrackedItem) error {
	writer := csv.NewWriter(w)

	header := []string{"article", "name", "url", "date", "price", "current_price", "threshold", "last_updated"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, item := range items {
		for _, point := range item.PriceHistory {
			record := []string{
				item.Article,
				item.Name,
				item.URL,
				point.Date,
				point.Price.String(),
				item.CurrentPrice.String(),
				item.NotificationThreshold.String(),
				item.LastUpdated.UTC().Format(time.RFC3339),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeFile(path string, data []byte) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
