package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker/internal/config"
	"price-tracker/internal/ledger"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
storage:
  driver: sqlite
  sqlite_path: %s
alerting:
  ack_timeout: 1s
`, filepath.Join(dir, "tracker.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func writeImport(t *testing.T, url string) string {
	t.Helper()
	payload := fmt.Sprintf(`[{
		"article": 123,
		"name": "Kettle",
		"url": %q,
		"initialPrice": "100",
		"currentPrice": "100",
		"notificationThreshold": "5",
		"priceHistory": [{"date": "2025-01-01", "price": "100"}]
	}]`, url)
	path := filepath.Join(t.TempDir(), "import.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))
	return path
}

func TestImportListAndHistory(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Import(ctx, writeImport(t, "https://shop.example/product/123/")))
	assert.Contains(t, out.String(), "inserted 1, merged 0, unchanged 0, rejected 0")

	out.Reset()
	require.NoError(t, a.List(ctx))
	assert.Contains(t, out.String(), "123")
	assert.Contains(t, out.String(), "Kettle")
	assert.Contains(t, out.String(), "1/50 items")

	out.Reset()
	require.NoError(t, a.History(ctx, "123"))
	assert.Contains(t, out.String(), "2025-01-01")
	assert.Contains(t, out.String(), "100.00")

	err := a.History(ctx, "999")
	assert.ErrorIs(t, err, ledger.ErrNotTracked)
}

func TestRemoveAndThreshold(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Import(ctx, writeImport(t, "https://shop.example/product/123/")))

	require.NoError(t, a.SetThreshold(ctx, "123", decimal.RequireFromString("7.5")))
	assert.Contains(t, out.String(), "threshold for 123 set to 7.5")

	out.Reset()
	require.NoError(t, a.Remove(ctx, "123"))
	assert.Contains(t, out.String(), "removed 123")

	out.Reset()
	require.NoError(t, a.Remove(ctx, "123"))
	assert.Contains(t, out.String(), "123 was not tracked")

	out.Reset()
	require.NoError(t, a.List(ctx))
	assert.Contains(t, out.String(), "no tracked items")
}

func TestExportWritesJSONAndCSV(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Import(ctx, writeImport(t, "https://shop.example/product/123/")))

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "nested", "export.json")
	csvPath := filepath.Join(dir, "nested", "history.csv")
	require.NoError(t, a.Export(ctx, ExportOptions{OutPath: jsonPath, CSVPath: csvPath}))

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	items, err := ledger.DecodeImport(data)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "123", items[0].Article)

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "article", records[0][0])
	assert.Equal(t, []string{"123", "Kettle"}, records[1][:2])
	assert.Equal(t, "2025-01-01", records[1][3])

	assert.Error(t, a.Export(ctx, ExportOptions{}))
}

func TestSimulateDropDrainsNotifications(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Import(ctx, writeImport(t, "https://shop.example/product/123/")))

	out.Reset()
	require.NoError(t, a.SimulateDrop(ctx, "123", decimal.RequireFromString("90")))
	assert.Contains(t, out.String(), "drop detected for 123: 100.00 -> 90.00")

	out.Reset()
	require.NoError(t, a.SimulateDrop(ctx, "123", decimal.RequireFromString("88")))
	assert.Contains(t, out.String(), "no notification")

	assert.ErrorIs(t, a.SimulateDrop(ctx, "404", decimal.RequireFromString("1")), ledger.ErrNotTracked)
}

func TestRefreshAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><h1>Kettle</h1><div data-widget="webPrice"><span>90,00 р.</span></div></body></html>`))
	}))
	defer srv.Close()

	a, out := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Import(ctx, writeImport(t, srv.URL+"/product/123/")))

	out.Reset()
	require.NoError(t, a.Refresh(ctx, RefreshOptions{Force: true}))
	assert.Contains(t, out.String(), "checked 1/1, updated 1, dropped 1, failed 0")

	out.Reset()
	require.NoError(t, a.Refresh(ctx, RefreshOptions{}))
	assert.Contains(t, out.String(), "refresh skipped")
}

func TestTrackRequiresOneSource(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Error(t, a.Track(context.Background(), TrackOptions{}))
	assert.Error(t, a.Track(context.Background(), TrackOptions{URL: "https://x", Article: "1"}))
}

func TestSettingsPrintsSurface(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, a.Settings())
	text := out.String()
	for _, key := range []string{"trackPrices", "priceDropNotifications", "sortReviews", "expandDescription", "maxTrackedItems", "minRecheckInterval"} {
		assert.True(t, strings.Contains(text, key), key)
	}
	assert.Contains(t, text, "0.2")
	assert.Contains(t, text, "structured-metadata/json-ld > structured-metadata/meta-price")
	assert.Contains(t, text, "fallback-scan/price-markers")
}
