package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker/internal/alerting"
	"price-tracker/internal/config"
	"price-tracker/internal/extract"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/ledger"
	"price-tracker/internal/storage"
)

const kettleURL = "https://shop.test/product/electric-kettle-123/"

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	gate   chan struct{}
	called chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, _ time.Duration) (string, error) {
	if f.called != nil {
		f.called <- url
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", fetcher.ErrTimeout, ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	page, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("%w: unexpected status 404 from %s", fetcher.ErrNetwork, url)
	}
	return page, nil
}

func (f *fakeFetcher) setPrice(url, name, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = fmt.Sprintf(`<html><head><title>%s</title></head><body>
		<h1>%s</h1>
		<div data-widget="webPrice"><span>%s р.</span></div>
	</body></html>`, name, name, price)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	svc      *Service
	fetcher  *fakeFetcher
	store    *storage.MemoryStore
	notifier *alerting.Notifier
	clock    *testClock
	cfg      *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Fetch: config.FetchConfig{
			RequestTimeout:     time.Second,
			Concurrency:        2,
			ProductURLTemplate: "https://shop.test/product/%s/",
		},
		Tracking: config.TrackingConfig{
			TrackPrices:        true,
			MaxTrackedItems:    config.DefaultMaxTrackedItems,
			MinRecheckInterval: 30 * time.Minute,
			DefaultThreshold:   0.2,
			FallbackPriceFloor: 1,
		},
		Alerting: config.AlertingConfig{PriceDropNotifications: true, AckTimeout: time.Second},
		Export:   config.ExportConfig{Indent: true},
	}
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	led := ledger.New(ledger.Options{
		Capacity:         cfg.MaxTrackedItems(),
		DefaultThreshold: cfg.DefaultThreshold(),
		Now:              clock.Now,
	})
	docs := newFakeFetcher()
	store := storage.NewMemoryStore()
	notifier := alerting.NewNotifier(nil, nil, time.Second, zerolog.Nop())
	extractor := extract.NewDefault(extract.DefaultOptions(), zerolog.Nop())

	svc := New(cfg, led, extractor, docs, store, notifier, zerolog.Nop(), WithClock(clock.Now))
	require.NoError(t, svc.Load(context.Background()))
	return &harness{svc: svc, fetcher: docs, store: store, notifier: notifier, clock: clock, cfg: cfg}
}

func TestTrackCapturesAndPersists(t *testing.T) {
	h := newHarness(t, testConfig())
	const shared = kettleURL + "?utm_source=feed#reviews"
	h.fetcher.setPrice(shared, "Electric kettle", "100,00")

	item, err := h.svc.Track(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, "123", item.Article)
	assert.Equal(t, "Electric kettle", item.Name)
	assert.Equal(t, kettleURL, item.URL)
	assert.True(t, item.CurrentPrice.Equal(decimal.NewFromInt(100)))

	stored, err := storage.GetJSON(context.Background(), h.store, storage.KeyTrackedItems, []ledger.TrackedItem{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "123", stored[0].Article)
}

func TestTrackRejectsDuplicateAndPageWithoutPrice(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.setPrice(kettleURL, "Kettle", "100")

	_, err := h.svc.Track(context.Background(), kettleURL)
	require.NoError(t, err)
	_, err = h.svc.Track(context.Background(), kettleURL)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateArticle))

	const bare = "https://shop.test/product/456/"
	h.fetcher.pages[bare] = "<html><body><h1>Sold out</h1></body></html>"
	_, err = h.svc.Track(context.Background(), bare)
	assert.True(t, errors.Is(err, ledger.ErrMissingPrice))
}

func TestTrackArticleUsesTemplate(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.setPrice("https://shop.test/product/777/", "Mug", "12.90")

	item, err := h.svc.TrackArticle(context.Background(), " 777 ")
	require.NoError(t, err)
	assert.Equal(t, "777", item.Article)

	_, err = h.svc.TrackArticle(context.Background(), "77a")
	assert.True(t, errors.Is(err, ErrInvalidArticle))
}

func TestRefreshDetectsDropAndQueuesNotification(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.setPrice(kettleURL, "Kettle", "100,00")
	_, err := h.svc.Track(context.Background(), kettleURL)
	require.NoError(t, err)

	h.fetcher.setPrice(kettleURL, "Kettle", "90,00")
	summary, err := h.svc.Refresh(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, summary.Skipped)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, 1, h.notifier.Pending())

	item, _ := h.svc.Item("123")
	assert.True(t, item.LastNotifiedPrice.Equal(decimal.NewFromInt(90)))

	last, err := h.svc.LastCheckTime(context.Background())
	require.NoError(t, err)
	assert.True(t, last.Equal(h.clock.Now()))
}

func TestRefreshRespectsMinRecheckInterval(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.setPrice(kettleURL, "Kettle", "100")
	_, err := h.svc.Track(context.Background(), kettleURL)
	require.NoError(t, err)

	_, err = h.svc.Refresh(context.Background(), false)
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	summary, err := h.svc.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Zero(t, summary.Checked)

	summary, err = h.svc.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, summary.Skipped)
	assert.Equal(t, 1, summary.Checked)

	h.clock.Advance(31 * time.Minute)
	summary, err = h.svc.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, summary.Skipped)
}

func TestRefreshFailuresDoNotFailBatch(t *testing.T) {
	h := newHarness(t, testConfig())
	const other = "https://shop.test/product/lamp-456/"
	h.fetcher.setPrice(kettleURL, "Kettle", "100")
	h.fetcher.setPrice(other, "Lamp", "50")
	_, err := h.svc.Track(context.Background(), kettleURL)
	require.NoError(t, err)
	_, err = h.svc.Track(context.Background(), other)
	require.NoError(t, err)

	h.fetcher.errs[kettleURL] = fmt.Errorf("%w: deadline", fetcher.ErrTimeout)
	h.fetcher.setPrice(other, "Lamp", "40")

	summary, err := h.svc.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Dropped)

	kettle, _ := h.svc.Item("123")
	assert.True(t, kettle.CurrentPrice.Equal(decimal.NewFromInt(100)))
}

func TestRefreshTrackingDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Tracking.TrackPrices = false
	h := newHarness(t, cfg)

	_, err := h.svc.Refresh(context.Background(), true)
	assert.True(t, errors.Is(err, ErrTrackingDisabled))
	assert.NoError(t, h.svc.RunCycle(context.Background(), time.Now()))
}

func TestRefreshRejectsConcurrentCycle(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.setPrice(kettleURL, "Kettle", "100")
	_, err := h.svc.Track(context.Background(), kettleURL)
	require.NoError(t, err)

	h.fetcher.gate = make(chan struct{})
	h.fetcher.called = make(chan string, 1)

	done := make(chan Summary, 1)
	h.svc.RefreshAsync(context.Background(), true, func(s Summary, err error) {
		assert.NoError(t, err)
		done <- s
	})
	<-h.fetcher.called

	_, err = h.svc.Refresh(context.Background(), true)
	assert.True(t, errors.Is(err, ErrRefreshInProgress))

	close(h.fetcher.gate)
	select {
	case s := <-done:
		assert.Equal(t, 1, s.Checked)
	case <-time.After(2 * time.Second):
		t.Fatal("async refresh did not complete")
	}
}

func TestDropWithNotificationsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.PriceDropNotifications = false
	h := newHarness(t, cfg)
	h.fetcher.setPrice(kettleURL, "Kettle", "100")
	_, err := h.svc.Track(context.Background(), kettleURL)
	require.NoError(t, err)

	update, err := h.svc.Observe(context.Background(), "123", decimal.NewFromInt(80))
	require.NoError(t, err)
	assert.True(t, update.Dropped)
	assert.Equal(t, 0, h.notifier.Pending())
}

func TestObserveUnknownArticle(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.svc.Observe(context.Background(), "999", decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, ledger.ErrNotTracked))
}

func TestUntrackAndThreshold(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.setPrice(kettleURL, "Kettle", "100")
	_, err := h.svc.Track(context.Background(), kettleURL)
	require.NoError(t, err)

	require.NoError(t, h.svc.SetThreshold(context.Background(), "123", decimal.NewFromInt(5)))
	assert.True(t, errors.Is(h.svc.SetThreshold(context.Background(), "123", decimal.Zero), ledger.ErrInvalidThreshold))

	removed, err := h.svc.Untrack(context.Background(), "123")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = h.svc.Untrack(context.Background(), "123")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, h.svc.Items())
}

func TestExportImportRoundTripAndReload(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fetcher.setPrice(kettleURL, "Kettle", "100")
	_, err := h.svc.Track(context.Background(), kettleURL)
	require.NoError(t, err)

	data, err := h.svc.Export(context.Background())
	require.NoError(t, err)

	report, err := h.svc.Import(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []string{"123"}, report.Unchanged)

	other := newHarness(t, testConfig())
	report, err = other.svc.Import(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []string{"123"}, report.Inserted)

	_, err = other.svc.Import(context.Background(), []byte(`[{"article":"x"}]`))
	assert.True(t, errors.Is(err, ledger.ErrMalformedImport))

	// A fresh service over the same store sees the imported item.
	reloaded := New(other.cfg, ledger.New(ledger.Options{}), extract.NewDefault(extract.DefaultOptions(), zerolog.Nop()),
		other.fetcher, other.store, nil, zerolog.Nop())
	require.NoError(t, reloaded.Load(context.Background()))
	_, ok := reloaded.Item("123")
	assert.True(t, ok)
}

// peer builds a second service over the harness store, as another process would.
func (h *harness) peer(t *testing.T) *Service {
	t.Helper()
	led := ledger.New(ledger.Options{
		Capacity:         h.cfg.MaxTrackedItems(),
		DefaultThreshold: h.cfg.DefaultThreshold(),
		Now:              h.clock.Now,
	})
	svc := New(h.cfg, led, extract.NewDefault(extract.DefaultOptions(), zerolog.Nop()),
		h.fetcher, h.store, nil, zerolog.Nop(), WithClock(h.clock.Now))
	require.NoError(t, svc.Load(context.Background()))
	return svc
}

func storedArticles(t *testing.T, h *harness) []string {
	t.Helper()
	stored, err := storage.GetJSON(context.Background(), h.store, storage.KeyTrackedItems, []ledger.TrackedItem{})
	require.NoError(t, err)
	out := make([]string, 0, len(stored))
	for _, it := range stored {
		out = append(out, it.Article)
	}
	return out
}

func TestRefreshKeepsItemsTrackedByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	daemon := newHarness(t, testConfig())
	daemon.fetcher.setPrice(kettleURL, "Kettle", "100")
	_, err := daemon.svc.Track(ctx, kettleURL)
	require.NoError(t, err)

	const lampURL = "https://shop.test/product/lamp-456/"
	daemon.fetcher.setPrice(lampURL, "Lamp", "50")
	cli := daemon.peer(t)
	_, err = cli.Track(ctx, lampURL)
	require.NoError(t, err)

	daemon.fetcher.setPrice(kettleURL, "Kettle", "90")
	summary, err := daemon.svc.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, []string{"123", "456"}, storedArticles(t, daemon))

	kettle, ok := daemon.svc.Item("123")
	require.True(t, ok)
	assert.True(t, kettle.CurrentPrice.Equal(decimal.NewFromInt(90)))
}

func TestRefreshHonoursRemovalByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	daemon := newHarness(t, testConfig())
	const lampURL = "https://shop.test/product/lamp-456/"
	daemon.fetcher.setPrice(kettleURL, "Kettle", "100")
	daemon.fetcher.setPrice(lampURL, "Lamp", "50")
	_, err := daemon.svc.Track(ctx, kettleURL)
	require.NoError(t, err)
	_, err = daemon.svc.Track(ctx, lampURL)
	require.NoError(t, err)

	cli := daemon.peer(t)
	require.NoError(t, cli.SetThreshold(ctx, "123", decimal.NewFromInt(3)))
	removed, err := cli.Untrack(ctx, "456")
	require.NoError(t, err)
	require.True(t, removed)

	daemon.fetcher.setPrice(kettleURL, "Kettle", "95")
	summary, err := daemon.svc.Refresh(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Dropped)
	assert.Equal(t, []string{"123"}, storedArticles(t, daemon))

	_, ok := daemon.svc.Item("456")
	assert.False(t, ok)
	kettle, _ := daemon.svc.Item("123")
	assert.True(t, kettle.NotificationThreshold.Equal(decimal.NewFromInt(3)))
}

func TestImportWithUnusableRecordAppliesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig())

	report, err := h.svc.Import(ctx, []byte(`[
		{"article": "111", "name": "Lamp", "currentPrice": "15"},
		{"article": "222"}
	]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrMalformedImport))
	assert.Empty(t, report.Inserted)
	assert.Empty(t, h.svc.Items())
	assert.Empty(t, storedArticles(t, h))
}
