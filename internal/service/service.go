package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"price-tracker/internal/alerting"
	"price-tracker/internal/config"
	"price-tracker/internal/extract"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/ledger"
	"price-tracker/internal/logging"
	"price-tracker/internal/scheduler"
	"price-tracker/internal/storage"
)

var (
	// ErrRefreshInProgress indicates another refresh cycle is still running.
	ErrRefreshInProgress = errors.New("service: refresh already in progress")
	// ErrTrackingDisabled indicates tracking.track_prices is off.
	ErrTrackingDisabled = errors.New("service: price tracking disabled")
	// ErrInvalidArticle indicates an article that is not a digit string.
	ErrInvalidArticle = errors.New("service: article must be numeric")
)

// Summary reports the outcome of one refresh cycle.
type Summary struct {
	StartedAt time.Time
	Elapsed   time.Duration
	Skipped   bool
	Reason    string
	Total     int
	Checked   int
	Updated   int
	Dropped   int
	Failed    int
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for lastCheckTime.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates fetching, extraction, the ledger, persistence and notifications.
type Service struct {
	cfg       *config.Config
	ledger    *ledger.Ledger
	extractor *extract.Extractor
	fetcher   fetcher.DocumentFetcher
	store     storage.KV
	notifier  *alerting.Notifier
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
	now     func() time.Time

	refreshing atomic.Bool
	persistMu  sync.Mutex
	persisted  uint64
	base       []ledger.TrackedItem
}

// New constructs the tracking service. notifier may be nil.
func New(cfg *config.Config, led *ledger.Ledger, extractor *extract.Extractor, docs fetcher.DocumentFetcher, store storage.KV, notifier *alerting.Notifier, logger zerolog.Logger, opts ...Option) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	s := &Service{
		cfg:       cfg,
		ledger:    led,
		extractor: extractor,
		fetcher:   docs,
		store:     store,
		notifier:  notifier,
		logger:    logging.Component(logger, "service"),
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores the ledger from the trackedItems key.
func (s *Service) Load(ctx context.Context) error {
	items, err := storage.GetJSON(ctx, s.store, storage.KeyTrackedItems, []ledger.TrackedItem{})
	if err != nil {
		return fmt.Errorf("load tracked items: %w", err)
	}
	s.ledger.Restore(items)

	s.persistMu.Lock()
	s.persisted = s.ledger.Version()
	s.base = items
	s.persistMu.Unlock()

	s.logger.Info().Int("items", s.ledger.Len()).Int("capacity", s.ledger.Capacity()).Msg("ledger restored")
	return nil
}

// Run drives refresh cycles from sched until ctx is cancelled.
func (s *Service) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, s.RunCycle)
}

// Track fetches pageURL, captures the product and adds it to the ledger.
func (s *Service) Track(ctx context.Context, pageURL string) (ledger.TrackedItem, error) {
	document, err := s.fetcher.Fetch(ctx, pageURL, s.cfg.Fetch.RequestTimeout)
	if err != nil {
		return ledger.TrackedItem{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	capture, err := s.extractor.Capture(document, pageURL)
	if err != nil {
		return ledger.TrackedItem{}, fmt.Errorf("capture %s: %w", pageURL, err)
	}

	item, err := s.ledger.Add(ledger.NewItem{
		Article: capture.Article,
		Name:    capture.Name,
		URL:     capture.URL,
		Price:   capture.Price,
	})
	if err != nil {
		return ledger.TrackedItem{}, err
	}

	s.logger.Info().Str("article", item.Article).Str("price", item.CurrentPrice.String()).Msg("item tracked")
	return item, s.persist(ctx)
}

// TrackArticle tracks a product by its article using fetch.product_url_template.
func (s *Service) TrackArticle(ctx context.Context, article string) (ledger.TrackedItem, error) {
	article = strings.TrimSpace(article)
	if !isDigits(article) {
		return ledger.TrackedItem{}, fmt.Errorf("%w: %q", ErrInvalidArticle, article)
	}
	return s.Track(ctx, s.productURL(article))
}

// Untrack removes article; unknown articles are not an error.
func (s *Service) Untrack(ctx context.Context, article string) (bool, error) {
	removed := s.ledger.Remove(article)
	if removed {
		s.logger.Info().Str("article", article).Msg("item untracked")
	}
	return removed, s.persist(ctx)
}

// SetThreshold changes the per-item notification threshold.
func (s *Service) SetThreshold(ctx context.Context, article string, value decimal.Decimal) error {
	if err := s.ledger.SetThreshold(article, value); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Items returns tracked items in insertion order.
func (s *Service) Items() []ledger.TrackedItem { return s.ledger.Items() }

// Item returns one tracked item.
func (s *Service) Item(article string) (ledger.TrackedItem, bool) { return s.ledger.Get(article) }

// Capacity returns the ledger capacity.
func (s *Service) Capacity() int { return s.ledger.Capacity() }

// LastCheckTime returns the persisted time of the last ledger-wide refresh.
func (s *Service) LastCheckTime(ctx context.Context) (time.Time, error) {
	return storage.GetJSON(ctx, s.store, storage.KeyLastCheckTime, time.Time{})
}

// RunCycle adapts Refresh to the scheduler.
func (s *Service) RunCycle(ctx context.Context, slot time.Time) error {
	summary, err := s.Refresh(ctx, false)
	switch {
	case errors.Is(err, ErrTrackingDisabled), errors.Is(err, ErrRefreshInProgress):
		s.logger.Debug().Time("slot", slot).Err(err).Msg("refresh cycle skipped")
		return nil
	case err != nil:
		return err
	}
	if summary.Skipped {
		s.logger.Debug().Time("slot", slot).Str("reason", summary.Reason).Msg("refresh cycle skipped")
	}
	return nil
}

// RefreshAsync starts Refresh in the background and reports through done once
// every outstanding fetch has resolved.
func (s *Service) RefreshAsync(ctx context.Context, force bool, done func(Summary, error)) {
	go func() {
		summary, err := s.Refresh(ctx, force)
		if done != nil {
			done(summary, err)
		}
	}()
}

type observation struct {
	article string
	price   decimal.Decimal
	err     error
}

// Refresh re-checks every tracked item once. Fetches run concurrently; ledger
// writes happen only on the calling goroutine. Per-item failures are counted and
// logged, never returned.
func (s *Service) Refresh(ctx context.Context, force bool) (Summary, error) {
	summary := Summary{StartedAt: s.now().UTC()}

	if !s.cfg.TrackPrices() {
		return summary, ErrTrackingDisabled
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		return summary, ErrRefreshInProgress
	}
	defer s.refreshing.Store(false)

	if !force {
		last, err := s.LastCheckTime(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("read lastCheckTime failed, refreshing anyway")
		}
		if interval := s.cfg.MinRecheckInterval(); !last.IsZero() && interval > 0 && summary.StartedAt.Sub(last) < interval {
			summary.Skipped = true
			summary.Reason = fmt.Sprintf("last check at %s is within %s", last.Format(time.RFC3339), interval)
			return summary, nil
		}
	}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return summary, err
	}
	if !proceed {
		summary.Skipped = true
		summary.Reason = "advisory lock held elsewhere"
		return summary, nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.sync(ctx); err != nil {
		return summary, err
	}

	if err := storage.SetJSON(ctx, s.store, storage.KeyLastCheckTime, summary.StartedAt); err != nil {
		s.logger.Error().Err(err).Msg("persist lastCheckTime failed")
	}

	items := s.ledger.Items()
	summary.Total = len(items)
	results := make(chan observation, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Fetch.Concurrency, 1))
	for _, item := range items {
		g.Go(func() error {
			price, err := s.check(gctx, item)
			results <- observation{article: item.Article, price: price, err: err}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for obs := range results {
		s.apply(obs, &summary)
	}

	summary.Elapsed = s.now().Sub(summary.StartedAt)
	s.logger.Info().
		Int("total", summary.Total).
		Int("checked", summary.Checked).
		Int("updated", summary.Updated).
		Int("dropped", summary.Dropped).
		Int("failed", summary.Failed).
		Dur("elapsed", summary.Elapsed).
		Msg("refresh finished")

	if err := s.persist(ctx); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Service) check(ctx context.Context, item ledger.TrackedItem) (decimal.Decimal, error) {
	target := item.URL
	if target == "" {
		target = s.productURL(item.Article)
	}
	document, err := s.fetcher.Fetch(ctx, target, s.cfg.Fetch.RequestTimeout)
	if err != nil {
		return decimal.Zero, err
	}
	return s.extractor.Extract(document)
}

func (s *Service) apply(obs observation, summary *Summary) {
	logger := s.logger.With().Str("article", obs.article).Logger()
	if obs.err != nil {
		summary.Failed++
		logger.Warn().Err(obs.err).Msg("price check failed")
		return
	}
	summary.Checked++

	update := s.ledger.UpdatePrice(obs.article, obs.price)
	if !update.Changed {
		return
	}
	summary.Updated++
	logger.Info().
		Str("previous", update.Previous.String()).
		Str("price", obs.price.String()).
		Msg("price changed")

	if update.Dropped {
		summary.Dropped++
		s.notifyDrop(update)
	}
}

// Observe feeds one externally obtained price through the ledger and notifier.
func (s *Service) Observe(ctx context.Context, article string, price decimal.Decimal) (ledger.Update, error) {
	if _, ok := s.ledger.Get(article); !ok {
		return ledger.Update{}, fmt.Errorf("%w: %s", ledger.ErrNotTracked, article)
	}
	update := s.ledger.UpdatePrice(article, price)
	if update.Dropped {
		s.notifyDrop(update)
	}
	return update, s.persist(ctx)
}

func (s *Service) notifyDrop(update ledger.Update) {
	item := update.Item
	s.logger.Info().
		Str("article", item.Article).
		Str("previous", update.Previous.String()).
		Str("price", item.CurrentPrice.String()).
		Str("threshold", item.NotificationThreshold.String()).
		Msg("price drop detected")

	if !s.cfg.PriceDropNotifications() || s.notifier == nil {
		return
	}
	s.notifier.Enqueue(alerting.NewDropEvent(item.Name, item.URL, update.Previous, item.CurrentPrice, item.NotificationThreshold))
}

// Import merges a JSON export into the ledger.
func (s *Service) Import(ctx context.Context, data []byte) (ledger.MergeReport, error) {
	items, err := ledger.DecodeImport(data)
	if err != nil {
		return ledger.MergeReport{}, err
	}
	report, err := s.ledger.Merge(items)
	if err != nil {
		s.logger.Warn().Err(err).Msg("import rejected")
		return report, err
	}
	for _, r := range report.Rejected {
		s.logger.Warn().Str("article", r.Article).Err(r.Err).Msg("import record rejected")
	}
	s.logger.Info().
		Int("inserted", len(report.Inserted)).
		Int("merged", len(report.Merged)).
		Int("unchanged", len(report.Unchanged)).
		Int("rejected", len(report.Rejected)).
		Msg("import merged")
	return report, s.persist(ctx)
}

// Export renders the ledger as a JSON array accepted by Import.
func (s *Service) Export(_ context.Context) ([]byte, error) {
	return ledger.EncodeExport(s.ledger.Items(), s.cfg.Export.Indent)
}

// persist writes the ledger snapshot when it changed since the last write.
// Changes other processes stored in the meantime are folded in first.
func (s *Service) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.ledger.Version() == s.persisted {
		return nil
	}
	if err := s.rebase(ctx); err != nil {
		return err
	}

	version := s.ledger.Version()
	items := s.ledger.Items()
	if err := storage.SetJSON(ctx, s.store, storage.KeyTrackedItems, items); err != nil {
		s.logger.Error().Err(err).Msg("persist tracked items failed")
		return fmt.Errorf("persist tracked items: %w", err)
	}
	s.persisted = version
	s.base = items
	return nil
}

// sync picks up items other processes added, removed or changed since the last
// read or write of the trackedItems key.
func (s *Service) sync(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.rebase(ctx)
}

func (s *Service) rebase(ctx context.Context) error {
	stored, err := storage.GetJSON(ctx, s.store, storage.KeyTrackedItems, []ledger.TrackedItem{})
	if err != nil {
		return fmt.Errorf("load tracked items: %w", err)
	}
	report := s.ledger.Rebase(s.base, stored)
	if !report.Empty() {
		s.logger.Info().
			Strs("added", report.Added).
			Strs("removed", report.Removed).
			Strs("replaced", report.Replaced).
			Msg("ledger rebased on stored changes")
	}
	s.base = stored
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (s *Service) productURL(article string) string {
	return fmt.Sprintf(s.cfg.Fetch.ProductURLTemplate, article)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
