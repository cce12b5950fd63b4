package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-tracker/internal/alerting"
	"price-tracker/internal/config"
	"price-tracker/internal/extract"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/ledger"
	"price-tracker/internal/logging"
	"price-tracker/internal/scheduler"
	"price-tracker/internal/service"
	"price-tracker/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	root zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout, root: logger}
}

// runtime bundles what one command needs; close releases it.
type runtime struct {
	svc      *service.Service
	notifier *alerting.Notifier
	close    func()
}

func (a *App) newFetcher() fetcher.DocumentFetcher {
	cfg := a.Config.Fetch
	return fetcher.NewHTTP(fetcher.HTTPOptions{
		Timeout:        cfg.RequestTimeout,
		RatePerSecond:  cfg.RatePerSecond,
		Burst:          cfg.Burst,
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.AcceptLanguage,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	}, a.root)
}

func (a *App) newNotifier() *alerting.Notifier {
	var deliverer alerting.Deliverer
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		deliverer = alerting.NewTelegramDeliverer(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.root)
	}
	return alerting.NewNotifier(deliverer, alerting.NewLogAcknowledger(a.root), a.Config.Alerting.AckTimeout, a.root)
}

func (a *App) newExtractor() *extract.Extractor {
	opts := extract.DefaultOptions()
	opts.FallbackFloor = a.Config.FallbackPriceFloor()
	return extract.NewDefault(opts, a.root)
}

// open builds the service over the configured store and restores the ledger.
func (a *App) open(ctx context.Context) (*runtime, error) {
	store, err := storage.Open(ctx, a.Config.Storage, a.root)
	if err != nil {
		return nil, err
	}
	if a.Config.Storage.Driver == "memory" {
		a.Logger.Warn().Msg("storage.driver=memory; tracked items are lost on exit")
	}

	led := ledger.New(ledger.Options{
		Capacity:         a.Config.MaxTrackedItems(),
		DefaultThreshold: a.Config.DefaultThreshold(),
	})
	notifier := a.newNotifier()
	svc := service.New(a.Config, led, a.newExtractor(), a.newFetcher(), store, notifier, a.root)

	if err := svc.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &runtime{
		svc:      svc,
		notifier: notifier,
		close: func() {
			if err := store.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close store failed")
			}
		},
	}, nil
}

// drainNotifications runs the notifier until every queued event is acknowledged,
// bounded by alerting.ack_timeout per event.
func (a *App) drainNotifications(ctx context.Context, notifier *alerting.Notifier) {
	pending := notifier.Pending()
	if pending == 0 {
		return
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = notifier.Run(runCtx) }()

	drainCtx, cancel := context.WithTimeout(ctx, time.Duration(pending)*a.Config.Alerting.AckTimeout+time.Second)
	defer cancel()
	if !notifier.Drain(drainCtx) {
		a.Logger.Warn().Int("pending", notifier.Pending()).Msg("notifications not drained before exit")
	}
}

// Run executes the long-running tracker: scheduled refreshes plus notification delivery.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.root)

	notifierDone := make(chan struct{})
	go func() {
		defer close(notifierDone)
		if err := rt.notifier.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("notifier stopped")
		}
	}()

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Int("items", len(rt.svc.Items())).
		Msg("starting price tracker")
	err = rt.svc.Run(ctx, sched)
	<-notifierDone
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price tracker stopped")
	return nil
}

// TrackOptions select how a product is captured.
type TrackOptions struct {
	URL     string
	Article string
}

// RefreshOptions configure a one-shot refresh.
type RefreshOptions struct {
	Force bool
}

// ExportOptions hold output paths for an export.
type ExportOptions struct {
	OutPath string
	CSVPath string
}
