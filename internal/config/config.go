package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"price-tracker/internal/logging"
)

// DefaultMaxTrackedItems is the build-defined floor for tracking.max_tracked_items.
const DefaultMaxTrackedItems = 50

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and tunes the key/value persistence backend.
type StorageConfig struct {
	Driver     string         `mapstructure:"driver"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig encapsulates PostgreSQL connectivity.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// FetchConfig covers retrieval of product pages.
type FetchConfig struct {
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	Concurrency        int           `mapstructure:"concurrency"`
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	Burst              int           `mapstructure:"burst"`
	UserAgent          string        `mapstructure:"user_agent"`
	AcceptLanguage     string        `mapstructure:"accept_language"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	ProductURLTemplate string        `mapstructure:"product_url_template"`
}

// TrackingConfig holds ledger limits and check cadence.
type TrackingConfig struct {
	TrackPrices        bool          `mapstructure:"track_prices"`
	MaxTrackedItems    int           `mapstructure:"max_tracked_items"`
	MinRecheckInterval time.Duration `mapstructure:"min_recheck_interval"`
	DefaultThreshold   float64       `mapstructure:"default_threshold"`
	FallbackPriceFloor float64       `mapstructure:"fallback_price_floor"`
}

// FeaturesConfig carries page-enhancement toggles. The engine only reports them.
type FeaturesConfig struct {
	SortReviews       bool `mapstructure:"sort_reviews"`
	ExpandDescription bool `mapstructure:"expand_description"`
}

// AlertingConfig defines drop notification routing.
type AlertingConfig struct {
	PriceDropNotifications bool           `mapstructure:"price_drop_notifications"`
	AckTimeout             time.Duration  `mapstructure:"ack_timeout"`
	Telegram               TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Indent bool `mapstructure:"indent"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICETRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricetracker")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "pricetracker.db")
	v.SetDefault("storage.postgres.max_open_conns", 4)
	v.SetDefault("storage.postgres.max_idle_conns", 1)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f7a6f6e))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("fetch.request_timeout", "15s")
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.rate_per_second", 2.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (X11; Linux x86_64) pricetracker/1.0")
	v.SetDefault("fetch.accept_language", "ru-RU,ru;q=0.9,en;q=0.8")
	v.SetDefault("fetch.max_body_bytes", int64(8<<20))
	v.SetDefault("fetch.product_url_template", "https://www.ozon.by/product/%s/")

	v.SetDefault("tracking.track_prices", true)
	v.SetDefault("tracking.max_tracked_items", DefaultMaxTrackedItems)
	v.SetDefault("tracking.min_recheck_interval", "30m")
	v.SetDefault("tracking.default_threshold", 0.2)
	v.SetDefault("tracking.fallback_price_floor", 1.0)

	v.SetDefault("features.sort_reviews", true)
	v.SetDefault("features.expand_description", true)

	v.SetDefault("alerting.price_drop_notifications", true)
	v.SetDefault("alerting.ack_timeout", "30s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.indent", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q is not supported (memory, sqlite, postgres)", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path must be set for the sqlite driver")
	}
	if c.Storage.Driver == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn must be set for the postgres driver")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Fetch.RequestTimeout <= 0 {
		return fmt.Errorf("fetch.request_timeout must be greater than zero")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be greater than zero")
	}
	if c.Fetch.RatePerSecond < 0 {
		return fmt.Errorf("fetch.rate_per_second cannot be negative")
	}
	if !strings.Contains(c.Fetch.ProductURLTemplate, "%s") {
		return fmt.Errorf("fetch.product_url_template must contain %%s for the article")
	}
	if c.Tracking.DefaultThreshold <= 0 {
		return fmt.Errorf("tracking.default_threshold must be greater than zero")
	}
	if c.Tracking.MinRecheckInterval < 0 {
		return fmt.Errorf("tracking.min_recheck_interval cannot be negative")
	}
	if c.Tracking.FallbackPriceFloor < 0 {
		return fmt.Errorf("tracking.fallback_price_floor cannot be negative")
	}
	if c.Alerting.AckTimeout <= 0 {
		return fmt.Errorf("alerting.ack_timeout must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// TrackPrices reports whether refresh cycles should run at all.
func (c *Config) TrackPrices() bool { return c.Tracking.TrackPrices }

// PriceDropNotifications reports whether drop events are queued for delivery.
func (c *Config) PriceDropNotifications() bool { return c.Alerting.PriceDropNotifications }

// SortReviews reports the review sorting toggle.
func (c *Config) SortReviews() bool { return c.Features.SortReviews }

// ExpandDescription reports the description expansion toggle.
func (c *Config) ExpandDescription() bool { return c.Features.ExpandDescription }

// MaxTrackedItems returns the ledger capacity. It never drops below DefaultMaxTrackedItems.
func (c *Config) MaxTrackedItems() int {
	if c.Tracking.MaxTrackedItems < DefaultMaxTrackedItems {
		return DefaultMaxTrackedItems
	}
	return c.Tracking.MaxTrackedItems
}

// DefaultThreshold returns the notification threshold given to new items.
func (c *Config) DefaultThreshold() decimal.Decimal {
	return decimal.NewFromFloat(c.Tracking.DefaultThreshold)
}

// FallbackPriceFloor returns the stricter floor used by the fallback extraction scan.
func (c *Config) FallbackPriceFloor() decimal.Decimal {
	return decimal.NewFromFloat(c.Tracking.FallbackPriceFloor)
}

// MinRecheckInterval returns the minimum spacing between two ledger-wide refreshes.
func (c *Config) MinRecheckInterval() time.Duration { return c.Tracking.MinRecheckInterval }
