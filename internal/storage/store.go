// Package storage persists tracker state behind a small key/value interface.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"price-tracker/internal/config"
	"price-tracker/internal/logging"
)

// Open selects a backend by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (KV, error) {
	logger = logging.Component(logger, "storage")
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "memory":
		logger.Debug().Msg("using in-memory store")
		return NewMemoryStore(), nil
	case "sqlite", "":
		store, err := NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("path", cfg.SQLitePath).Msg("sqlite store opened")
		return store, nil
	case "postgres":
		pool, err := NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Debug().Msg("postgres store opened")
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: storage.postgres.dsn is required", ErrNotConfigured)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
