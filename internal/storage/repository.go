package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	postgresMigrationSQL = `CREATE TABLE IF NOT EXISTS tracker_kv (
        key        TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	getValueSQL = `SELECT value FROM tracker_kv WHERE key = $1;`

	upsertValueSQL = `INSERT INTO tracker_kv (
        key,
        value,
        updated_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (key) DO UPDATE
    SET
        value      = EXCLUDED.value,
        updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_xact_lock($1);`
)

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore keeps tracker keys in the tracker_kv table.
type PostgresStore struct {
	pool Pool
}

// NewPostgresStore wires a pool into a PostgresStore.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tracker_kv table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, postgresMigrationSQL); err != nil {
		return fmt.Errorf("migrate tracker_kv: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Get reads key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	var value string
	if err := pool.QueryRow(ctx, getValueSQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// Set upserts key.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, upsertValueSQL, key, string(value), time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// TryAdvisoryLock takes a transaction-scoped advisory lock. The returned unlock
// ends the transaction, which releases the lock.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin advisory lock tx: %w", err)
	}

	var acquired bool
	if err := tx.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tx.Rollback(ctxUnlock)
	}
	return unlock, true, nil
}

func (s *PostgresStore) getPool() (Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

var (
	_ KV             = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
