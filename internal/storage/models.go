package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured indicates the backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrUnknownDriver indicates an unsupported storage.driver value.
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// Keys used by the tracker.
const (
	KeyTrackedItems  = "trackedItems"
	KeyLastCheckTime = "lastCheckTime"
)

// KV is the persistence collaborator: an opaque key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// AdvisoryLocker is implemented by backends that can coordinate writers across
// processes.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// GetJSON decodes key into a value of T, returning def when the key is absent.
func GetJSON[T any](ctx context.Context, kv KV, key string, def T) (T, error) {
	if kv == nil {
		return def, ErrNotConfigured
	}
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok || len(raw) == 0 {
		return def, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, kv KV, key string, value any) error {
	if kv == nil {
		return ErrNotConfigured
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Set(ctx, key, raw)
}
