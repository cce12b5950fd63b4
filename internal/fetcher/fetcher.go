package fetcher

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNetwork covers transport failures and non-2xx responses.
	ErrNetwork = errors.New("fetcher: network error")
	// ErrTimeout indicates the per-request deadline elapsed.
	ErrTimeout = errors.New("fetcher: timeout")
)

// DocumentFetcher retrieves the raw markup of a product page.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (string, error)
}
