package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"price-tracker/internal/logging"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 8 << 20
	defaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) pricetracker/1.0"
	sniffWindow         = 1024
)

var metaCharset = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?([a-z0-9_\-]+)`)

// HTTPOptions parameterise the HTTP fetcher.
type HTTPOptions struct {
	Timeout        time.Duration
	RatePerSecond  float64
	Burst          int
	UserAgent      string
	AcceptLanguage string
	MaxBodyBytes   int64
}

// HTTP fetches product pages over net/http with global pacing.
type HTTP struct {
	opts    HTTPOptions
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewHTTP constructs an HTTP fetcher.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTP{
		opts:    opts,
		client:  &http.Client{Transport: transport},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logging.Component(logger, "http_fetcher"),
	}
}

// Fetch downloads url and returns the body decoded to UTF-8. A zero timeout uses
// the configured default. Failures wrap ErrTimeout or ErrNetwork.
func (h *HTTP) Fetch(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = h.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter wait: %v", ErrTimeout, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrNetwork, err)
	}
	req.Header.Set("User-Agent", h.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if h.opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", h.opts.AcceptLanguage)
	}

	started := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return "", classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: unexpected status %d from %s", ErrNetwork, resp.StatusCode, url)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.opts.MaxBodyBytes+1))
	if err != nil {
		return "", classify(ctx, fmt.Errorf("read body: %w", err))
	}
	// A truncated page could yield a wrong price.
	if int64(len(raw)) > h.opts.MaxBodyBytes {
		h.logger.Warn().Str("url", url).Int64("max_body_bytes", h.opts.MaxBodyBytes).Msg("response body over limit")
		return "", fmt.Errorf("%w: response from %s exceeds %d bytes", ErrNetwork, url, h.opts.MaxBodyBytes)
	}

	body, charset, err := decodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		h.logger.Warn().Err(err).Str("url", url).Msg("charset decode failed, using raw bytes")
		body = string(raw)
	}

	h.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("bytes", len(raw)).
		Str("charset", charset).
		Dur("elapsed", time.Since(started)).
		Msg("document fetched")
	return body, nil
}

// decodeBody converts raw to UTF-8 using the Content-Type charset, falling back
// to a <meta charset> declaration near the start of the document.
func decodeBody(raw []byte, contentType string) (string, string, error) {
	charset := ""
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			charset = params["charset"]
		}
	}
	if charset == "" {
		window := raw
		if len(window) > sniffWindow {
			window = window[:sniffWindow]
		}
		if m := metaCharset.FindSubmatch(window); m != nil {
			charset = string(m[1])
		}
	}
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(raw), "utf-8", nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", charset, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(raw)))
	if err != nil {
		return "", charset, fmt.Errorf("decode %s: %w", charset, err)
	}
	return string(decoded), charset, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

var _ DocumentFetcher = (*HTTP)(nil)
