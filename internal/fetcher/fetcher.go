package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/certamo/internal/policy"
	"github.com/certamo/pkg/metrics"
	"go.uber.org/zap"
)

var (
	ErrDisallowedHost  = errors.New("asset host is not on the allow-list")
	ErrPayloadTooLarge = errors.New("asset exceeds the configured size limit")
	ErrFetchTimeout    = errors.New("asset fetch timed out")
	ErrUpstream        = errors.New("upstream returned an error")
)

// Fetcher retrieves stored certificate assets from the CDN. It enforces the
// host allow-list, a network timeout separate from the request timeout, and
// an incremental payload size cap. A failed fetch is surfaced immediately;
// retrying is the caller's business.
type Fetcher struct {
	client   *http.Client
	checker  *policy.Checker
	maxBytes int64
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
}

func NewFetcher(
	checker *policy.Checker,
	timeout time.Duration,
	maxBytes int64,
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// redirects may not escape the allow-list either
				if !checker.AllowedAssetURL(req.URL.String()) {
					return ErrDisallowedHost
				}
				return nil
			},
		},
		checker:  checker,
		maxBytes: maxBytes,
		logger:   logger.With(zap.String("component", "fetcher")),
		metrics:  collector,
	}
}

// Fetch downloads the asset at url. The allow-list is checked before any
// connection is opened.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if !f.checker.AllowedAssetURL(url) {
		f.logger.Warn("Rejected asset fetch for disallowed host")
		f.metrics.IncrementCounter("asset_fetch_rejected", nil)
		return nil, ErrDisallowedHost
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			f.metrics.IncrementCounter("asset_fetch_timeout", nil)
			return nil, ErrFetchTimeout
		}
		f.metrics.IncrementCounter("asset_fetch_error", nil)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Warn("Upstream returned non-success status",
			zap.Int("status", resp.StatusCode))
		f.metrics.IncrementCounter("asset_fetch_error", nil)
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	if resp.ContentLength > f.maxBytes {
		f.metrics.IncrementCounter("asset_fetch_too_large", nil)
		return nil, ErrPayloadTooLarge
	}

	// Read at most one byte past the limit so oversized bodies are
	// detected without buffering the whole transfer.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			f.metrics.IncrementCounter("asset_fetch_timeout", nil)
			return nil, ErrFetchTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if int64(len(body)) > f.maxBytes {
		f.metrics.IncrementCounter("asset_fetch_too_large", nil)
		return nil, ErrPayloadTooLarge
	}

	f.metrics.ObserveLatency("asset_fetch", time.Since(start))
	f.metrics.ObserveSize("asset_fetch_bytes", float64(len(body)))
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
