package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/candle"
)

// CachedAdapter decorates an Adapter with retry-with-backoff and a
// last-successful-dataset fallback: transient errors are retried up to 3
// times with backoff, falling back to a narrower window on
// the final retry. Returns a cached last-successful dataset rather than
// empty if retries are exhausted.
type CachedAdapter struct {
	inner          Adapter
	maxRetries     int
	initialBackoff time.Duration

	mu        sync.Mutex
	lastGood  []candle.RawBar
	haveCache bool
}

// NewCachedAdapter wraps inner with the default 3-retry policy.
func NewCachedAdapter(inner Adapter) *CachedAdapter {
	return &CachedAdapter{inner: inner, maxRetries: 3, initialBackoff: 500 * time.Millisecond}
}

func (c *CachedAdapter) Fetch1h(ctx context.Context, windowHours int, includeForming bool) ([]candle.RawBar, error) {
	backoff := c.initialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		window := windowHours
		if attempt == c.maxRetries {
			// final retry: fall back to a narrower window.
			window = windowHours / 2
			if window < 1 {
				window = windowHours
			}
		}
		bars, err := c.inner.Fetch1h(ctx, window, includeForming)
		if err == nil {
			c.mu.Lock()
			c.lastGood = bars
			c.haveCache = true
			c.mu.Unlock()
			return bars, nil
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return c.cachedOrErr(ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return c.cachedOrErr(lastErr)
}

func (c *CachedAdapter) cachedOrErr(err error) ([]candle.RawBar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveCache {
		return c.lastGood, nil
	}
	return nil, err
}

func (c *CachedAdapter) FetchOHLCSnapshot(ctx context.Context, symbol string) (OHLCSnapshot, error) {
	return c.inner.FetchOHLCSnapshot(ctx, symbol)
}

func (c *CachedAdapter) GetLastClosedHourEnd(ctx context.Context) (time.Time, error) {
	return c.inner.GetLastClosedHourEnd(ctx)
}

var _ Adapter = (*CachedAdapter)(nil)
