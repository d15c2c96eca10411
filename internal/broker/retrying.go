package broker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/errs"
)

// RetryConfig governs the RetryingBroker's backoff policy: exponential
// backoff with a 1.5x multiplier and crypto/rand jitter up to a quarter of
// the current backoff.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CallTimeout    time.Duration
	// RateLimit caps steady-state outbound calls; zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultRetryConfig is the policy used when none is supplied.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	CallTimeout:    30 * time.Second,
	RateLimit:      5,
	RateBurst:      10,
}

// RetryingBroker decorates a Broker with bounded exponential-backoff retry
// and a token-bucket rate limiter on outbound calls.
type RetryingBroker struct {
	broker  Broker
	cfg     RetryConfig
	limiter *rate.Limiter
}

// NewRetryingBroker wraps broker with cfg's retry/rate-limit policy.
func NewRetryingBroker(b Broker, cfg RetryConfig) *RetryingBroker {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return &RetryingBroker{broker: b, cfg: cfg, limiter: limiter}
}

func calculateNextBackoff(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > max {
		next = max
	}
	jitterMax := int64(next / 4)
	if jitterMax > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(jitterMax)); err == nil {
			next += time.Duration(n.Int64())
		}
	}
	if next > max {
		next = max
	}
	return next
}

// isTransientError reports whether an error is worth retrying: the
// errs.ErrTransient sentinel, or lowercase-substring heuristics for errors
// from adapters that don't classify.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errs.ErrTransient) {
		return true
	}
	if errors.Is(err, errs.ErrInvalid) || errors.Is(err, errs.ErrFatal) || errors.Is(err, errs.ErrNotFound) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range []string{
		"timeout", "connection refused", "connection reset",
		"429", "502", "503", "504", "dns", "tcp", "eof",
		"temporary", "i/o timeout",
	} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

func (r *RetryingBroker) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("broker: %s: rate limiter: %w", op, err)
		}
	}
	backoff := r.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		}
		lastErr = fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			return nil
		}
		if !isTransientError(lastErr) || attempt == r.cfg.MaxRetries {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = calculateNextBackoff(backoff, r.cfg.MaxBackoff)
	}
	return lastErr
}

// PlaceOrder stamps req with a generated ClientOrderID (if the caller left
// one unset) before retrying, so every retry attempt presents the same
// idempotency key to the adapter and a transient failure can never result in
// a double-placed order.
func (r *RetryingBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.New().String()
	}
	var out OrderResult
	err := r.withRetry(ctx, "PlaceOrder", func(c context.Context) error {
		var e error
		out, e = r.broker.PlaceOrder(c, req)
		return e
	})
	return out, err
}

func (r *RetryingBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var out OrderStatus
	err := r.withRetry(ctx, "GetOrderStatus", func(c context.Context) error {
		var e error
		out, e = r.broker.GetOrderStatus(c, orderID)
		return e
	})
	return out, err
}

func (r *RetryingBroker) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	var out []BrokerPosition
	err := r.withRetry(ctx, "GetPositions", func(c context.Context) error {
		var e error
		out, e = r.broker.GetPositions(c)
		return e
	})
	return out, err
}

func (r *RetryingBroker) GetOptionPrice(ctx context.Context, symbol string, strike int, side Side, expiry time.Time) (float64, error) {
	var out float64
	err := r.withRetry(ctx, "GetOptionPrice", func(c context.Context) error {
		var e error
		out, e = r.broker.GetOptionPrice(c, symbol, strike, side, expiry)
		return e
	})
	return out, err
}

func (r *RetryingBroker) GetAvailableMargin(ctx context.Context) (float64, error) {
	var out float64
	err := r.withRetry(ctx, "GetAvailableMargin", func(c context.Context) error {
		var e error
		out, e = r.broker.GetAvailableMargin(c)
		return e
	})
	return out, err
}

func (r *RetryingBroker) GetOptionExpiries(ctx context.Context, symbol string) ([]time.Time, error) {
	var out []time.Time
	err := r.withRetry(ctx, "GetOptionExpiries", func(c context.Context) error {
		var e error
		out, e = r.broker.GetOptionExpiries(c, symbol)
		return e
	})
	return out, err
}

func (r *RetryingBroker) CancelOrder(ctx context.Context, orderID string) error {
	return r.withRetry(ctx, "CancelOrder", func(c context.Context) error {
		return r.broker.CancelOrder(c, orderID)
	})
}

var _ Broker = (*RetryingBroker)(nil)
