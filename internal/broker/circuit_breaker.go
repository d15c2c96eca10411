package broker

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// CircuitBreakerSettings mirrors gobreaker.Settings' tunable fields so
// callers do not need to import gobreaker directly.
type CircuitBreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

func (s CircuitBreakerSettings) toGobreaker(name string) gobreaker.Settings {
	minRequests := s.MinRequests
	if minRequests == 0 {
		minRequests = 1
	}
	failureRatio := s.FailureRatio
	if failureRatio == 0 {
		failureRatio = 0.6
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= minRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatio
		},
	}
}

// DefaultCircuitBreakerSettings allows a handful of trial requests in
// half-open, with a short interval and a 30s cool-down.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

// CircuitBreakerBroker decorates a Broker with a gobreaker circuit breaker,
// tripping on a burst of failed broker calls (order placement, quote fetch,
// margin checks) so the runner does not hammer a broker that is down.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreakerBroker wraps broker with the default circuit breaker
// settings.
func NewCircuitBreakerBroker(b Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerBrokerWithSettings wraps broker with custom settings, for
// tests that need a fast-tripping breaker.
func NewCircuitBreakerBrokerWithSettings(b Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	return &CircuitBreakerBroker{
		broker:  b,
		breaker: gobreaker.NewCircuitBreaker[any](settings.toGobreaker("broker")),
	}
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	result, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	return execute(c.breaker, func() (OrderResult, error) { return c.broker.PlaceOrder(ctx, req) })
}

func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	return execute(c.breaker, func() (OrderStatus, error) { return c.broker.GetOrderStatus(ctx, orderID) })
}

func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	return execute(c.breaker, func() ([]BrokerPosition, error) { return c.broker.GetPositions(ctx) })
}

func (c *CircuitBreakerBroker) GetOptionPrice(ctx context.Context, symbol string, strike int, side Side, expiry time.Time) (float64, error) {
	return execute(c.breaker, func() (float64, error) {
		return c.broker.GetOptionPrice(ctx, symbol, strike, side, expiry)
	})
}

func (c *CircuitBreakerBroker) GetAvailableMargin(ctx context.Context) (float64, error) {
	return execute(c.breaker, func() (float64, error) { return c.broker.GetAvailableMargin(ctx) })
}

func (c *CircuitBreakerBroker) GetOptionExpiries(ctx context.Context, symbol string) ([]time.Time, error) {
	return execute(c.breaker, func() ([]time.Time, error) { return c.broker.GetOptionExpiries(ctx, symbol) })
}

func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execute(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.broker.CancelOrder(ctx, orderID)
	})
	return err
}

var _ Broker = (*CircuitBreakerBroker)(nil)
