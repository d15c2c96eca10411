package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// MockBroker is a minimal in-memory Broker test double: a
// ShouldFail/FailAfter pair lets tests script a broker that answers its
// first FailAfter calls and fails every call after those.
type MockBroker struct {
	ShouldFail bool
	FailAfter  int
	callCount  int64

	Margin    float64
	Price     float64
	Expiries  []time.Time
	Positions []BrokerPosition
}

func (m *MockBroker) fail() bool {
	n := atomic.AddInt64(&m.callCount, 1)
	return m.ShouldFail && int(n) > m.FailAfter
}

func (m *MockBroker) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if m.fail() {
		return OrderResult{}, errors.New("mock broker error")
	}
	return OrderResult{OK: true, OrderID: "mock-order-1", Tradingsymbol: req.Symbol, Exchange: "NFO"}, nil
}

func (m *MockBroker) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	if m.fail() {
		return OrderStatus{}, errors.New("mock broker error")
	}
	return OrderStatus{Status: StatusComplete}, nil
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	if m.fail() {
		return nil, errors.New("mock broker error")
	}
	return m.Positions, nil
}

func (m *MockBroker) GetOptionPrice(ctx context.Context, symbol string, strike int, side Side, expiry time.Time) (float64, error) {
	if m.fail() {
		return 0, errors.New("mock broker error")
	}
	if m.Price != 0 {
		return m.Price, nil
	}
	return 100, nil
}

func (m *MockBroker) GetAvailableMargin(ctx context.Context) (float64, error) {
	if m.fail() {
		return 0, errors.New("mock broker error")
	}
	if m.Margin != 0 {
		return m.Margin, nil
	}
	return 1000.0, nil
}

func (m *MockBroker) GetOptionExpiries(ctx context.Context, symbol string) ([]time.Time, error) {
	if m.fail() {
		return nil, errors.New("mock broker error")
	}
	return m.Expiries, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error {
	if m.fail() {
		return errors.New("mock broker error")
	}
	return nil
}

var _ Broker = (*MockBroker)(nil)
