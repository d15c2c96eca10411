// Package broker defines the contract the live runner and position monitor
// require from any options broker, plus decorators that add
// resilience (circuit breaking, rate-limited retry) around a concrete
// adapter without the core ever seeing authentication or wire-format
// concerns.
package broker

import (
	"context"
	"time"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Txn is the transaction direction.
type Txn string

const (
	TxnBuy  Txn = "BUY"
	TxnSell Txn = "SELL"
)

// Side is the option side.
type Side string

const (
	SideCE Side = "CE"
	SidePE Side = "PE"
)

// OrderStatusKind is the broker-reported lifecycle state of an order.
type OrderStatusKind string

const (
	StatusPending   OrderStatusKind = "PENDING"
	StatusOpen      OrderStatusKind = "OPEN"
	StatusComplete  OrderStatusKind = "COMPLETE"
	StatusFilled    OrderStatusKind = "FILLED"
	StatusRejected  OrderStatusKind = "REJECTED"
	StatusCancelled OrderStatusKind = "CANCELLED"
	StatusNotFound  OrderStatusKind = "NOT_FOUND"
)

// IsTerminal reports whether further polling of this order is pointless.
func (k OrderStatusKind) IsTerminal() bool {
	switch k {
	case StatusComplete, StatusFilled, StatusRejected, StatusCancelled, StatusNotFound:
		return true
	default:
		return false
	}
}

// OrderRequest is the input to PlaceOrder.
type OrderRequest struct {
	Symbol    string // underlying, e.g. NIFTY
	Strike    int
	Side      Side
	Lots      int
	OrderType OrderType
	Price     float64 // used when OrderType == Limit
	Txn       Txn
	Expiry    time.Time
	// ClientOrderID is an idempotency key; adapters that support it echo it
	// back so retries do not double-place an order.
	ClientOrderID string
}

// OrderResult is the output of PlaceOrder.
type OrderResult struct {
	OK            bool
	OrderID       string
	Tradingsymbol string
	SymbolToken   string
	Exchange      string
	Message       string
}

// OrderStatus is the output of GetOrderStatus.
type OrderStatus struct {
	Status OrderStatusKind
	Raw    map[string]any
}

// BrokerPosition is one row of GetPositions.
type BrokerPosition struct {
	Tradingsymbol string
	NetQty        int
	AvgPrice      float64
	LTP           float64
}

// Broker is the contract required from any options broker adapter.
// Concrete wire format is adapter-specific; session lazy-init and
// auto-refresh is the adapter's responsibility, never the caller's.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	GetOptionPrice(ctx context.Context, symbol string, strike int, side Side, expiry time.Time) (float64, error)
	GetAvailableMargin(ctx context.Context) (float64, error)
	GetOptionExpiries(ctx context.Context, symbol string) ([]time.Time, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// LotSize returns the broker-defined units-per-lot for symbol, encapsulating
// the NIFTY/BANKNIFTY lot-size-by-epoch knowledge so the core never has to.
func LotSize(symbol string, asOf time.Time) int {
	switch symbol {
	case "BANKNIFTY":
		// BANKNIFTY lot size changed from 25 to 15 effective 2023-07-21.
		cutover := time.Date(2023, 7, 21, 0, 0, 0, 0, time.UTC)
		if asOf.Before(cutover) {
			return 25
		}
		return 15
	default: // NIFTY and others default to the NIFTY lot size.
		return 75
	}
}
