// Package marketdata defines the contract the candle aligner and position
// monitor require for fetching historical candles and live quotes,
// plus a caching/retrying decorator.
package marketdata

import (
	"context"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/candle"
)

// OHLCSnapshot is a forming-bar quote merged into the latest aligned candle.
type OHLCSnapshot struct {
	Open, High, Low, Close float64
	Volume                 float64
}

// Adapter is the market-data contract required by the candle aligner,
// pattern detectors, and position monitor.
type Adapter interface {
	// Fetch1h returns NSE-aligned 1h candles covering the trailing
	// windowHours. includeForming controls whether the last (incomplete)
	// bucket is present.
	Fetch1h(ctx context.Context, windowHours int, includeForming bool) ([]candle.RawBar, error)
	FetchOHLCSnapshot(ctx context.Context, symbol string) (OHLCSnapshot, error)
	GetLastClosedHourEnd(ctx context.Context) (time.Time, error)
}
