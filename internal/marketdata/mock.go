package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/candle"
)

// MockAdapter is a scriptable Adapter test double: Fails governs how many of
// the next Fetch1h calls return an error before Bars is served.
type MockAdapter struct {
	Bars      []candle.RawBar
	Fails     int
	LastClose time.Time
	Snapshot  OHLCSnapshot
}

func (m *MockAdapter) Fetch1h(ctx context.Context, windowHours int, includeForming bool) ([]candle.RawBar, error) {
	if m.Fails > 0 {
		m.Fails--
		return nil, errors.New("mock market data error")
	}
	return m.Bars, nil
}

func (m *MockAdapter) FetchOHLCSnapshot(ctx context.Context, symbol string) (OHLCSnapshot, error) {
	return m.Snapshot, nil
}

func (m *MockAdapter) GetLastClosedHourEnd(ctx context.Context) (time.Time, error) {
	return m.LastClose, nil
}

var _ Adapter = (*MockAdapter)(nil)
