package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

func mustIST(h, m int, day int) time.Time {
	return time.Date(2024, time.January, day, h, m, 0, 0, IST)
}

func candle(day, h, m int, o, hi, lo, c float64) models.Candle {
	return models.Candle{Timestamp: mustIST(h, m, day), Open: o, High: hi, Low: lo, Close: c}
}

// TestBreakoutEntryThenStopLoss walks a full round trip: an inside bar at
// 11:15, a CE breakout at 12:15, entry at 13:15's open, and a stop-loss hit
// by the same bar's low.
func TestBreakoutEntryThenStopLoss(t *testing.T) {
	spot := []models.Candle{
		candle(1, 9, 15, 100, 110, 95, 105),
		candle(1, 10, 15, 105, 120, 100, 118), // parent
		candle(1, 11, 15, 116, 119, 101, 115), // inside bar
		candle(1, 12, 15, 115, 125, 114, 122), // CE breakout: 122 > 120
		candle(1, 13, 15, 120, 130, 88, 95),   // entry bar: open 120, low 88 <= sl 90
	}
	rules := DefaultRules()
	rules.LotSize = 1
	rules.SLPoints = 30
	rules.Book1Points = 54
	rules.Book2Points = 1000 // unreachable
	rules.Book1Ratio = 1

	// Stored option OHLC for the resolved contract: entry bar opens at 120,
	// its low 88 pierces the 90 stop.
	option := []models.Candle{candle(1, 13, 15, 120, 130, 88, 95)}

	res, err := Run(Inputs{
		Symbol:         "NIFTY",
		SpotCandles:    spot,
		Expiries:       []time.Time{mustIST(15, 30, 10)},
		InitialCapital: 1_000_000,
		Chain:          func(models.OptionContract) ([]models.Candle, bool) { return option, true },
	}, rules)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, models.SideCE, tr.Direction)
	assert.Equal(t, 90.0, tr.StopLoss)
	assert.Equal(t, 90.0, tr.Exit)
	assert.Equal(t, "SL_HIT", tr.ExitReason)
	assert.InDelta(t, -30.0, tr.PnL, 1e-9)
	assert.False(t, tr.Synthetic)
}

// TestTierOneBookingThenTrailExit covers a tier-1 partial booking followed
// by a trailing-stop exit on the remainder.
func TestTierOneBookingThenTrailExit(t *testing.T) {
	rules := DefaultRules()
	rules.LotSize = 1
	rules.TotalLots = 2
	rules.SLPoints = 30
	rules.TrailPoints = 10
	rules.Book1Points = 40
	rules.Book1Ratio = 0.5
	rules.Book2Points = 54
	rules.BeAtR = 0 // isolate trailing behavior from breakeven lock

	// Each bar is a flat tick (O=H=L=C) so the premium path reads like a
	// quote sequence at 1h-bar granularity: 100 (entry) -> 142 -> 150 -> 119.
	bars := []models.Candle{
		candle(1, 13, 15, 100, 100, 100, 100),
		candle(1, 14, 15, 142, 142, 142, 142), // tier-1 fires (142 >= 140); trailing anchor -> 140
		candle(1, 15, 15, 150, 150, 150, 150), // trailing anchor -> 150, sl -> 120
		candle(1, 16, 15, 119, 119, 119, 119), // low 119 <= sl 120: trail exit at the stop price
	}
	tr := simulatePosition(bars, 100, rules)

	assert.Equal(t, "TRAIL_EXIT", tr.ExitReason)
	assert.Equal(t, 120.0, tr.Exit)
	assert.InDelta(t, (142-100)*1*1+(120-100)*1*1, tr.PnL, 1e-9)
}

// TestNearestStrikeFallback: a requested strike with no listed contract
// falls back to the nearer of two equidistant candidates, breaking the tie
// toward the lower strike.
func TestNearestStrikeFallback(t *testing.T) {
	spot := []models.Candle{
		candle(1, 9, 15, 24000, 24050, 23950, 24010),
		candle(1, 10, 15, 24010, 24300, 23980, 24090), // parent, range high 24300
		candle(1, 11, 15, 24030, 24095, 23990, 24060), // inside bar
		candle(1, 12, 15, 24060, 24360, 24055, 24351), // CE breakout: 24351 > 24300
		candle(1, 13, 15, 24351, 24360, 24340, 24355), // entry bar
		candle(1, 14, 15, 24355, 24400, 24350, 24390), // time exit bar
	}
	rules := DefaultRules()
	rules.LotSize = 1
	rules.SLPoints = 10000 // unreachable, force a time exit
	rules.Book1Points = 10000
	rules.Book2Points = 10000

	chainByStrike := map[int][]models.Candle{
		24300: {candle(1, 13, 15, 30, 40, 25, 35), candle(1, 14, 15, 35, 45, 30, 40)},
		24400: {candle(1, 13, 15, 30, 40, 25, 35), candle(1, 14, 15, 35, 45, 30, 40)},
	}

	res, err := Run(Inputs{
		Symbol:         "NIFTY",
		SpotCandles:    spot,
		Expiries:       []time.Time{mustIST(15, 30, 10)},
		InitialCapital: 1_000_000,
		Chain: func(c models.OptionContract) ([]models.Candle, bool) {
			bars, ok := chainByStrike[c.Strike]
			return bars, ok
		},
		ListedStrikes: func(expiry time.Time, side models.Side) []int {
			return []int{24300, 24400}
		},
	}, rules)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, 24350, tr.RequestedStrike)
	assert.Equal(t, 24300, tr.Strike)
	assert.True(t, tr.StrikeFallback)
	assert.False(t, tr.Synthetic)
}
