package pattern

import (
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

// Signal is the minimal range/cursor information the breakout checker needs;
// it matches an ActiveSignal's range fields.
type Signal struct {
	RangeHigh     float64
	RangeLow      float64
	InsideBarTime time.Time
}

// CheckBreakout scans candles by timestamp (not index) for the first candle,
// strictly after the signal's inside-bar time, whose close breaches the
// signal's range. Returns ok=false if no breakout has occurred yet.
func CheckBreakout(candles []models.Candle, sig Signal) (ev models.BreakoutEvent, ok bool) {
	for _, c := range candles {
		if !c.Timestamp.After(sig.InsideBarTime) {
			continue
		}
		switch {
		case c.Close > sig.RangeHigh:
			return models.BreakoutEvent{
				Direction:          models.SideCE,
				BreakoutCandleTime: c.Timestamp,
				BreakoutClose:      c.Close,
			}, true
		case c.Close < sig.RangeLow:
			return models.BreakoutEvent{
				Direction:          models.SidePE,
				BreakoutCandleTime: c.Timestamp,
				BreakoutClose:      c.Close,
			}, true
		}
	}
	return models.BreakoutEvent{}, false
}

// DefaultMissedGrace is the grace window after which a detected breakout is
// classified as a missed trade rather than executed.
const DefaultMissedGrace = 5 * time.Minute

// IsMissed reports whether a breakout, detected at evaluation time now,
// closed more than grace before now.
func IsMissed(ev models.BreakoutEvent, now time.Time, grace time.Duration) bool {
	return now.Sub(ev.BreakoutCandleTime.Add(time.Hour)) > grace
}
