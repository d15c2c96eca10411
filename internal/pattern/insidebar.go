// Package pattern implements inside-bar detection and breakout confirmation
// over a sequence of complete 1h candles.
package pattern

import (
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

// isInside reports whether child is strictly contained in parent's range.
func isInside(parent, child models.Candle) bool {
	return child.High < parent.High && child.Low > parent.Low
}

func toInsideBar(parentIdx, childIdx int, candles []models.Candle) models.InsideBar {
	parent, child := candles[parentIdx], candles[childIdx]
	return models.InsideBar{
		ParentIndex:   parentIdx,
		ChildIndex:    childIdx,
		RangeHigh:     parent.High,
		RangeLow:      parent.Low,
		SignalTime:    parent.Timestamp,
		InsideBarTime: child.Timestamp,
	}
}

// ScanAll returns every inside-bar occurrence in candles, in ascending
// timestamp order. Candles must already be complete (forming bars excluded).
func ScanAll(candles []models.Candle) []models.InsideBar {
	var out []models.InsideBar
	for i := 1; i < len(candles); i++ {
		if isInside(candles[i-1], candles[i]) {
			out = append(out, toInsideBar(i-1, i, candles))
		}
	}
	return out
}

// LatestActive scans from the most recent candle backward and returns the
// first (most recent) inside-bar occurrence. ok is false if none exists.
func LatestActive(candles []models.Candle) (ib models.InsideBar, ok bool) {
	for i := len(candles) - 1; i >= 1; i-- {
		if isInside(candles[i-1], candles[i]) {
			return toInsideBar(i-1, i, candles), true
		}
	}
	return models.InsideBar{}, false
}
