// Package strike resolves option strikes from spot price, side, and an
// ATM/ITM/OTM offset, with a nearest-listed fallback for backtesting against
// a stored option chain.
package strike

import (
	"math"
	"sort"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

// Mode is the moneyness mode requested for strike resolution.
type Mode string

const (
	ModeATM Mode = "ATM"
	ModeITM Mode = "ITM"
	ModeOTM Mode = "OTM"
)

// Step is the strike grid spacing for a given underlying symbol.
func Step(symbol string) int {
	if symbol == "BANKNIFTY" {
		return 100
	}
	return 50
}

// Resolve computes the requested strike: base = round(spot/step)*step,
// then offset signed by side and mode.
func Resolve(spot float64, side models.Side, offset int, mode Mode, step int) int {
	base := int(math.Round(spot/float64(step))) * step
	if mode == ModeATM || offset == 0 {
		return base
	}
	switch side {
	case models.SideCE:
		if mode == ModeITM {
			return base - offset
		}
		return base + offset
	case models.SidePE:
		if mode == ModeITM {
			return base + offset
		}
		return base - offset
	}
	return base
}

// NearestListed returns the listed strike closest to requested among
// listed, breaking ties toward the lower strike (deterministic argmin over
// ascending-sorted candidates).
func NearestListed(requested int, listed []int) (int, bool) {
	if len(listed) == 0 {
		return 0, false
	}
	sorted := append([]int(nil), listed...)
	sort.Ints(sorted)
	for _, s := range sorted {
		if s == requested {
			return s, false // exact match, no fallback occurred
		}
	}
	best := sorted[0]
	bestDiff := abs(best - requested)
	for _, s := range sorted[1:] {
		d := abs(s - requested)
		if d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best, true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
