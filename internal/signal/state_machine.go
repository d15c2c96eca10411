// Package signal owns the lifecycle of a single active inside-bar signal:
// None -> Armed -> {Consumed, MissedExpired} -> None.
//
// The transition table is precomputed at init time: a nested map keyed by
// (from, to) guards Transition against illegal state changes.
package signal

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

// State is the signal lifecycle state.
type State string

const (
	StateNone          State = "none"
	StateArmed         State = "armed"
	StateConsumed      State = "consumed"
	StateMissedExpired State = "missed_expired"
)

var validTransitions = []struct{ from, to State }{
	{StateNone, StateArmed},
	{StateArmed, StateArmed},    // re-armed on same or superseding inside bar
	{StateArmed, StateConsumed},
	{StateArmed, StateMissedExpired},
	{StateConsumed, StateNone},
	{StateMissedExpired, StateNone},
}

var transitionLookup map[State]map[State]bool

func init() {
	transitionLookup = make(map[State]map[State]bool, len(validTransitions))
	for _, tr := range validTransitions {
		if transitionLookup[tr.from] == nil {
			transitionLookup[tr.from] = make(map[State]bool)
		}
		transitionLookup[tr.from][tr.to] = true
	}
}

// Outcome is what a single Evaluate call produced, for the runner to act on.
type Outcome int

const (
	OutcomeNoChange Outcome = iota
	OutcomeArmed
	OutcomeConsumed
	OutcomeMissedExpired
)

// Machine owns one ActiveSignal for one symbol. Not safe for concurrent use;
// the live runner is its single writer.
type Machine struct {
	state  State
	signal *models.ActiveSignal

	missedGrace time.Duration
}

// NewMachine returns a Machine starting in StateNone.
func NewMachine(missedGrace time.Duration) *Machine {
	if missedGrace <= 0 {
		missedGrace = 5 * time.Minute
	}
	return &Machine{state: StateNone, missedGrace: missedGrace}
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Signal returns the currently armed signal, or nil if not armed.
func (m *Machine) Signal() *models.ActiveSignal { return m.signal }

func (m *Machine) transition(to State) error {
	allowed := transitionLookup[m.state]
	if allowed == nil || !allowed[to] {
		return fmt.Errorf("signal: illegal transition %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

// DetectFunc and BreakoutFunc let tests inject fixtures without the Machine
// importing the pattern package directly.
type DetectFunc func() (models.InsideBar, bool)
type BreakoutFunc func(models.ActiveSignal) (models.BreakoutEvent, bool)

// Result carries everything the runner needs after one Evaluate call. Signal
// is only populated alongside a Consumed or MissedExpired outcome: it is the
// ActiveSignal the breakout was actually checked against (after any re-arm
// earlier in the same Evaluate call), so the runner can build the
// duplicate-suppression fingerprint and journal row without racing a
// same-cycle re-arm.
type Result struct {
	Outcome  Outcome
	Breakout models.BreakoutEvent
	Signal   models.ActiveSignal
}

// Evaluate runs one control-loop cycle's worth of signal-machine logic:
// re-arm/replace on a newer inside bar, then check for breakout on any
// armed signal.
func (m *Machine) Evaluate(now time.Time, detect DetectFunc, breakout BreakoutFunc) (Result, error) {
	ib, found := detect()
	if found {
		if m.signal == nil || ib.InsideBarTime.After(m.signal.InsideBarTime) {
			if m.state == StateNone {
				if err := m.transition(StateArmed); err != nil {
					return Result{}, err
				}
			}
			m.signal = &models.ActiveSignal{
				RangeHigh:        ib.RangeHigh,
				RangeLow:         ib.RangeLow,
				InsideBarTime:    ib.InsideBarTime,
				SignalCandleTime: ib.SignalTime,
				CreatedAt:        now,
			}
		}
		// same inside bar: keep existing signal including CreatedAt.
	}
	// found == false: keep whatever signal we already hold (signals persist
	// across cycles until consumed or superseded).

	if m.state != StateArmed || m.signal == nil {
		return Result{Outcome: OutcomeNoChange}, nil
	}

	ev, ok := breakout(*m.signal)
	if !ok {
		return Result{Outcome: OutcomeNoChange}, nil
	}
	evaluatedSignal := *m.signal

	closeTime := ev.BreakoutCandleTime.Add(time.Hour)
	missed := now.Sub(closeTime) > m.missedGrace
	if missed {
		if err := m.transition(StateMissedExpired); err != nil {
			return Result{}, err
		}
	} else {
		if err := m.transition(StateConsumed); err != nil {
			return Result{}, err
		}
	}
	m.signal = nil
	if err := m.transition(StateNone); err != nil {
		return Result{}, err
	}

	outcome := OutcomeConsumed
	if missed {
		outcome = OutcomeMissedExpired
	}
	return Result{Outcome: outcome, Breakout: ev, Signal: evaluatedSignal}, nil
}

// Fingerprint builds the duplicate-suppression key for a consumed breakout.
func Fingerprint(ev models.BreakoutEvent, strike int, rangeHigh, rangeLow float64) models.Fingerprint {
	return models.Fingerprint{
		Direction:          ev.Direction,
		Strike:             strike,
		RangeHigh:          rangeHigh,
		RangeLow:           rangeLow,
		BreakoutCandleTime: ev.BreakoutCandleTime.Truncate(time.Second),
	}
}

// Seen reports whether fingerprint fp was recorded within cooldown of now,
// and prunes all entries older than cooldown from recent as a side effect.
func Seen(recent map[models.Fingerprint]time.Time, fp models.Fingerprint, now time.Time, cooldown time.Duration) bool {
	for k, t := range recent {
		if now.Sub(t) > cooldown {
			delete(recent, k)
		}
	}
	last, ok := recent[fp]
	if !ok {
		return false
	}
	return now.Sub(last) <= cooldown
}

// Record stores fp as seen at now.
func Record(recent map[models.Fingerprint]time.Time, fp models.Fingerprint, now time.Time) {
	recent[fp] = now
}
