package signal

import (
	"testing"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noBreakout(models.ActiveSignal) (models.BreakoutEvent, bool) { return models.BreakoutEvent{}, false }

func TestMachine_ArmsOnNewInsideBar(t *testing.T) {
	m := NewMachine(5 * time.Minute)
	now := time.Now()
	ib := models.InsideBar{RangeHigh: 120, RangeLow: 100, InsideBarTime: now}
	detect := func() (models.InsideBar, bool) { return ib, true }

	res, err := m.Evaluate(now, detect, noBreakout)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoChange, res.Outcome)
	assert.Equal(t, StateArmed, m.State())
	require.NotNil(t, m.Signal())
	assert.Equal(t, 120.0, m.Signal().RangeHigh)
}

func TestMachine_KeepsSameSignalPreservesCreatedAt(t *testing.T) {
	m := NewMachine(5 * time.Minute)
	t0 := time.Now()
	ibTime := t0
	ib := models.InsideBar{RangeHigh: 120, RangeLow: 100, InsideBarTime: ibTime}
	detect := func() (models.InsideBar, bool) { return ib, true }

	_, err := m.Evaluate(t0, detect, noBreakout)
	require.NoError(t, err)
	created := m.Signal().CreatedAt

	_, err = m.Evaluate(t0.Add(time.Minute), detect, noBreakout)
	require.NoError(t, err)
	assert.Equal(t, created, m.Signal().CreatedAt, "re-detecting the same inside bar must not reset CreatedAt")
}

func TestMachine_NewerInsideBarSupersedesOlder(t *testing.T) {
	m := NewMachine(5 * time.Minute)
	now := time.Now()
	ib1 := models.InsideBar{RangeHigh: 120, RangeLow: 100, InsideBarTime: now}
	detect1 := func() (models.InsideBar, bool) { return ib1, true }
	_, err := m.Evaluate(now, detect1, noBreakout)
	require.NoError(t, err)

	ib2 := models.InsideBar{RangeHigh: 130, RangeLow: 110, InsideBarTime: now.Add(time.Hour)}
	detect2 := func() (models.InsideBar, bool) { return ib2, true }
	_, err = m.Evaluate(now.Add(time.Hour), detect2, noBreakout)
	require.NoError(t, err)
	assert.Equal(t, 130.0, m.Signal().RangeHigh, "a newer inside bar must replace the older signal")
}

func TestMachine_BreakoutWithinGrace_Consumed(t *testing.T) {
	m := NewMachine(5 * time.Minute)
	ibTime := time.Now()
	ib := models.InsideBar{RangeHigh: 120, RangeLow: 100, InsideBarTime: ibTime}
	detect := func() (models.InsideBar, bool) { return ib, true }
	_, err := m.Evaluate(ibTime, detect, noBreakout)
	require.NoError(t, err)

	breakoutTime := ibTime.Add(time.Hour)
	ev := models.BreakoutEvent{Direction: models.SideCE, BreakoutCandleTime: breakoutTime, BreakoutClose: 125}
	breakout := func(models.ActiveSignal) (models.BreakoutEvent, bool) { return ev, true }
	noDetect := func() (models.InsideBar, bool) { return models.InsideBar{}, false }

	res, err := m.Evaluate(breakoutTime.Add(time.Hour+time.Minute), noDetect, breakout)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConsumed, res.Outcome)
	assert.Equal(t, StateNone, m.State())
	assert.Nil(t, m.Signal())
}

func TestMachine_BreakoutStale_MissedExpired(t *testing.T) {
	m := NewMachine(5 * time.Minute)
	ibTime := time.Now()
	ib := models.InsideBar{RangeHigh: 120, RangeLow: 100, InsideBarTime: ibTime}
	detect := func() (models.InsideBar, bool) { return ib, true }
	_, err := m.Evaluate(ibTime, detect, noBreakout)
	require.NoError(t, err)

	breakoutTime := ibTime.Add(time.Hour)
	ev := models.BreakoutEvent{Direction: models.SideCE, BreakoutCandleTime: breakoutTime, BreakoutClose: 125}
	breakout := func(models.ActiveSignal) (models.BreakoutEvent, bool) { return ev, true }
	noDetect := func() (models.InsideBar, bool) { return models.InsideBar{}, false }

	// evaluated 20 minutes after close, past the 5-minute grace window.
	res, err := m.Evaluate(breakoutTime.Add(time.Hour+20*time.Minute), noDetect, breakout)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissedExpired, res.Outcome)
	assert.Equal(t, StateNone, m.State())
}

func TestDuplicateSuppression(t *testing.T) {
	recent := map[models.Fingerprint]time.Time{}
	now := time.Now()
	fp := models.Fingerprint{Direction: models.SideCE, Strike: 24000}

	assert.False(t, Seen(recent, fp, now, 60*time.Second))
	Record(recent, fp, now)
	assert.True(t, Seen(recent, fp, now.Add(30*time.Second), 60*time.Second))
	assert.False(t, Seen(recent, fp, now.Add(90*time.Second), 60*time.Second))
}
