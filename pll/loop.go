package pll

import (
	"github.com/sergev/fluxdec/nco"
)

// Loop tuning constants, carried over from the SCP PLL algorithm.
const (
	// CLOCK_MAX_ADJ is the +/- frequency adjustment range (90%-110% of nominal)
	CLOCK_MAX_ADJ = 10
	// PERIOD_ADJ_PCT is the pull rate toward the nominal frequency while acquiring
	PERIOD_ADJ_PCT = 5
	// PHASE_ADJ_PCT is the fraction of the phase error fed back per edge
	PHASE_ADJ_PCT = 60
)

const (
	// LockRun is the consecutive on-time edges required to declare lock.
	LockRun = 8
	// DriftRun is the consecutive early/late edges tolerated while locked.
	DriftRun = 16
	// EdgeTimeoutCells is the bit cells without any edge before lock is
	// abandoned.
	EdgeTimeoutCells = 256
	// maxInterval clamps an interval that exceeds the representable range.
	maxInterval = 1 << 28
	// integralShift sets the slow integral gain of the frequency nudge.
	integralShift = 12
)

// State is the loop controller lock state.
type State int

const (
	Unlocked State = iota
	Acquiring
	Locked
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Acquiring:
		return "acquiring"
	default:
		return "locked"
	}
}

// Stats is a snapshot of the loop controller.
type Stats struct {
	State      State
	Frequency  uint32 // current NCO frequency word
	LockCount  uint32 // times lock was acquired
	ErrorCount uint32 // way-off classifications observed
	Clamped    uint32 // intervals clamped to the representable range
}

// Loop is the digital PLL loop controller. It owns the NCO and the phase
// detector, applies proportional phase and slow integral frequency
// corrections, and tracks the Unlocked/Acquiring/Locked state machine.
type Loop struct {
	osc     *nco.NCO
	det     Detector
	nominal uint32

	state      State
	onTimeRun  int
	driftRun   int
	clamped    uint32
	lockCount  uint32
	errorCount uint32
}

// NewLoop creates a loop around osc with the given nominal frequency word.
// The oscillator should already be programmed to the nominal word.
func NewLoop(osc *nco.NCO, nominalWord uint32) *Loop {
	return &Loop{osc: osc, nominal: nominalWord}
}

// State returns the current lock state.
func (l *Loop) State() State {
	return l.state
}

// Oscillator returns the NCO the loop is driving.
func (l *Loop) Oscillator() *nco.NCO {
	return l.osc
}

// Stats returns a snapshot of the loop state.
func (l *Loop) Stats() Stats {
	return Stats{
		State:      l.state,
		Frequency:  l.osc.Frequency(),
		LockCount:  l.lockCount,
		ErrorCount: l.errorCount,
		Clamped:    l.clamped,
	}
}

// SetNominal retargets the loop to a new nominal frequency word, as when
// the auto-detection coordinator settles on a different data rate.
// The loop restarts acquisition at the new rate.
func (l *Loop) SetNominal(word uint32) {
	l.nominal = word
	l.osc.SetFrequency(word)
	l.state = Unlocked
	l.onTimeRun = 0
	l.driftRun = 0
	l.det.Reset()
}

// Reset reinitializes the loop: NCO phase to zero, frequency back to
// nominal, state to Unlocked. This is the only path that resets the phase
// accumulator; normal tracking never does.
func (l *Loop) Reset() {
	l.osc.Reset()
	l.osc.SetFrequency(l.nominal)
	l.det.Reset()
	l.state = Unlocked
	l.onTimeRun = 0
	l.driftRun = 0
	l.lockCount = 0
	l.errorCount = 0
	l.clamped = 0
}

// OnInterval processes one flux interval: the time in ticks since the
// previous transition. It advances the NCO across the interval, measures
// the phase of the edge that ends it, applies loop corrections, and
// updates the lock state.
//
// cells is the number of bit-cell boundaries the interval crossed; the
// transition itself lies in the cell where the interval ended.
func (l *Loop) OnInterval(ticks uint64) (cells uint64, pe PhaseError) {
	if ticks > maxInterval {
		ticks = maxInterval
		l.clamped++
	}

	cells = l.osc.Advance(ticks)

	// Missed-edge timeout: an interval spanning this many cells while
	// locked means the loop is free-running, not tracking.
	if l.state == Locked && cells > EdgeTimeoutCells {
		l.state = Acquiring
		l.onTimeRun = 0
	}

	pe = l.det.OnEdge(l.osc.Phase())
	l.apply(pe)
	l.step(pe.Zone)
	l.det.Invalidate()
	return cells, pe
}

// apply feeds the measured error back into the oscillator.
func (l *Loop) apply(pe PhaseError) {
	if pe.Zone == WayOff && l.state == Locked {
		// Not a real edge; correcting on it would drag the loop away.
		// While acquiring there is no alignment to protect, so even a
		// way-off edge pulls the phase in.
		return
	}
	err32 := int32(pe.Error) << 16

	// Proportional: pull the cell center toward the observed edge.
	l.osc.AdjustPhase(int32(-(int64(err32) * PHASE_ADJ_PCT) / 100))

	freq := int64(l.osc.Frequency())
	if l.state == Locked {
		// Slow integral: track drive-speed wander.
		freq -= int64(err32) >> integralShift
	} else {
		// Pull toward nominal until the edges line up.
		freq += (int64(l.nominal) - freq) * PERIOD_ADJ_PCT / 100
	}

	// Clamp the adjustment range.
	min := int64(l.nominal) * (100 - CLOCK_MAX_ADJ) / 100
	max := int64(l.nominal) * (100 + CLOCK_MAX_ADJ) / 100
	if freq < min {
		freq = min
	}
	if freq > max {
		freq = max
	}
	l.osc.SetFrequency(uint32(freq))
}

// step advances the lock state machine on one classification.
func (l *Loop) step(zone Zone) {
	if zone == WayOff {
		l.errorCount++
	}

	switch l.state {
	case Unlocked:
		// First edge after enable starts acquisition.
		l.state = Acquiring
		l.onTimeRun = 0

	case Acquiring:
		if zone == OnTime {
			l.onTimeRun++
			if l.onTimeRun >= LockRun {
				l.state = Locked
				l.driftRun = 0
				l.lockCount++
			}
		} else {
			l.onTimeRun = 0
		}

	case Locked:
		switch zone {
		case OnTime:
			l.driftRun = 0
		case WayOff:
			l.state = Acquiring
			l.onTimeRun = 0
		default:
			l.driftRun++
			if l.driftRun > DriftRun {
				l.state = Acquiring
				l.onTimeRun = 0
			}
		}
	}
}
