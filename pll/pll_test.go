package pll

import (
	"testing"

	"github.com/sergev/fluxdec/nco"
)

func TestDetectorZones(t *testing.T) {
	tests := []struct {
		phase uint32
		zone  Zone
	}{
		// Exactly on the cell center.
		{1 << 31, OnTime},
		// Just inside 45 degrees either side.
		{1<<31 + 1<<29 - 1<<16, OnTime},
		{1<<31 - 1<<29, OnTime},
		// Between 45 and 90 degrees.
		{1<<31 + 1<<30 - 1<<16, Late},
		{1<<31 - 1<<30 + 1<<16, Early},
		// Beyond 90 degrees.
		{0, WayOff},
		{1 << 29, WayOff},
		{1<<32 - 1<<29, WayOff},
	}

	var d Detector
	for _, tt := range tests {
		pe := d.OnEdge(tt.phase)
		if pe.Zone != tt.zone {
			t.Errorf("OnEdge(0x%08x): zone %v (error %d), expected %v",
				tt.phase, pe.Zone, pe.Error, tt.zone)
		}
	}
}

func TestDetectorErrorSign(t *testing.T) {
	var d Detector

	// An edge past the center is late: positive error.
	pe := d.OnEdge(1<<31 + 1<<28)
	if pe.Error <= 0 {
		t.Errorf("late edge produced error %d, expected positive", pe.Error)
	}

	// An edge before the center is early: negative error.
	pe = d.OnEdge(1<<31 - 1<<28)
	if pe.Error >= 0 {
		t.Errorf("early edge produced error %d, expected negative", pe.Error)
	}
}

func TestDetectorValidFlag(t *testing.T) {
	var d Detector
	if _, ok := d.Last(); ok {
		t.Errorf("fresh detector reports a valid measurement")
	}

	d.OnEdge(1 << 31)
	if _, ok := d.Last(); !ok {
		t.Errorf("measurement not valid after OnEdge")
	}

	d.Invalidate()
	if _, ok := d.Last(); ok {
		t.Errorf("measurement still valid after Invalidate")
	}
}

func newTestLoop(bitRate, tickRate float64) *Loop {
	word := nco.FrequencyWord(bitRate, tickRate)
	return NewLoop(nco.New(word), word)
}

// A periodic input at exactly the nominal rate must drive the loop to
// Locked, after which every edge classifies as on-time.
func TestLockOnNominalInput(t *testing.T) {
	// 250 kbps at 72 MHz: one cell is 288 ticks. Edges every 2 cells,
	// as in an MFM gap run.
	l := newTestLoop(250000, 72000000)

	if l.State() != Unlocked {
		t.Fatalf("fresh loop state %v, expected Unlocked", l.State())
	}

	locked := -1
	for i := 0; i < 100; i++ {
		cells, pe := l.OnInterval(576)
		if l.State() == Locked {
			if locked < 0 {
				locked = i
			}
			if pe.Zone != OnTime {
				t.Errorf("edge %d while locked: zone %v, error %d", i, pe.Zone, pe.Error)
			}
			if cells != 2 {
				t.Errorf("edge %d: %d cells for a 2-cell interval", i, cells)
			}
		}
	}

	if locked < 0 {
		t.Fatalf("loop never locked on nominal input, state %v", l.State())
	}
	if stats := l.Stats(); stats.LockCount != 1 {
		t.Errorf("LockCount = %d, expected 1", stats.LockCount)
	}
}

// With the input rate a little off nominal, the integral term must pull
// the oscillator onto the actual rate and hold lock.
func TestTracksRateOffset(t *testing.T) {
	l := newTestLoop(250000, 72000000)

	// 1% slow: 2 cells take 582 ticks instead of 576.
	for i := 0; i < 2000; i++ {
		l.OnInterval(582)
	}

	if l.State() != Locked {
		t.Fatalf("loop state %v on slightly slow input, expected Locked", l.State())
	}

	// The recovered frequency should sit near the actual rate,
	// nominal * 576/582, not at nominal.
	actual := uint32(uint64(nco.FrequencyWord(250000, 72000000)) * 576 / 582)
	freq := l.Stats().Frequency
	diff := int64(freq) - int64(actual)
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(actual)/200 {
		t.Errorf("recovered frequency %d, expected near %d", freq, actual)
	}
}

func TestWayOffDropsLock(t *testing.T) {
	l := newTestLoop(250000, 72000000)

	for i := 0; i < 50; i++ {
		l.OnInterval(576)
	}
	if l.State() != Locked {
		t.Fatalf("loop did not lock, state %v", l.State())
	}

	// A third-of-a-cell interval lands way off any cell center.
	l.OnInterval(100)
	if l.State() != Acquiring {
		t.Errorf("state %v after way-off edge, expected Acquiring", l.State())
	}
	if l.Stats().ErrorCount == 0 {
		t.Errorf("way-off edge not counted")
	}
}

func TestEdgeTimeout(t *testing.T) {
	l := newTestLoop(250000, 72000000)

	for i := 0; i < 50; i++ {
		l.OnInterval(576)
	}
	if l.State() != Locked {
		t.Fatalf("loop did not lock, state %v", l.State())
	}

	// An interval spanning more than EdgeTimeoutCells cells while locked
	// means the loop was free-running.
	l.OnInterval(uint64(EdgeTimeoutCells+2) * 288)
	if l.State() == Locked {
		t.Errorf("loop still Locked after a %d-cell gap", EdgeTimeoutCells+2)
	}
}

func TestIntervalClamp(t *testing.T) {
	l := newTestLoop(250000, 72000000)

	l.OnInterval(1 << 40)
	if l.Stats().Clamped != 1 {
		t.Errorf("Clamped = %d, expected 1", l.Stats().Clamped)
	}
}

func TestSetNominalRestartsAcquisition(t *testing.T) {
	l := newTestLoop(250000, 72000000)
	for i := 0; i < 50; i++ {
		l.OnInterval(576)
	}
	if l.State() != Locked {
		t.Fatalf("loop did not lock, state %v", l.State())
	}

	word := nco.FrequencyWord(500000, 72000000)
	l.SetNominal(word)
	if l.State() != Unlocked {
		t.Errorf("state %v after SetNominal, expected Unlocked", l.State())
	}
	if l.Oscillator().Frequency() != word {
		t.Errorf("frequency %d after SetNominal, expected %d",
			l.Oscillator().Frequency(), word)
	}

	// High-density gap run: 2 cells of 144 ticks.
	for i := 0; i < 50; i++ {
		l.OnInterval(288)
	}
	if l.State() != Locked {
		t.Errorf("loop did not relock at the new rate, state %v", l.State())
	}
}

func TestResetClearsState(t *testing.T) {
	l := newTestLoop(250000, 72000000)
	for i := 0; i < 50; i++ {
		l.OnInterval(576)
	}
	l.Reset()

	stats := l.Stats()
	if stats.State != Unlocked {
		t.Errorf("state %v after Reset", stats.State)
	}
	if stats.LockCount != 0 || stats.ErrorCount != 0 || stats.Clamped != 0 {
		t.Errorf("counters not cleared: %+v", stats)
	}
	if l.Oscillator().Phase() != 0 {
		t.Errorf("NCO phase %d after Reset", l.Oscillator().Phase())
	}
	if l.Oscillator().Frequency() != nco.FrequencyWord(250000, 72000000) {
		t.Errorf("frequency not restored to nominal after Reset")
	}
}
