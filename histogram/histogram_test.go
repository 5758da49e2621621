package histogram

import (
	"math/rand"
	"testing"
)

// TotalCount must equal the number of Record calls since the last Clear,
// for any interval sequence.
func TestTotalCountProperty(t *testing.T) {
	h := New()
	rng := rand.New(rand.NewSource(7))

	n := 10000
	for i := 0; i < n; i++ {
		h.Record(rng.Uint32() % 2048)
	}
	if h.TotalCount() != uint32(n) {
		t.Errorf("TotalCount() = %d, expected %d", h.TotalCount(), n)
	}

	h.Clear()
	if h.TotalCount() != 0 {
		t.Errorf("TotalCount() after Clear = %d, expected 0", h.TotalCount())
	}

	for i := 0; i < 17; i++ {
		h.Record(100)
	}
	if h.TotalCount() != 17 {
		t.Errorf("TotalCount() = %d, expected 17", h.TotalCount())
	}
}

func TestBinMapping(t *testing.T) {
	h := New()

	// interval 200 -> bin 25
	h.Record(200)
	if h.ReadBin(25) != 1 {
		t.Errorf("ReadBin(25) = %d, expected 1", h.ReadBin(25))
	}

	// intervals below one bin width share bin 0
	h.Record(0)
	h.Record(1<<BinShift - 1)
	if h.ReadBin(0) != 2 {
		t.Errorf("ReadBin(0) = %d, expected 2", h.ReadBin(0))
	}
}

func TestOverflowClamping(t *testing.T) {
	h := New()

	// Intervals past the binnable range land in the last bin and count
	// as overflow.
	h.Record(Bins << BinShift)
	h.Record(1 << 20)
	if h.ReadBin(Bins-1) != 2 {
		t.Errorf("last bin = %d, expected 2", h.ReadBin(Bins-1))
	}
	if h.Stats().OverflowCount != 2 {
		t.Errorf("OverflowCount = %d, expected 2", h.Stats().OverflowCount)
	}

	// The largest interval that does not clamp.
	h.Record(Bins<<BinShift - 1)
	if h.Stats().OverflowCount != 2 {
		t.Errorf("in-range interval counted as overflow")
	}
}

func TestUnderflowCounting(t *testing.T) {
	h := New()

	// Sub-bin-width glitches go to bin 0 and increment the underflow
	// counter. A normal interval touches neither.
	h.Record(1<<BinShift - 1)
	h.Record(0)
	h.Record(10 << BinShift)
	if got := h.Stats().UnderflowCount; got != 2 {
		t.Errorf("UnderflowCount = %d, expected 2", got)
	}
	if h.ReadBin(0) != 2 {
		t.Errorf("bin 0 = %d, expected 2", h.ReadBin(0))
	}
}

func TestPeakTracking(t *testing.T) {
	h := New()

	for i := 0; i < 5; i++ {
		h.Record(10 << BinShift)
	}
	for i := 0; i < 9; i++ {
		h.Record(20 << BinShift)
	}
	if h.PeakBin() != 20 {
		t.Errorf("PeakBin() = %d, expected 20", h.PeakBin())
	}

	// Peak interval is the bin center.
	want := uint32(20<<BinShift + (1<<BinShift)/2)
	if h.PeakInterval() != want {
		t.Errorf("PeakInterval() = %d, expected %d", h.PeakInterval(), want)
	}
}

func TestMeanTracking(t *testing.T) {
	h := New()

	// Constant input: the EMA settles on the input value exactly.
	for i := 0; i < 100; i++ {
		h.Record(320)
	}
	if mean := h.Stats().MeanInterval; mean != 320 {
		t.Errorf("mean of constant 320 input = %d", mean)
	}

	// Step up: the EMA moves toward the new level without overshooting.
	for i := 0; i < 200; i++ {
		h.Record(640)
	}
	mean := h.Stats().MeanInterval
	if mean < 600 || mean > 640 {
		t.Errorf("mean after step to 640 = %d, expected near 640", mean)
	}
}

func TestMinMax(t *testing.T) {
	h := New()
	h.Record(500)
	h.Record(20)
	h.Record(900)

	stats := h.Stats()
	if stats.IntervalMin != 20 {
		t.Errorf("IntervalMin = %d, expected 20", stats.IntervalMin)
	}
	if stats.IntervalMax != 900 {
		t.Errorf("IntervalMax = %d, expected 900", stats.IntervalMax)
	}
}

func TestDisabled(t *testing.T) {
	h := New()
	h.SetEnabled(false)
	h.Record(100)
	if h.TotalCount() != 0 {
		t.Errorf("disabled histogram recorded a sample")
	}

	h.SetEnabled(true)
	h.Record(100)
	if h.TotalCount() != 1 {
		t.Errorf("re-enabled histogram did not record")
	}
}

func TestSnapshotIsFrozen(t *testing.T) {
	h := New()
	h.Record(100)

	snap := h.Snapshot()
	snap.Record(100)
	if snap.TotalCount() != 1 {
		t.Errorf("snapshot accumulated a sample")
	}

	// The original keeps collecting.
	h.Record(100)
	if h.TotalCount() != 2 {
		t.Errorf("original stopped collecting after Snapshot")
	}
}

func TestDualRateMatch(t *testing.T) {
	d := NewDual()

	// Empty histograms never match.
	if d.RateMatch() {
		t.Errorf("empty dual histograms reported a rate match")
	}

	// Peaks one bin apart: match.
	for i := 0; i < 10; i++ {
		d.A.Record(20 << BinShift)
		d.B.Record(21 << BinShift)
	}
	if !d.RateMatch() {
		t.Errorf("peak bins 20 and 21 did not match")
	}

	// Push B's peak out of tolerance.
	for i := 0; i < 20; i++ {
		d.B.Record(30 << BinShift)
	}
	if d.RateMatch() {
		t.Errorf("peak bins 20 and 30 reported a rate match")
	}

	d.Clear()
	if d.A.TotalCount() != 0 || d.B.TotalCount() != 0 {
		t.Errorf("Clear left samples behind")
	}
}
