package engine

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sergev/fluxdec/decoder"
	"github.com/sergev/fluxdec/flux"
	"github.com/sergev/fluxdec/histogram"
	"github.com/sergev/fluxdec/pll"
)

const testTickRate = 72e6

// synthTrack encodes a formatted MFM track and replays it for the given
// number of revolutions as a flux event stream.
func synthTrack(t *testing.T, sectors [][]byte, revs int) []flux.Event {
	t.Helper()

	const rateKbps = 250
	halfBits := int(float64(rateKbps) * 1000 * 2 * 60 / 300)
	w := decoder.NewWriter(decoder.EncMFM, halfBits)
	bits, err := w.EncodeTrack(sectors, 0, 0, rateKbps)
	if err != nil {
		t.Fatalf("EncodeTrack() failed: %v", err)
	}
	transitions, err := decoder.GenerateFlux(bits, rateKbps, testTickRate)
	if err != nil {
		t.Fatalf("GenerateFlux() failed: %v", err)
	}
	rotation := decoder.CoverRotation(transitions, rateKbps, 300, testTickRate)

	// Repeat the rotation; the closing index pulse doubles as the opener
	// of the next revolution.
	rotationTicks := rotation[len(rotation)-1].Time
	events := append([]flux.Event(nil), rotation...)
	for r := 1; r < revs; r++ {
		for _, ev := range rotation[1:] {
			ev.Time += uint64(r) * rotationTicks
			events = append(events, ev)
		}
	}
	return events
}

func testSectors(n int) [][]byte {
	sectors := make([][]byte, n)
	for s := range sectors {
		sec := make([]byte, 512)
		for j := range sec {
			sec[j] = byte(s*7 + j)
		}
		sectors[s] = sec
	}
	return sectors
}

func TestDecodesSyntheticTrack(t *testing.T) {
	sectors := testSectors(9)
	events := synthTrack(t, sectors, 2)

	var recs []decoder.Record
	e, err := New(testTickRate, OneTrack, WithRecordHandler(func(r decoder.Record) {
		recs = append(recs, r)
	}))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(flux.NewEventIterator(events)); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	st := e.Status()
	if st.Revolutions != RevsPerTrack {
		t.Errorf("revolutions = %d, want %d", st.Revolutions, RevsPerTrack)
	}
	if !st.Determined {
		t.Fatalf("medium not determined: %+v", st)
	}
	if st.Encoding != decoder.EncMFM {
		t.Errorf("encoding = %v, want MFM", st.Encoding)
	}
	if st.DataRate < 249000 || st.DataRate > 251000 {
		t.Errorf("data rate = %d, want about 250000", st.DataRate)
	}
	if st.RPM < 299 || st.RPM > 301 {
		t.Errorf("RPM = %d, want about 300", st.RPM)
	}

	// The first revolution only feeds detection; the second decodes every
	// sector: one header and one data record each.
	want := uint64(2 * len(sectors))
	if st.CRCPass != want || st.CRCFail != 0 {
		t.Errorf("CRC pass/fail = %d/%d, want %d/0", st.CRCPass, st.CRCFail, want)
	}
	if st.Records != want {
		t.Errorf("records = %d, want %d", st.Records, want)
	}

	found := false
	for _, r := range recs {
		if r.Mark == decoder.MarkData && bytes.Equal(r.Fields, sectors[0]) {
			found = true
			break
		}
	}
	if !found {
		t.Error("sector 0 payload not recovered")
	}
}

func TestOneRevolutionStops(t *testing.T) {
	events := synthTrack(t, testSectors(4), 3)

	e, err := New(testTickRate, OneRevolution)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(flux.NewEventIterator(events)); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if st := e.Status(); st.Revolutions != 1 {
		t.Errorf("revolutions = %d, want 1", st.Revolutions)
	}
}

func TestRawOutputMirrorsInput(t *testing.T) {
	events := synthTrack(t, testSectors(2), 1)

	var buf bytes.Buffer
	e, err := New(testTickRate, Continuous, WithRawOutput(&buf))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(flux.NewEventIterator(events)); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	got := flux.NewStreamReader(&buf).ReadAll()
	if len(got) != len(events) {
		t.Fatalf("raw stream has %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Fatalf("raw event %d = %+v, want %+v", i, got[i], events[i])
		}
	}
}

func TestSoftResetMatchesFreshEngine(t *testing.T) {
	events := synthTrack(t, testSectors(4), 2)

	e, err := New(testTickRate, Continuous)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()
	if err := e.Run(flux.NewEventIterator(events)); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	e.SoftReset()

	fresh, err := New(testTickRate, Continuous)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer fresh.Close()

	if got, want := e.Status(), fresh.Status(); got != want {
		t.Errorf("status after SoftReset = %+v, want %+v", got, want)
	}
	if hyp := e.Hypothesis(); hyp.Determined || hyp.Rate != 0 {
		t.Errorf("hypothesis survived SoftReset: %+v", hyp)
	}
	if recs := e.Records(); len(recs) != 0 {
		t.Errorf("%d records survived SoftReset", len(recs))
	}
}

func TestMetricsCounting(t *testing.T) {
	events := synthTrack(t, testSectors(3), 2)

	m := NewMetrics(prometheus.NewRegistry())
	e, err := New(testTickRate, OneTrack, WithMetrics(m))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(flux.NewEventIterator(events)); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if got := testutil.ToFloat64(m.Revolutions); got != 2 {
		t.Errorf("revolutions metric = %g, want 2", got)
	}
	if got := testutil.ToFloat64(m.CRCPass); got != 6 {
		t.Errorf("crc pass metric = %g, want 6", got)
	}
	if got := testutil.ToFloat64(m.Transitions); got == 0 {
		t.Error("transitions metric not incremented")
	}
	if got := testutil.ToFloat64(m.RPM); got < 299 || got > 301 {
		t.Errorf("rpm gauge = %g, want about 300", got)
	}
}

// testCell is one raw bitcell in ticks at 250 kbps and the test tick rate.
const testCell = uint64(144)

// lockEngine feeds nominal 2-cell gap edges until the loop locks and
// returns the timestamp of the last transition.
func lockEngine(t *testing.T, e *Engine) uint64 {
	t.Helper()
	now := uint64(0)
	for i := 0; i < 200; i++ {
		now += 2 * testCell
		if _, err := e.Process(flux.Event{Time: now, Kind: flux.Transition}); err != nil {
			t.Fatalf("Process() failed: %v", err)
		}
	}
	if st := e.Status(); st.LockState != pll.Locked {
		t.Fatalf("loop did not lock on nominal input, state %v", st.LockState)
	}
	return now
}

// An index pulse is a rotation marker, not a flux edge: it must not reset
// the interval baseline, so a pulse landing between two transitions leaves
// the loop locked and records no phantom interval.
func TestIndexPulseKeepsLock(t *testing.T) {
	e, err := New(testTickRate, Continuous)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()
	now := lockEngine(t, e)

	// Index pulse half a cell after the last transition, then the next
	// nominal edge.
	if _, err := e.Process(flux.Event{Time: now + testCell, Kind: flux.IndexPulse}); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	if _, err := e.Process(flux.Event{Time: now + 2*testCell, Kind: flux.Transition}); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if st := e.Status(); st.LockState != pll.Locked {
		t.Errorf("lock state after mid-interval index pulse = %v, want locked", st.LockState)
	}
	// The pulse-to-edge span must not reach the histogram as an interval.
	if n := e.dual.A.ReadBin(int(testCell) >> histogram.BinShift); n != 0 {
		t.Errorf("phantom %d-tick interval recorded, bin count %d", testCell, n)
	}
}

// Losing lock mid-record must destroy the partial record and force the
// decoder back to sync search.
func TestLossOfLockDropsPartialRecord(t *testing.T) {
	e, err := New(testTickRate, Continuous)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()
	now := lockEngine(t, e)

	// Align the decoder and start a header record: the MFM sync run,
	// then the 0xFE mark (raw 0x5554 after a one bit).
	e.dec.SetEncoding(decoder.EncMFM)
	for _, w := range []uint16{0x4489, 0x4489, 0x4489, 0x5554} {
		for b := 15; b >= 0; b-- {
			e.dec.PushBit(int(w>>uint(b)) & 1)
		}
	}
	if e.dec.State() != decoder.Decoding {
		t.Fatalf("decoder state %v after sync and mark, want Decoding", e.dec.State())
	}

	// A transition half a cell early classifies way off and drops lock.
	if _, err := e.Process(flux.Event{Time: now + testCell/2, Kind: flux.Transition}); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}

	if st := e.Status(); st.LockState == pll.Locked {
		t.Fatalf("way-off edge did not drop lock")
	}
	if e.dec.State() != decoder.SearchingSync {
		t.Errorf("decoder state %v after loss of lock, want SearchingSync", e.dec.State())
	}
	if recs := e.Records(); len(recs) != 0 {
		t.Errorf("partial record emitted after loss of lock: %+v", recs)
	}
}

func TestProcessRejectsNothingOnEmptySource(t *testing.T) {
	e, err := New(testTickRate, Continuous)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Run(flux.NewEventIterator(nil)); err != nil {
		t.Fatalf("Run() on empty source failed: %v", err)
	}
	st := e.Status()
	if st.Revolutions != 0 || st.Records != 0 {
		t.Errorf("empty source produced status %+v", st)
	}
}
