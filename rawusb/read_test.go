package rawusb

import (
	"testing"

	"github.com/sergev/fluxdec/flux"
)

func TestWordDecoderBasic(t *testing.T) {
	var d WordDecoder

	ev, ok := d.Decode(1000)
	if !ok || ev.Time != 1000 || ev.Kind != flux.Transition {
		t.Fatalf("Decode(1000) = %+v ok=%v", ev, ok)
	}

	ev, ok = d.Decode(FluxFlagIndex | 2000)
	if !ok || ev.Time != 2000 || ev.Kind != flux.IndexPulse {
		t.Fatalf("index word = %+v ok=%v", ev, ok)
	}
}

func TestWordDecoderOverflowMarker(t *testing.T) {
	var d WordDecoder

	if _, ok := d.Decode(100); !ok {
		t.Fatal("Decode(100) produced no event")
	}

	// A pure marker advances the epoch without producing an event.
	if _, ok := d.Decode(FluxFlagOverflow); ok {
		t.Error("pure overflow marker produced an event")
	}
	if d.Overflows() != 1 {
		t.Errorf("Overflows() = %d, want 1", d.Overflows())
	}

	// The next transition lands one full timer span later.
	ev, ok := d.Decode(50)
	if !ok || ev.Time != uint64(FluxTimeMask)+1+50 {
		t.Errorf("post-overflow event = %+v ok=%v, want time %d",
			ev, ok, uint64(FluxTimeMask)+1+50)
	}
}

func TestWordDecoderFlaggedTransition(t *testing.T) {
	var d WordDecoder

	if _, ok := d.Decode(100); !ok {
		t.Fatal("Decode(100) produced no event")
	}

	// Overflow flag combined with a timestamp: the word both bumps the
	// epoch and carries a transition.
	ev, ok := d.Decode(FluxFlagOverflow | 30)
	if !ok {
		t.Fatal("overflow-flagged transition produced no event")
	}
	if want := uint64(FluxTimeMask) + 1 + 30; ev.Time != want {
		t.Errorf("time = %d, want %d", ev.Time, want)
	}
}

func TestWordDecoderUnflaggedWrap(t *testing.T) {
	var d WordDecoder

	if _, ok := d.Decode(FluxTimeMask - 10); !ok {
		t.Fatal("no event before wrap")
	}

	// The timer wrapped but the overflow flag was lost; a backwards
	// timestamp recovers the epoch.
	ev, ok := d.Decode(5)
	if !ok {
		t.Fatal("no event after wrap")
	}
	if want := uint64(FluxTimeMask) + 1 + 5; ev.Time != want {
		t.Errorf("time = %d, want %d", ev.Time, want)
	}
	if d.Overflows() != 0 {
		t.Errorf("unflagged wrap counted as overflow: %d", d.Overflows())
	}
}

func TestWordDecoderWeakBits(t *testing.T) {
	var d WordDecoder
	d.Decode(100)
	d.Decode(FluxFlagWeak | 200)
	d.Decode(FluxFlagWeak | 300)
	if d.WeakBits() != 2 {
		t.Errorf("WeakBits() = %d, want 2", d.WeakBits())
	}

	d.Reset()
	if d.WeakBits() != 0 || d.Overflows() != 0 {
		t.Error("Reset() left counters set")
	}
	if ev, ok := d.Decode(10); !ok || ev.Time != 10 {
		t.Errorf("post-Reset event = %+v ok=%v", ev, ok)
	}
}

func TestDecodeWords(t *testing.T) {
	words := []uint32{
		FluxFlagIndex | 0,
		300,
		600,
		FluxFlagOverflow,
		100,
		FluxFlagIndex | 200,
	}
	events, dec := DecodeWords(words)

	span := uint64(FluxTimeMask) + 1
	want := []flux.Event{
		{Time: 0, Kind: flux.IndexPulse},
		{Time: 300, Kind: flux.Transition},
		{Time: 600, Kind: flux.Transition},
		{Time: span + 100, Kind: flux.Transition},
		{Time: span + 200, Kind: flux.IndexPulse},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
	if dec.Overflows() != 1 {
		t.Errorf("Overflows() = %d, want 1", dec.Overflows())
	}
}

func TestRingSource(t *testing.T) {
	ring := flux.NewRing(16)
	words := []uint32{
		FluxFlagIndex | 0,
		500,
		FluxFlagOverflow,
		FluxFlagWeak | 100,
	}
	for _, w := range words {
		if !ring.Push(int32(w)) {
			t.Fatalf("Push(%#x) failed", w)
		}
	}

	src := NewRingSource(ring)
	span := uint64(FluxTimeMask) + 1
	want := []flux.Event{
		{Time: 0, Kind: flux.IndexPulse},
		{Time: 500, Kind: flux.Transition},
		{Time: span + 100, Kind: flux.Transition},
	}
	for i, w := range want {
		ev, ok := src.NextEvent()
		if !ok || ev != w {
			t.Errorf("event %d = %+v ok=%v, want %+v", i, ev, ok, w)
		}
	}

	// Empty ring does not block.
	if _, ok := src.NextEvent(); ok {
		t.Error("NextEvent() returned an event from an empty ring")
	}
	if src.Decoder().WeakBits() != 1 {
		t.Errorf("WeakBits() = %d, want 1", src.Decoder().WeakBits())
	}
}
