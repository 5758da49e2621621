package greaseweazle

import (
	"testing"

	"github.com/sergev/fluxdec/flux"
)

// n28 encodes a value in the device's 7-bits-per-byte format.
func n28(v uint32) []byte {
	return []byte{
		byte(v<<1) | 1,
		byte(v>>6) | 1,
		byte(v>>13) | 1,
		byte(v>>20) | 1,
	}
}

func TestReadN28(t *testing.T) {
	for _, want := range []uint32{0, 1, 127, 128, 200000, 0x0FFFFFFF} {
		got, consumed, err := readN28(n28(want), 0)
		if err != nil {
			t.Fatalf("readN28(%d) failed: %v", want, err)
		}
		if consumed != 4 {
			t.Errorf("readN28(%d) consumed %d bytes, want 4", want, consumed)
		}
		if got != want {
			t.Errorf("readN28 round trip of %d gave %d", want, got)
		}
	}

	if _, _, err := readN28([]byte{1, 1, 1}, 0); err == nil {
		t.Error("readN28() accepted a truncated buffer")
	}
}

func TestDecodeStreamDirectIntervals(t *testing.T) {
	events, err := DecodeStream([]byte{100, 50, 249})
	if err != nil {
		t.Fatalf("DecodeStream() failed: %v", err)
	}
	want := []flux.Event{
		{Time: 100, Kind: flux.Transition},
		{Time: 150, Kind: flux.Transition},
		{Time: 399, Kind: flux.Transition},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestDecodeStreamExtendedInterval(t *testing.T) {
	// 250,1 is the shortest extended form: 250 + 0*255 + 1 - 1 = 250.
	events, err := DecodeStream([]byte{250, 1})
	if err != nil {
		t.Fatalf("DecodeStream() failed: %v", err)
	}
	if len(events) != 1 || events[0].Time != 250 {
		t.Fatalf("got %+v, want one transition at 250", events)
	}

	// 254,200: 250 + 4*255 + 200 - 1 = 1469.
	events, err = DecodeStream([]byte{254, 200})
	if err != nil {
		t.Fatalf("DecodeStream() failed: %v", err)
	}
	if len(events) != 1 || events[0].Time != 1469 {
		t.Fatalf("got %+v, want one transition at 1469", events)
	}

	if _, err := DecodeStream([]byte{252}); err == nil {
		t.Error("DecodeStream() accepted a truncated extended interval")
	}
}

func TestDecodeStreamIndexAndSpace(t *testing.T) {
	// Transition at 100, index pulse 40 ticks later, a 500-tick space,
	// then another transition.
	data := []byte{100}
	data = append(data, 0xFF, FLUXOP_INDEX)
	data = append(data, n28(40)...)
	data = append(data, 0xFF, FLUXOP_SPACE)
	data = append(data, n28(500)...)
	data = append(data, 30)

	events, err := DecodeStream(data)
	if err != nil {
		t.Fatalf("DecodeStream() failed: %v", err)
	}
	want := []flux.Event{
		{Time: 100, Kind: flux.Transition},
		{Time: 140, Kind: flux.IndexPulse},
		{Time: 630, Kind: flux.Transition},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestDecodeStreamOrdersIndexPulses(t *testing.T) {
	// An index timestamp several transitions ahead of the cursor must be
	// sorted into place.
	data := []byte{}
	data = append(data, 0xFF, FLUXOP_INDEX)
	data = append(data, n28(250)...)
	data = append(data, 100, 100, 100)

	events, err := DecodeStream(data)
	if err != nil {
		t.Fatalf("DecodeStream() failed: %v", err)
	}
	wantTimes := []uint64{100, 200, 250, 300}
	if len(events) != len(wantTimes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTimes))
	}
	for i, w := range wantTimes {
		if events[i].Time != w {
			t.Errorf("event %d at %d, want %d", i, events[i].Time, w)
		}
	}
	if events[2].Kind != flux.IndexPulse {
		t.Errorf("event 2 kind = %v, want index pulse", events[2].Kind)
	}
}

func TestDecodeStreamRejectsBadOpcode(t *testing.T) {
	if _, err := DecodeStream([]byte{0xFF, 0x77}); err == nil {
		t.Error("DecodeStream() accepted an unknown opcode")
	}
	if _, err := DecodeStream([]byte{0xFF}); err == nil {
		t.Error("DecodeStream() accepted a truncated opcode")
	}
	if _, err := DecodeStream([]byte{0xFF, FLUXOP_INDEX, 1, 1}); err == nil {
		t.Error("DecodeStream() accepted a truncated N28 value")
	}
}

func TestDecodeStreamEmpty(t *testing.T) {
	events, err := DecodeStream(nil)
	if err != nil {
		t.Fatalf("DecodeStream() failed on empty input: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events from empty input", len(events))
	}
}
