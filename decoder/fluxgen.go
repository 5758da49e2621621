package decoder

import (
	"fmt"

	"github.com/sergev/fluxdec/flux"
)

// GenerateFlux converts a raw bitcell stream to flux transition times.
// A set bitcell produces a transition at the end of its cell. Times are in
// ticks of tickRate relative to the start of the track.
func GenerateFlux(bits []byte, bitRateKbps uint16, tickRate float64) ([]uint64, error) {
	if len(bits) == 0 {
		return nil, fmt.Errorf("empty bitcell data")
	}

	// Two raw cells per data bit for both supported encodings.
	halfCellTicks := tickRate / (float64(bitRateKbps) * 1000 * 2)

	var transitions []uint64
	bitCount := len(bits) * 8
	for i := 0; i < bitCount; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		if bits[byteIdx]&(1<<bitIdx) != 0 {
			transitions = append(transitions, uint64(float64(i+1)*halfCellTicks))
		}
	}
	return transitions, nil
}

// CoverRotation extends transitions to cover a full rotation period,
// appending filler transitions at two-cell intervals, then wraps the track
// in index pulses to form a complete event stream.
func CoverRotation(transitions []uint64, bitRateKbps, rpm uint16, tickRate float64) []flux.Event {
	rotationTicks := uint64(60 * tickRate / float64(rpm))
	halfCellTicks := tickRate / (float64(bitRateKbps) * 1000 * 2)
	fillStep := uint64(2 * halfCellTicks)

	lastTime := uint64(0)
	if len(transitions) > 0 {
		lastTime = transitions[len(transitions)-1]
	}

	events := make([]flux.Event, 0, len(transitions)+16)
	events = append(events, flux.Event{Time: 0, Kind: flux.IndexPulse})
	for _, t := range transitions {
		events = append(events, flux.Event{Time: t, Kind: flux.Transition})
	}
	for t := lastTime + fillStep; t+fillStep <= rotationTicks; t += fillStep {
		events = append(events, flux.Event{Time: t, Kind: flux.Transition})
	}
	events = append(events, flux.Event{Time: rotationTicks, Kind: flux.IndexPulse})
	return events
}
