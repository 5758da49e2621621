// Package nco implements the numerically controlled oscillator that is the
// single source of timing truth for the recovery engine. A 32-bit phase
// accumulator advances by the frequency word every tick; accumulator
// wraparound defines bit-clock edges and the half-period crossing defines
// the mid-cell sample point.
package nco

import "math"

// halfPhase is the mid-cell sample point, half a period after a bit edge.
const halfPhase = 1 << 31

// NCO is a free-running phase accumulator.
type NCO struct {
	phase   uint32
	freq    uint32
	pending int32 // one-time phase correction, applied on the next tick
}

// New returns an oscillator with the given frequency word.
func New(freqWord uint32) *NCO {
	return &NCO{freq: freqWord}
}

// FrequencyWord computes the phase increment per tick for a target bit
// rate: round(bitRate * 2^32 / tickRate). The accuracy of the recovered
// rate is bounded by this quantization.
func FrequencyWord(bitRate, tickRate float64) uint32 {
	return uint32(math.Round(bitRate * math.Exp2(32) / tickRate))
}

// Tick advances the accumulator by one tick.
// bitClock is true when the accumulator wrapped (a bit-cell boundary);
// sample is true when it crossed the mid-cell point.
func (n *NCO) Tick() (bitClock, sample bool) {
	inc := int64(n.freq) + int64(n.pending)
	n.pending = 0
	if inc <= 0 {
		// A backwards correction larger than one step stalls the
		// phase for this tick instead of running it in reverse.
		return false, false
	}

	prev := n.phase
	sum := uint64(prev) + uint64(inc)
	n.phase = uint32(sum)

	bitClock = sum >= 1<<32
	sample = (prev < halfPhase && sum >= halfPhase) || sum >= (1<<32)+halfPhase
	return bitClock, sample
}

// Advance steps the accumulator by ticks clock ticks at once and returns
// the number of bit-clock wraps that occurred. Equivalent to calling Tick
// that many times, with any pending phase correction applied up front.
func (n *NCO) Advance(ticks uint64) (wraps uint64) {
	if ticks == 0 {
		return 0
	}
	total := int64(ticks)*int64(n.freq) + int64(n.pending)
	n.pending = 0
	if total <= 0 {
		return 0
	}
	sum := uint64(n.phase) + uint64(total)
	n.phase = uint32(sum)
	return sum >> 32
}

// Phase returns the current accumulator value (0..2^32 maps to 0..360 degrees).
func (n *NCO) Phase() uint32 {
	return n.phase
}

// Frequency returns the current frequency word.
func (n *NCO) Frequency() uint32 {
	return n.freq
}

// SetFrequency changes the rate without a phase discontinuity.
func (n *NCO) SetFrequency(word uint32) {
	n.freq = word
}

// AdjustPhase schedules a one-time signed correction. The correction adds
// to the accumulator without resetting it, keeping the phase continuous.
// Successive corrections before a tick accumulate.
func (n *NCO) AdjustPhase(delta int32) {
	n.pending += delta
}

// Reset forces phase and any pending correction to zero.
// The frequency word is preserved.
func (n *NCO) Reset() {
	n.phase = 0
	n.pending = 0
}
