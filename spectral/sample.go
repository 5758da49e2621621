package spectral

// amplitude is the sample magnitude of the synthesized read waveform.
const amplitude = 1024

// Sampler converts a flux transition stream into fixed-rate signed samples
// of the read waveform, which toggles polarity at every transition. Full
// blocks are handed to the analyzer; the sampler itself never blocks.
type Sampler struct {
	period uint64 // ticks between samples
	next   uint64 // time of the next sample point
	level  int16
	block  []int16
	fill   int
}

// NewSampler creates a sampler with the given sample period in ticks,
// producing blocks of blockSize samples.
func NewSampler(periodTicks uint64, blockSize int) *Sampler {
	return &Sampler{
		period: periodTicks,
		level:  amplitude,
		block:  make([]int16, blockSize),
	}
}

// Reset restarts the sampler at time zero with an empty block.
func (s *Sampler) Reset() {
	s.next = 0
	s.level = amplitude
	s.fill = 0
}

// SetPeriod changes the sample period and restarts the sampler.
func (s *Sampler) SetPeriod(periodTicks uint64) {
	s.period = periodTicks
	s.Reset()
}

// OnTransition advances the sample clock to time t, then toggles the
// waveform polarity. Returns a completed block, or nil. The returned
// slice is a copy the caller may keep.
func (s *Sampler) OnTransition(t uint64) []int16 {
	var full []int16
	for s.next <= t {
		s.block[s.fill] = s.level
		s.fill++
		s.next += s.period
		if s.fill == len(s.block) {
			s.fill = 0
			full = append([]int16(nil), s.block...)
		}
	}
	s.level = -s.level
	return full
}

// SampleWaveform renders the first n fixed-rate samples of the waveform
// described by the given transition times.
func SampleWaveform(transitions []uint64, periodTicks uint64, n int) []int16 {
	s := NewSampler(periodTicks, n)
	for _, t := range transitions {
		if block := s.OnTransition(t); block != nil {
			return block
		}
	}
	// Not enough signal to fill a block; pad with the resting level.
	out := make([]int16, n)
	copy(out, s.block[:s.fill])
	for i := s.fill; i < n; i++ {
		out[i] = s.level
	}
	return out
}
