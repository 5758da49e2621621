// Package histogram accumulates the distribution of inter-transition flux
// intervals. The layout mirrors the capture hardware: a fixed power-of-two
// bin array indexed by interval>>shift, saturating counters, and running
// statistics cheap enough to update on every transition.
package histogram

const (
	// Bins is the number of histogram bins.
	Bins = 256
	// BinShift maps an interval in ticks to a bin: bin = interval >> BinShift.
	// Eight-tick bins cover intervals up to 2048 ticks, which keeps the
	// longest MFM interval in range even at a 200 MHz capture clock.
	BinShift = 3
	// counterMax is the saturation limit of one bin counter.
	counterMax = 0xffff
	// emaShift gives the exponential moving average a 1/16 decay per sample.
	emaShift = 4
)

// Stats is a summary of the histogram state.
type Stats struct {
	TotalCount     uint32
	IntervalMin    uint32
	IntervalMax    uint32
	PeakBin        int
	PeakCount      uint16
	MeanInterval   uint32
	OverflowCount  uint32
	UnderflowCount uint32
}

// Histogram collects interval samples into fixed-width bins.
type Histogram struct {
	bins       [Bins]uint16
	enabled    bool
	total      uint32
	min        uint32
	max        uint32
	overflows  uint32
	underflows uint32
	peakBin    int
	peakCount  uint16
	mean       uint32 // EMA of intervals, in ticks
	meanSet    bool
}

// New returns an enabled, empty histogram.
func New() *Histogram {
	h := &Histogram{}
	h.Clear()
	return h
}

// SetEnabled turns sample collection on or off. Record is a no-op while
// disabled; statistics are preserved.
func (h *Histogram) SetEnabled(on bool) {
	h.enabled = on
}

// Clear resets all bins and statistics and leaves the histogram enabled.
func (h *Histogram) Clear() {
	*h = Histogram{enabled: true}
	h.min = ^uint32(0)
}

// Record adds one interval sample.
// Intervals beyond the last bin are clamped there and counted as overflow.
func (h *Histogram) Record(interval uint32) {
	if !h.enabled {
		return
	}

	bin := int(interval >> BinShift)
	if bin >= Bins {
		bin = Bins - 1
		h.overflows++
	} else if bin == 0 {
		// Shorter than one bin width: almost certainly a glitch.
		// Counted separately but still lands in bin 0.
		h.underflows++
	}

	if h.bins[bin] < counterMax {
		h.bins[bin]++
	}
	h.total++

	if interval < h.min {
		h.min = interval
	}
	if interval > h.max {
		h.max = interval
	}

	// Peak tracking is incremental: only the bin just bumped can become
	// the new peak.
	if h.bins[bin] > h.peakCount {
		h.peakCount = h.bins[bin]
		h.peakBin = bin
	}

	// EMA with 1/16 decay, seeded from the first sample.
	switch {
	case !h.meanSet:
		h.mean = interval
		h.meanSet = true
	case interval >= h.mean:
		h.mean += (interval - h.mean) >> emaShift
	default:
		h.mean -= (h.mean - interval) >> emaShift
	}
}

// ReadBin returns the count in bin i, or 0 for an out-of-range index.
func (h *Histogram) ReadBin(i int) uint16 {
	if i < 0 || i >= Bins {
		return 0
	}
	return h.bins[i]
}

// TotalCount returns the number of samples recorded since the last Clear.
func (h *Histogram) TotalCount() uint32 {
	return h.total
}

// PeakBin returns the bin with the highest count.
func (h *Histogram) PeakBin() int {
	return h.peakBin
}

// PeakInterval returns the center interval of the peak bin, in ticks.
func (h *Histogram) PeakInterval() uint32 {
	return uint32(h.peakBin)<<BinShift + (1 << BinShift / 2)
}

// Stats returns a summary of the current state.
func (h *Histogram) Stats() Stats {
	min := h.min
	if h.total == 0 {
		min = 0
	}
	return Stats{
		TotalCount:     h.total,
		IntervalMin:    min,
		IntervalMax:    h.max,
		PeakBin:        h.peakBin,
		PeakCount:      h.peakCount,
		MeanInterval:   h.mean,
		OverflowCount:  h.overflows,
		UnderflowCount: h.underflows,
	}
}

// Snapshot returns a frozen copy for cross-pass comparison.
// The copy is disabled so it cannot accumulate further samples.
func (h *Histogram) Snapshot() *Histogram {
	snap := *h
	snap.enabled = false
	return &snap
}
