package histogram

// RateMatchTolerance is the maximum peak-bin distance at which two
// capture passes are considered to agree on the data rate.
const RateMatchTolerance = 2

// Dual holds two histograms for A/B comparison across capture passes.
type Dual struct {
	A *Histogram
	B *Histogram
}

// NewDual returns a pair of empty histograms.
func NewDual() *Dual {
	return &Dual{A: New(), B: New()}
}

// Clear resets both histograms.
func (d *Dual) Clear() {
	d.A.Clear()
	d.B.Clear()
}

// RateMatch reports whether the two passes agree on the dominant interval:
// their peak bins differ by at most RateMatchTolerance.
// Empty histograms never match.
func (d *Dual) RateMatch() bool {
	if d.A.TotalCount() == 0 || d.B.TotalCount() == 0 {
		return false
	}
	diff := d.A.PeakBin() - d.B.PeakBin()
	if diff < 0 {
		diff = -diff
	}
	return diff <= RateMatchTolerance
}
