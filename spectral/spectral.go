// Package spectral computes a fixed-point frequency-domain transform of a
// windowed sample block, used to estimate rotational period and dominant
// transition frequency independently of the histogram's coarse binning.
//
// The core is a radix-2 decimation-in-time transform with Q1.14 twiddle
// factors and a >>1 scale per stage, matching the integer butterfly the
// capture hardware implements. It is deliberately not a float FFT; the
// gonum transform serves as the reference in tests.
package spectral

import (
	"fmt"
	"math"
)

// twiddleShift is the fixed-point fraction width of the twiddle factors.
const twiddleShift = 14

// Coefficient is one frequency bin of the transform output.
type Coefficient struct {
	Bin  int
	Real int32
	Imag int32
}

// Result summarizes a completed transform.
type Result struct {
	Magnitudes []uint32 // magnitude per bin, 0..N-1
	PeakBin    int
	PeakMag    uint32
	PeakFreq   float64 // Hz, truncated to one decimal digit
}

type state int

const (
	idle state = iota
	busy
	done
)

// Analyzer runs transforms over fixed-size blocks of signed samples.
// Block size is fixed at construction and must be a power of two.
type Analyzer struct {
	n          int
	logN       int
	sampleRate float64
	cos        []int32 // Q1.14 twiddles, cos(2*pi*k/n) for k in 0..n/2-1
	sin        []int32
	rev        []int

	st     state
	re     []int32
	im     []int32
	coeffs []Coefficient
	result Result
}

// NewAnalyzer creates an analyzer for n-point blocks sampled at sampleRate Hz.
func NewAnalyzer(n int, sampleRate float64) (*Analyzer, error) {
	if n < 2 || n&(n-1) != 0 {
		return nil, fmt.Errorf("block size %d is not a power of two", n)
	}
	logN := 0
	for 1<<logN < n {
		logN++
	}

	a := &Analyzer{
		n:          n,
		logN:       logN,
		sampleRate: sampleRate,
		cos:        make([]int32, n/2),
		sin:        make([]int32, n/2),
		rev:        make([]int, n),
		re:         make([]int32, n),
		im:         make([]int32, n),
		coeffs:     make([]Coefficient, n),
	}

	for k := 0; k < n/2; k++ {
		angle := 2 * math.Pi * float64(k) / float64(n)
		a.cos[k] = int32(math.Round(math.Cos(angle) * (1 << twiddleShift)))
		a.sin[k] = int32(math.Round(math.Sin(angle) * (1 << twiddleShift)))
	}

	// Bit-reversal permutation table.
	for i := 0; i < n; i++ {
		r := 0
		for b := 0; b < logN; b++ {
			r = (r << 1) | ((i >> b) & 1)
		}
		a.rev[i] = r
	}
	return a, nil
}

// Size returns the block size.
func (a *Analyzer) Size() int {
	return a.n
}

// Busy reports whether a transform is loaded but not yet finished.
func (a *Analyzer) Busy() bool {
	return a.st == busy
}

// Done reports whether a completed result is available.
func (a *Analyzer) Done() bool {
	return a.st == done
}

// Start loads one block of samples and runs the transform to completion.
// Returns an error if a previous result has not been collected or the
// block size is wrong.
func (a *Analyzer) Start(samples []int16) error {
	if a.st == busy {
		return fmt.Errorf("analyzer busy")
	}
	if len(samples) != a.n {
		return fmt.Errorf("got %d samples, want %d", len(samples), a.n)
	}
	a.st = busy

	// Load in bit-reversed order.
	for i := 0; i < a.n; i++ {
		a.re[a.rev[i]] = int32(samples[i])
		a.im[a.rev[i]] = 0
	}

	// log2(N) butterfly stages, each scaled by >>1 to bound growth.
	for stage := 1; stage <= a.logN; stage++ {
		span := 1 << stage       // butterfly group size
		half := span >> 1        // distance between pair elements
		step := a.n / span       // twiddle index stride
		for group := 0; group < a.n; group += span {
			for k := 0; k < half; k++ {
				w := k * step
				i := group + k
				j := i + half

				// (tr, ti) = twiddle * x[j], rounded at Q1.14.
				tr := int32((int64(a.cos[w])*int64(a.re[j]) + int64(a.sin[w])*int64(a.im[j]) + (1 << (twiddleShift - 1))) >> twiddleShift)
				ti := int32((int64(a.cos[w])*int64(a.im[j]) - int64(a.sin[w])*int64(a.re[j]) + (1 << (twiddleShift - 1))) >> twiddleShift)

				a.re[j] = (a.re[i] - tr) >> 1
				a.im[j] = (a.im[i] - ti) >> 1
				a.re[i] = (a.re[i] + tr) >> 1
				a.im[i] = (a.im[i] + ti) >> 1
			}
		}
	}

	a.finish()
	return nil
}

// finish computes magnitudes, the peak, and stream coefficients.
func (a *Analyzer) finish() {
	mags := make([]uint32, a.n)
	peakBin := 0
	peakMag := uint32(0)
	for i := 0; i < a.n; i++ {
		a.coeffs[i] = Coefficient{Bin: i, Real: a.re[i], Imag: a.im[i]}
		mags[i] = isqrt(int64(a.re[i])*int64(a.re[i]) + int64(a.im[i])*int64(a.im[i]))
		// Bin 0 is DC; a flux stream always has a DC component and it
		// says nothing about the transition rate.
		if i > 0 && mags[i] > peakMag {
			peakMag = mags[i]
			peakBin = i
		}
	}

	freq := float64(peakBin) * a.sampleRate / float64(a.n)
	a.result = Result{
		Magnitudes: mags,
		PeakBin:    peakBin,
		PeakMag:    peakMag,
		PeakFreq:   math.Trunc(freq*10) / 10,
	}
	a.st = done
}

// Coefficients returns the per-bin (bin, real, imag) stream of the last
// completed transform.
func (a *Analyzer) Coefficients() []Coefficient {
	if a.st != done {
		return nil
	}
	return a.coeffs
}

// Result returns the last completed result and returns the analyzer to
// the idle state.
func (a *Analyzer) Result() (Result, error) {
	if a.st != done {
		return Result{}, fmt.Errorf("no completed transform")
	}
	a.st = idle
	return a.result, nil
}

// isqrt returns the integer square root of v.
func isqrt(v int64) uint32 {
	if v <= 0 {
		return 0
	}
	r := uint32(math.Sqrt(float64(v)))
	// Floating sqrt can land one off near perfect squares.
	for int64(r)*int64(r) > v {
		r--
	}
	for int64(r+1)*int64(r+1) <= v {
		r++
	}
	return r
}
