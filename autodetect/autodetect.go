// Package autodetect infers a medium's data rate and encoding from one
// rotation of flux events, with no prior knowledge. Two independent
// estimators vote: the interval histogram's peak bin and the spectral
// analyzer's dominant frequency. Either alone is fooled by pathological
// media; agreement is what raises confidence.
package autodetect

import (
	"fmt"

	"github.com/sergev/fluxdec/decoder"
	"github.com/sergev/fluxdec/flux"
	"github.com/sergev/fluxdec/histogram"
	"github.com/sergev/fluxdec/spectral"
)

const (
	// fftSize is the spectral window length.
	fftSize = 64
	// rateTolerance is the relative error allowed when snapping the
	// measured rate to a standard one.
	rateTolerance = 0.15
	// ConfidenceThreshold is the minimum confidence for a determined
	// result; below it the hypothesis needs another rotation's data.
	ConfidenceThreshold = 128
	// spectralTolerance is the relative disagreement allowed between the
	// histogram's dominant interval and the one implied by the spectral
	// peak frequency.
	spectralTolerance = 0.5
)

// Standard floppy rates per encoding, in bits per second.
var standardRates = map[decoder.Encoding][]uint32{
	decoder.EncFM:  {125000, 250000},
	decoder.EncMFM: {250000, 300000, 500000, 1000000},
}

// Hypothesis is the coordinator's best-effort classification.
type Hypothesis struct {
	Rate       uint32 // bits per second, snapped to a standard rate
	Encoding   decoder.Encoding
	Confidence uint8 // 0-255
	Determined bool  // false: ambiguous, repeat with the next rotation
	RPM        uint32
	RPMNominal uint16 // snapped to 300 or 360
}

// Detector runs the auto-detection analysis.
type Detector struct {
	tickRate float64
	hist     *histogram.Histogram
	fft      *spectral.Analyzer
}

// New creates a detector for flux timestamps in ticks of tickRate Hz.
func New(tickRate float64) (*Detector, error) {
	hist := histogram.New()
	fft, err := spectral.NewAnalyzer(fftSize, tickRate)
	if err != nil {
		return nil, err
	}
	return &Detector{tickRate: tickRate, hist: hist, fft: fft}, nil
}

// Histogram exposes the detector's histogram for status reporting.
func (d *Detector) Histogram() *histogram.Histogram {
	return d.hist
}

// Analyze classifies one rotation of flux events, bounded by two index
// pulses. Returns an error only when the events do not contain a full
// rotation; an ambiguous medium yields Determined=false instead.
func (d *Detector) Analyze(events []flux.Event) (Hypothesis, error) {
	transitions, period, ok := flux.Rotation(events)
	if !ok {
		return Hypothesis{}, fmt.Errorf("need two index pulses for a full rotation")
	}
	if len(transitions) < fftSize {
		return Hypothesis{}, fmt.Errorf("only %d transitions in rotation", len(transitions))
	}

	// Feed intervals into the histogram.
	d.hist.Clear()
	last := transitions[0]
	for _, t := range transitions[1:] {
		d.hist.Record(uint32(t - last))
		last = t
	}

	stats := d.hist.Stats()
	peakTicks := uint64(d.hist.PeakInterval())
	if peakTicks == 0 {
		peakTicks = 1
	}
	peakSeconds := float64(peakTicks) / d.tickRate

	// Shape classification: MFM shows a peak near 1.5x the dominant
	// interval (the 3-half-cell pattern); FM has only the 2x peak.
	enc := decoder.EncFM
	if d.binWeight(stats.PeakBin*3/2) > stats.TotalCount/32 {
		enc = decoder.EncMFM
	}

	// The dominant interval maps to the data rate through the encoding's
	// cell ratio: the MFM peak is one bit time, the FM peak a half cell.
	var measured float64
	if enc == decoder.EncMFM {
		measured = 1 / peakSeconds
	} else {
		measured = 1 / (2 * peakSeconds)
	}

	rate, rateErr := snapRate(enc, measured)

	// Cross-check with the spectral analyzer. The waveform toggles once
	// per transition, so its dominant frequency implies a transition
	// interval of 1/(2*f); that must agree with the histogram peak.
	// Sampling at a quarter of the dominant interval puts the expected
	// fundamental mid-band.
	samplePeriod := peakTicks / 4
	if samplePeriod == 0 {
		samplePeriod = 1
	}
	block := spectral.SampleWaveform(transitions, samplePeriod, fftSize)
	agree := false
	if err := d.fft.Start(block); err == nil {
		if res, err := d.fft.Result(); err == nil && res.PeakBin > 0 {
			bin := res.PeakBin
			if bin > fftSize/2 {
				bin = fftSize - bin // mirror carries the same energy
			}
			impliedTicks := float64(fftSize) * float64(samplePeriod) / (2 * float64(bin))
			relErr := (impliedTicks - float64(peakTicks)) / float64(peakTicks)
			if relErr < 0 {
				relErr = -relErr
			}
			agree = relErr <= spectralTolerance
		}
	}

	conf := confidence(stats, d.binWeight(stats.PeakBin), rateErr, agree)

	hyp := Hypothesis{
		Rate:       rate,
		Encoding:   enc,
		Confidence: conf,
		Determined: rate != 0 && agree && conf >= ConfidenceThreshold,
	}
	hyp.RPM, hyp.RPMNominal = RPMFromPeriod(period, d.tickRate)
	if !hyp.Determined {
		hyp.Encoding = decoder.EncUnknown
	}
	return hyp, nil
}

// binWeight sums the counts in bin and its immediate neighbors.
func (d *Detector) binWeight(bin int) uint32 {
	total := uint32(0)
	for i := bin - 1; i <= bin+1; i++ {
		total += uint32(d.hist.ReadBin(i))
	}
	return total
}

// snapRate picks the closest standard rate for the encoding.
// Returns rate 0 when nothing is within tolerance.
func snapRate(enc decoder.Encoding, measured float64) (uint32, float64) {
	best := uint32(0)
	bestErr := rateTolerance
	for _, std := range standardRates[enc] {
		relErr := (measured - float64(std)) / float64(std)
		if relErr < 0 {
			relErr = -relErr
		}
		if relErr < bestErr {
			best = std
			bestErr = relErr
		}
	}
	return best, bestErr
}

// confidence folds the estimator outputs into a 0-255 quality score.
func confidence(stats histogram.Stats, peakWeight uint32, rateErr float64, agree bool) uint8 {
	if stats.TotalCount == 0 {
		return 0
	}

	// Concentration of mass around the peak, 0-128.
	score := int(uint64(peakWeight) * 128 / uint64(stats.TotalCount))
	if score > 128 {
		score = 128
	}

	// Closeness to a standard rate, 0-64.
	score += int((rateTolerance - rateErr) / rateTolerance * 64)

	// The two-source vote is worth the rest.
	if agree {
		score += 64
	}

	if score < 0 {
		score = 0
	}
	if score > 255 {
		score = 255
	}
	return uint8(score)
}

// RPMFromPeriod converts an index-to-index period to rotational speed.
// The nominal value snaps to the standard 300 or 360 RPM, using the
// midpoint as the threshold.
func RPMFromPeriod(periodTicks uint64, tickRate float64) (rpm uint32, nominal uint16) {
	if periodTicks == 0 {
		return 0, 0
	}
	rpm = uint32(60 * tickRate / float64(periodTicks))
	if rpm < 330 {
		return rpm, 300
	}
	return rpm, 360
}
