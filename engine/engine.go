// Package engine runs the flux recovery pipeline: histogram collection,
// PLL clock recovery, bit decoding and auto-detection, driven by one
// ordered stream of flux events.
package engine

import (
	"fmt"
	"io"

	"github.com/sergev/fluxdec/autodetect"
	"github.com/sergev/fluxdec/decoder"
	"github.com/sergev/fluxdec/flux"
	"github.com/sergev/fluxdec/histogram"
	"github.com/sergev/fluxdec/nco"
	"github.com/sergev/fluxdec/pll"
	"github.com/sergev/fluxdec/spectral"
)

// Debug output flag
var DebugFlag = false

// Mode selects how much of the input the engine consumes before stopping.
type Mode int

const (
	// Continuous runs until the event source is exhausted.
	Continuous Mode = iota
	// OneRevolution stops after the first complete index-to-index rotation.
	OneRevolution
	// OneTrack stops after RevsPerTrack complete rotations.
	OneTrack
)

// RevsPerTrack is the number of rotations a OneTrack capture consumes.
// Two revolutions guarantee every sector is seen at least once in full.
const RevsPerTrack = 2

// spectralBlock is the sample block size handed to the background analyzer.
const spectralBlock = 64

// Status is a read-only snapshot of the engine's state registers.
type Status struct {
	LockState   pll.State
	DataRate    uint32 // bits per second, from the current NCO frequency
	Encoding    decoder.Encoding
	Confidence  uint8
	Determined  bool
	RPM         uint32
	Revolutions uint64
	Records     uint64
	CRCPass     uint64
	CRCFail     uint64
	SampleDrops uint64 // spectral blocks dropped under backpressure
	Overflows   uint32 // histogram interval clamps
	Profile     uint32 // packed drive profile word
}

// Engine is the single-writer pipeline state. All methods must be called
// from one goroutine; the only concurrent component is the spectral
// worker, fed through a bounded non-blocking queue.
type Engine struct {
	tickRate float64
	mode     Mode

	det          *autodetect.Detector
	dual         *histogram.Dual
	useB         bool
	loop         *pll.Loop
	dec          *decoder.Decoder
	sampler      *spectral.Sampler
	samplePeriod uint64
	worker       *spectral.Worker

	raw *flux.StreamWriter

	hyp      autodetect.Hypothesis
	stable   bool
	rotation []flux.Event
	haveTime bool
	lastTime uint64

	revolutions uint64
	records     uint64
	crcPass     uint64
	crcFail     uint64

	dropBase uint64

	onRecord func(decoder.Record)
	metrics  *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithRawOutput streams every input event to w in the 32-bit framed
// raw capture format.
func WithRawOutput(w io.Writer) Option {
	return func(e *Engine) { e.raw = flux.NewStreamWriter(w) }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRecordHandler registers a callback invoked for every decoded record.
func WithRecordHandler(fn func(decoder.Record)) Option {
	return func(e *Engine) { e.onRecord = fn }
}

// New creates an engine for the given capture tick rate in Hz.
func New(tickRate float64, mode Mode, opts ...Option) (*Engine, error) {
	det, err := autodetect.New(tickRate)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	fft, err := spectral.NewAnalyzer(spectralBlock, tickRate)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		tickRate: tickRate,
		mode:     mode,
		det:      det,
		dual:     histogram.NewDual(),
		dec:      decoder.New(decoder.EncUnknown),
		worker:   spectral.NewWorker(fft, 2),
	}

	// Until a rate hypothesis exists the oscillator free-runs at the
	// double-density default. The tracked cell is the raw bitcell, two
	// per data bit, so the cell rate is twice the data rate.
	word := nco.FrequencyWord(2*250000, tickRate)
	e.loop = pll.NewLoop(nco.New(word), word)

	e.dec.OnRecord(e.recordDone)

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close stops the spectral worker. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.worker.Close()
}

// Run consumes events from src until the capture mode is satisfied or the
// source is exhausted. It may be called repeatedly with successive sources.
func (e *Engine) Run(src flux.EventSource) error {
	for {
		ev, ok := src.NextEvent()
		if !ok {
			return nil
		}
		done, err := e.Process(ev)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Process feeds one event through the pipeline. done reports that the
// capture mode's rotation quota has been reached.
func (e *Engine) Process(ev flux.Event) (done bool, err error) {
	if e.raw != nil {
		if err := e.raw.WriteEvent(ev); err != nil {
			return false, fmt.Errorf("raw stream: %w", err)
		}
	}
	if e.metrics != nil && ev.Kind == flux.Transition {
		e.metrics.Transitions.Inc()
	}

	// Rotation assembly starts at the first index pulse.
	if len(e.rotation) > 0 || ev.Kind == flux.IndexPulse {
		e.rotation = append(e.rotation, ev)
	}

	switch ev.Kind {
	case flux.Transition:
		e.onTransition(ev.Time)
	case flux.IndexPulse:
		if len(e.rotation) > 1 {
			done = e.onRotation()
		}
	}
	return done, nil
}

func (e *Engine) onTransition(t uint64) {
	// The interval baseline is the previous transition. Index pulses do
	// not touch it: the medium keeps rotating through the index and the
	// oscillator must see the full transition-to-transition span.
	if !e.haveTime {
		e.haveTime = true
		e.lastTime = t
		return
	}
	interval := t - e.lastTime
	e.lastTime = t
	clamped := interval
	if clamped > 1<<32-1 {
		clamped = 1<<32 - 1
	}
	if e.useB {
		e.dual.B.Record(uint32(clamped))
	} else {
		e.dual.A.Record(uint32(clamped))
	}

	wasLocked := e.loop.State() == pll.Locked
	cells, pe := e.loop.OnInterval(interval)
	if e.metrics != nil && pe.Zone == pll.WayOff {
		e.metrics.WayOffEdges.Inc()
	}

	// Losing lock invalidates the bit alignment: any record in progress
	// is garbage, drop it and go back to sync search.
	if wasLocked && e.loop.State() != pll.Locked {
		e.dec.Resync()
	}

	// One transition terminates a run of empty cells: the decoder sees
	// a zero per empty cell and a one for the cell holding the edge.
	if e.dec.Encoding() != decoder.EncUnknown && cells > 0 {
		for i := uint64(1); i < cells; i++ {
			e.dec.PushBit(0)
		}
		e.dec.PushBit(1)
	}

	if e.sampler != nil {
		if block := e.sampler.OnTransition(t); block != nil {
			e.worker.TrySubmit(block)
		}
	}
	e.drainSpectral()
}

// onRotation runs at each index pulse that completes a full rotation.
func (e *Engine) onRotation() (done bool) {
	e.revolutions++
	if e.metrics != nil {
		e.metrics.Revolutions.Inc()
	}

	hyp, err := e.det.Analyze(e.rotation)
	if err == nil {
		e.applyHypothesis(hyp)
	} else if DebugFlag {
		fmt.Printf("engine: rotation %d: %v\n", e.revolutions, err)
	}

	// A/B comparison across alternating rotations: a stable medium
	// produces matching peak bins, which marks the profile as locked.
	e.stable = e.dual.RateMatch()
	e.useB = !e.useB
	if e.useB {
		e.dual.B.Clear()
	} else {
		e.dual.A.Clear()
	}

	// Restart assembly from this index pulse.
	last := e.rotation[len(e.rotation)-1]
	e.rotation = append(e.rotation[:0], last)

	switch e.mode {
	case OneRevolution:
		return true
	case OneTrack:
		return e.revolutions >= RevsPerTrack
	}
	return false
}

func (e *Engine) applyHypothesis(hyp autodetect.Hypothesis) {
	e.hyp = hyp
	if e.metrics != nil {
		e.metrics.Confidence.Set(float64(hyp.Confidence))
		e.metrics.RPM.Set(float64(hyp.RPM))
	}
	if !hyp.Determined {
		return
	}

	if DebugFlag {
		fmt.Printf("engine: detected %v at %d bps, %d rpm (confidence %d)\n",
			hyp.Encoding, hyp.Rate, hyp.RPM, hyp.Confidence)
	}

	cellRate := float64(hyp.Rate) * float64(hyp.Encoding.HalfCellsPerBit())
	word := nco.FrequencyWord(cellRate, e.tickRate)
	if word != e.loop.Oscillator().Frequency() {
		e.loop.SetNominal(word)
	}
	if e.dec.Encoding() != hyp.Encoding {
		e.dec.SetEncoding(hyp.Encoding)
	}

	// Sample the waveform at a quarter of the dominant interval so the
	// fundamental lands mid-spectrum for the background analyzer.
	period := uint64(e.tickRate / float64(hyp.Rate) / 4)
	if period == 0 {
		period = 1
	}
	if e.sampler == nil {
		e.sampler = spectral.NewSampler(period, spectralBlock)
	} else if period != e.samplePeriod {
		e.sampler.SetPeriod(period)
	}
	e.samplePeriod = period
}

func (e *Engine) recordDone(rec decoder.Record) {
	e.records++
	if rec.CRCValid {
		e.crcPass++
	} else {
		e.crcFail++
	}
	if e.metrics != nil {
		if rec.CRCValid {
			e.metrics.CRCPass.Inc()
		} else {
			e.metrics.CRCFail.Inc()
		}
	}
	if e.onRecord != nil {
		e.onRecord(rec)
	}
}

// drainSpectral consumes any finished background analyses without blocking.
func (e *Engine) drainSpectral() {
	for {
		select {
		case res := <-e.worker.Results():
			if e.metrics != nil && e.samplePeriod > 0 {
				// The sampler decimates by samplePeriod, so the bin
				// spacing is tickRate/period/blockSize.
				freq := float64(res.PeakBin) * e.tickRate /
					float64(e.samplePeriod) / spectralBlock
				e.metrics.SpectralPeak.Set(freq)
			}
		default:
			return
		}
	}
}

// Resync forces the decoder back to sync search without touching the PLL.
func (e *Engine) Resync() {
	e.dec.Resync()
}

// SoftReset clears all accumulated state. Afterwards the engine is
// indistinguishable from a freshly constructed one with the same options.
func (e *Engine) SoftReset() {
	e.dual.Clear()
	e.useB = false
	e.det.Histogram().Clear()
	e.loop.Reset()
	word := nco.FrequencyWord(2*250000, e.tickRate)
	e.loop.SetNominal(word)
	e.dec.Reset()
	e.dec.SetEncoding(decoder.EncUnknown)
	if e.sampler != nil {
		e.sampler.Reset()
	}
	e.sampler = nil
	e.samplePeriod = 0
	e.dropBase = e.worker.Dropped()
	e.hyp = autodetect.Hypothesis{}
	e.stable = false
	e.rotation = nil
	e.haveTime = false
	e.lastTime = 0
	e.revolutions = 0
	e.records = 0
	e.crcPass = 0
	e.crcFail = 0
}

// Records drains decoded records accumulated since the last call.
func (e *Engine) Records() []decoder.Record {
	return e.dec.Records()
}

// Hypothesis returns the latest auto-detection result.
func (e *Engine) Hypothesis() autodetect.Hypothesis {
	return e.hyp
}

// Status captures the engine's state registers.
func (e *Engine) Status() Status {
	stats := e.loop.Stats()
	// The oscillator tracks raw bitcells, two per data bit.
	cellRate := float64(stats.Frequency) * e.tickRate / (1 << 32)
	rate := uint32(cellRate / 2)

	var overflow uint32
	overflow += e.dual.A.Stats().OverflowCount
	overflow += e.dual.B.Stats().OverflowCount

	return Status{
		LockState:   stats.State,
		DataRate:    rate,
		Encoding:    e.dec.Encoding(),
		Confidence:  e.hyp.Confidence,
		Determined:  e.hyp.Determined,
		RPM:         e.hyp.RPM,
		Revolutions: e.revolutions,
		Records:     e.records,
		CRCPass:     e.crcPass,
		CRCFail:     e.crcFail,
		SampleDrops: e.worker.Dropped() - e.dropBase,
		Overflows:   overflow,
		Profile:     autodetect.PackProfile(e.hyp, e.stable),
	}
}
