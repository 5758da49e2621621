// Package pll closes the timing-recovery loop: a phase detector compares
// each flux edge against the NCO bit-cell center, and the loop controller
// feeds the error back into the oscillator while tracking lock state.
package pll

// Zone classifies how far an edge landed from the bit-cell center.
type Zone int

const (
	// OnTime means the edge fell within 45 degrees of the cell center.
	OnTime Zone = iota
	// Early means the edge led the center by 45 to 90 degrees.
	Early
	// Late means the edge trailed the center by 45 to 90 degrees.
	Late
	// WayOff means the edge was more than 90 degrees out: the loop is
	// not tracking a real edge, likely noise or a rate mismatch.
	WayOff
)

func (z Zone) String() string {
	switch z {
	case OnTime:
		return "on-time"
	case Early:
		return "early"
	case Late:
		return "late"
	default:
		return "way-off"
	}
}

// Angular thresholds in signed 1/65536-cycle units (45 and 90 degrees).
const (
	onTimeLimit = 1 << 13 // 45 degrees
	zoneLimit   = 1 << 14 // 90 degrees
)

// cellCenter is the NCO phase of the bit-cell center.
const cellCenter = 1 << 31

// PhaseError is one phase measurement.
// Error is the signed distance from the nearest cell center as a fraction
// of a full cycle in 1/65536 units: positive means the edge came late.
type PhaseError struct {
	Error int16
	Zone  Zone
}

// Detector computes phase errors from the NCO accumulator value latched
// at edge-detection time.
type Detector struct {
	last  PhaseError
	valid bool
}

// OnEdge classifies one edge given the NCO phase at detection time.
func (d *Detector) OnEdge(phase uint32) PhaseError {
	// Signed distance from the cell center; wraparound arithmetic picks
	// the nearest center automatically.
	err32 := int32(phase - cellCenter)
	err := int16(err32 >> 16)

	var zone Zone
	switch {
	case err >= -onTimeLimit && err <= onTimeLimit:
		zone = OnTime
	case err > onTimeLimit && err <= zoneLimit:
		zone = Late
	case err < -onTimeLimit && err >= -zoneLimit:
		zone = Early
	default:
		zone = WayOff
	}

	d.last = PhaseError{Error: err, Zone: zone}
	d.valid = true
	return d.last
}

// Last returns the most recent measurement.
// ok is false if no edge has been observed since the last Invalidate.
func (d *Detector) Last() (PhaseError, bool) {
	return d.last, d.valid
}

// Invalidate clears the error-valid flag. The loop calls this once the
// measurement has been consumed; Reset does too.
func (d *Detector) Invalidate() {
	d.valid = false
}

// Reset clears the detector state.
func (d *Detector) Reset() {
	d.last = PhaseError{}
	d.valid = false
}
