package autodetect

import "github.com/sergev/fluxdec/decoder"

// Drive profile word, packed the way the controller hardware publishes it:
//
//	[8:6]   encoding
//	[9]     valid flag
//	[10]    locked flag
//	[23:16] RPM / 10
//	[31:24] quality score
//
// The form-factor and track-density fields stay zero (unknown): they need
// head-positioning information this engine does not have.
const (
	profileEncShift     = 6
	profileEncFM        = 1
	profileEncMFM       = 2
	profileValid        = 1 << 9
	profileLocked       = 1 << 10
	profileRPMShift     = 16
	profileQualityShift = 24
)

// PackProfile encodes a hypothesis into the drive profile register format.
// locked marks a profile that has been stable across rotations.
func PackProfile(h Hypothesis, locked bool) uint32 {
	var word uint32

	switch h.Encoding {
	case decoder.EncFM:
		word |= profileEncFM << profileEncShift
	case decoder.EncMFM:
		word |= profileEncMFM << profileEncShift
	}

	if h.Determined {
		word |= profileValid
	}
	if locked {
		word |= profileLocked
	}

	word |= (uint32(h.RPMNominal) / 10 & 0xff) << profileRPMShift
	word |= uint32(h.Confidence) << profileQualityShift
	return word
}

// UnpackProfile decodes a drive profile word back into a hypothesis.
func UnpackProfile(word uint32) (h Hypothesis, locked bool) {
	switch word >> profileEncShift & 0x7 {
	case profileEncFM:
		h.Encoding = decoder.EncFM
	case profileEncMFM:
		h.Encoding = decoder.EncMFM
	}
	h.Determined = word&profileValid != 0
	h.RPMNominal = uint16(word >> profileRPMShift & 0xff * 10)
	h.RPM = uint32(h.RPMNominal)
	h.Confidence = uint8(word >> profileQualityShift)
	return h, word&profileLocked != 0
}
