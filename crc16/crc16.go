// Package crc16 implements the CRC-CCITT checksum (x^16 + x^12 + x^5 + 1)
// used by IBM floppy sector framing. Both a table-driven and a bit-serial
// form are provided; they are equivalent for every input.
package crc16

// Poly is the CCITT-16 generator polynomial.
const Poly = 0x1021

// Init is the conventional all-ones preset.
const Init = 0xffff

var table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ Poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
}

// UpdateByte feeds one byte through the table-driven CRC.
func UpdateByte(crc uint16, b byte) uint16 {
	return (crc << 8) ^ table[byte(crc>>8)^b]
}

// Update feeds a byte slice through the table-driven CRC.
func Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = UpdateByte(crc, b)
	}
	return crc
}

// UpdateBitSerial feeds one byte through the CRC one bit at a time,
// MSB first, the way the hardware LFSR shifts it.
func UpdateBitSerial(crc uint16, b byte) uint16 {
	crc ^= uint16(b) << 8
	for bit := 0; bit < 8; bit++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ Poly
		} else {
			crc <<= 1
		}
	}
	return crc
}

// Validator accumulates a record's bytes and reports integrity.
// A correctly received record, data plus trailing check bytes, reduces
// the running CRC to zero; that zero state is the sole validity predicate.
type Validator struct {
	crc uint16
}

// NewValidator returns a validator preset to Init.
func NewValidator() *Validator {
	return &Validator{crc: Init}
}

// Reset presets the running CRC to the given state.
// Sector framing presets to the CRC of the sync and mark bytes.
func (v *Validator) Reset(crc uint16) {
	v.crc = crc
}

// Feed processes one byte and returns the new CRC state.
func (v *Validator) Feed(b byte) uint16 {
	v.crc = UpdateByte(v.crc, b)
	return v.crc
}

// State returns the current CRC register value.
func (v *Validator) State() uint16 {
	return v.crc
}

// IsValid reports whether the accumulated CRC is zero.
func (v *Validator) IsValid() bool {
	return v.crc == 0
}
