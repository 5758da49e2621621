package decoder

import (
	"fmt"

	"github.com/sergev/fluxdec/crc16"
)

// Writer encodes data bytes into a raw bitcell stream, the write-path
// counterpart of the decoder. It is used by the synth command and by the
// tests to produce known-good tracks.
type Writer struct {
	enc         Encoding
	buffer      []byte // raw bitcells, MSB-first
	bitPos      int    // current raw bit position
	lastDataBit int    // last data bit, for MFM clock insertion
	maxHalfBits int    // track capacity in raw bitcells
}

// NewWriter creates a writer for a track of maxHalfBits raw bitcells.
// A non-positive limit leaves the track unbounded.
func NewWriter(enc Encoding, maxHalfBits int) *Writer {
	return &Writer{
		enc:         enc,
		buffer:      make([]byte, 0, 1024),
		maxHalfBits: maxHalfBits,
	}
}

// writeHalfBit appends one raw bitcell.
func (w *Writer) writeHalfBit(bitValue int) {
	if w.maxHalfBits > 0 && w.bitPos >= w.maxHalfBits {
		// The track has ended.
		return
	}

	neededBytes := (w.bitPos + 7) / 8
	if neededBytes >= len(w.buffer) {
		w.buffer = append(w.buffer, 0)
	}

	if bitValue != 0 {
		byteIdx := w.bitPos / 8
		bitIdx := 7 - (w.bitPos % 8)
		w.buffer[byteIdx] |= 1 << bitIdx
	}
	w.bitPos++
}

// writeBit appends one data bit as two raw bitcells.
func (w *Writer) writeBit(dataBit int) {
	switch w.enc {
	case EncFM:
		// Every FM cell opens with a clock transition.
		w.writeHalfBit(1)
		w.writeHalfBit(dataBit)
	default:
		if dataBit != 0 {
			w.writeHalfBit(0)
			w.writeHalfBit(1)
		} else {
			// Clock transition only between consecutive zeros.
			w.writeHalfBit(w.lastDataBit ^ 1)
			w.writeHalfBit(0)
		}
	}
	w.lastDataBit = dataBit
}

// writeByte appends a data byte, MSB first.
func (w *Writer) writeByte(data byte) {
	for i := 7; i >= 0; i-- {
		w.writeBit(int((data >> i) & 1))
	}
}

// writeGap appends n bytes of the encoding's gap filler.
func (w *Writer) writeGap(n int) {
	filler := byte(0x4E)
	if w.enc == EncFM {
		filler = 0xFF
	}
	for i := 0; i < n; i++ {
		w.writeByte(filler)
	}
}

// writeMarker appends the sync field and the address mark.
func (w *Writer) writeMarker(mark byte) {
	switch w.enc {
	case EncFM:
		// Six bytes of zeros, then the mark clocked with 0xC7.
		for i := 0; i < 6; i++ {
			w.writeByte(0)
		}
		for i := 7; i >= 0; i-- {
			w.writeHalfBit(int((0xC7 >> i) & 1))
			w.writeHalfBit(int((mark >> i) & 1))
		}
		w.lastDataBit = int(mark & 1)

	default:
		// Twelve bytes of zeros, then three 0xA1 with a missing clock
		// (0x4489 on the wire), then the mark.
		for i := 0; i < 12; i++ {
			w.writeByte(0)
		}
		for i := 0; i < 3; i++ {
			w.writeBit(1)
			w.writeBit(0)
			w.writeBit(1)
			w.writeBit(0)
			w.writeBit(0)
			w.writeHalfBit(0) // missing clock
			w.writeHalfBit(0)
			w.writeBit(0)
			w.writeBit(1)
		}
		w.writeByte(mark)
	}
}

// Bits returns the raw bitcell buffer, trimmed to the bits written.
func (w *Writer) Bits() []byte {
	actualBytes := (w.bitPos + 7) / 8
	if actualBytes < len(w.buffer) {
		return w.buffer[:actualBytes]
	}
	return w.buffer
}

// markerCRC returns the CRC state after the sync field and mark byte.
func (w *Writer) markerCRC(mark byte) uint16 {
	if w.enc == EncFM {
		return crc16.UpdateByte(crc16.Init, mark)
	}
	crc := crc16.Update(crc16.Init, []byte{0xA1, 0xA1, 0xA1})
	return crc16.UpdateByte(crc, mark)
}

// EncodeTrack encodes a full IBM-layout track.
// sectors holds the per-sector data, indexed by sector number (0-based).
func (w *Writer) EncodeTrack(sectors [][]byte, cylinder, head int, bitRateKbps uint16) ([]byte, error) {
	const startGap = 80  // gap4a before the index area
	const indexGap = 50  // gap1 before the first sector
	const headerGap = 22 // gap2 between header and data field

	sectorGap := 80 // gap3 between sectors
	if bitRateKbps >= 500 {
		sectorGap = 84
	}

	w.writeGap(startGap)
	w.writeGap(indexGap)

	for s, data := range sectors {
		if len(data) != 512 {
			return nil, fmt.Errorf("sector %d: got %d bytes, want 512", s, len(data))
		}

		// Sector header: mark, ID fields, CRC.
		w.writeMarker(MarkHeader)
		id := []byte{byte(cylinder), byte(head), byte(s + 1), 2}
		for _, b := range id {
			w.writeByte(b)
		}
		sum := crc16.Update(w.markerCRC(MarkHeader), id)
		w.writeByte(byte(sum >> 8))
		w.writeByte(byte(sum))

		w.writeGap(headerGap)

		// Data field: mark, payload, CRC.
		w.writeMarker(MarkData)
		for _, b := range data {
			w.writeByte(b)
		}
		sum = crc16.Update(w.markerCRC(MarkData), data)
		w.writeByte(byte(sum >> 8))
		w.writeByte(byte(sum))

		w.writeGap(sectorGap)
	}

	// Fill the rest of the track.
	fillGap := w.maxHalfBits/16 - w.bitPos/16
	if fillGap > 0 {
		w.writeGap(fillGap)
	}
	return w.Bits(), nil
}
