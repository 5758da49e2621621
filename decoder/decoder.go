// Package decoder reconstructs byte-aligned records from the raw bitcell
// stream recovered by the PLL. It searches for encoding-specific sync and
// address-mark sequences, demodulates data bits, and validates each record
// with the CCITT-16 checksum.
package decoder

import (
	"github.com/sergev/fluxdec/crc16"
)

// Encoding identifies how raw bitcells map to data bits.
type Encoding int

const (
	EncUnknown Encoding = iota
	// EncFM is single-density FM: every bit cell opens with a clock
	// transition, a mid-cell transition encodes a one.
	EncFM
	// EncMFM is double-density MFM: two half-cells per data bit, clock
	// transitions only between consecutive zeros.
	EncMFM
)

func (e Encoding) String() string {
	switch e {
	case EncFM:
		return "FM"
	case EncMFM:
		return "MFM"
	default:
		return "unknown"
	}
}

// HalfCellsPerBit returns how many raw bitcells carry one data bit.
func (e Encoding) HalfCellsPerBit() int {
	// Both FM and MFM spend two raw cells per data bit; they differ in
	// where the clock transitions go, not in the cell budget.
	return 2
}

// Address marks of the IBM track format.
const (
	MarkHeader  = 0xfe // sector ID field
	MarkData    = 0xfb // sector data field
	MarkDeleted = 0xf8 // deleted-data field
)

// MFM sync: three 0xA1 bytes with a missing clock bit, 0x4489 each on the wire.
const (
	mfmSyncWord = 0x4489
	mfmSyncRaw  = uint64(mfmSyncWord)<<32 | uint64(mfmSyncWord)<<16 | uint64(mfmSyncWord)
	mfmSyncMask = (uint64(1) << 48) - 1
)

// FM clocked address marks: data byte interleaved with the 0xC7 clock.
const (
	fmHeaderRaw  = 0xf57e // 0xFE data, 0xC7 clock
	fmDataRaw    = 0xf56f // 0xFB data, 0xC7 clock
	fmDeletedRaw = 0xf56a // 0xF8 data, 0xC7 clock
)

// crcA1A1A1 is the CCITT-16 state after the three MFM sync bytes.
const crcA1A1A1 = 0xcdb4

// State is the decoder alignment state.
type State int

const (
	// SearchingSync scans the raw stream for a sync sequence.
	SearchingSync State = iota
	// Aligned has byte alignment and is reading the address mark.
	Aligned
	// Decoding is collecting record fields and the trailing check bytes.
	Decoding
)

// Record is one decoded, byte-aligned record.
// Fields excludes the address mark and the trailing check bytes.
type Record struct {
	Mark     byte
	Fields   []byte
	CRCValid bool
}

// Decoder is the bit/byte decoder state machine.
type Decoder struct {
	enc        Encoding
	state      State
	history    uint64
	val        crc16.Validator
	mark       byte
	fields     []byte
	need       int // record bytes still to read, including check bytes
	rawBits    int // raw bits collected toward the current data byte
	dataBits   int
	cur        byte
	sectorSize int

	records  []Record
	onRecord func(Record)
}

// New creates a decoder for the given encoding.
func New(enc Encoding) *Decoder {
	return &Decoder{
		enc:        enc,
		sectorSize: 512,
	}
}

// SetEncoding switches the demodulation rule and forces a resync.
func (d *Decoder) SetEncoding(enc Encoding) {
	d.enc = enc
	d.Resync()
}

// Encoding returns the currently selected encoding.
func (d *Decoder) Encoding() Encoding {
	return d.enc
}

// State returns the current alignment state.
func (d *Decoder) State() State {
	return d.state
}

// OnRecord registers a callback invoked for every completed record.
func (d *Decoder) OnRecord(fn func(Record)) {
	d.onRecord = fn
}

// Records returns the records decoded so far and clears the buffer.
func (d *Decoder) Records() []Record {
	recs := d.records
	d.records = nil
	return recs
}

// Resync drops alignment and returns to sync search.
func (d *Decoder) Resync() {
	d.state = SearchingSync
	d.history = 0
	d.rawBits = 0
	d.dataBits = 0
	d.cur = 0
	d.fields = nil
	d.need = 0
}

// Reset clears all decoder state, including buffered records and the
// sector size learned from the last header.
func (d *Decoder) Reset() {
	d.Resync()
	d.records = nil
	d.sectorSize = 512
}

// PushBit consumes one raw bitcell: 1 for a cell with a transition,
// 0 for an empty cell.
func (d *Decoder) PushBit(bit int) {
	if d.enc == EncUnknown {
		return
	}

	d.history = (d.history << 1) | uint64(bit&1)

	switch d.state {
	case SearchingSync:
		d.matchSync()
	case Aligned, Decoding:
		d.collect(bit)
	}
}

// matchSync looks for an encoding-specific sync sequence in the raw history.
func (d *Decoder) matchSync() {
	switch d.enc {
	case EncMFM:
		if d.history&mfmSyncMask == mfmSyncRaw {
			// Aligned right after the third 0xA1; the mark byte is next.
			d.state = Aligned
			d.val.Reset(crcA1A1A1)
			d.beginByte()
		}

	case EncFM:
		var mark byte
		switch uint16(d.history) {
		case fmHeaderRaw:
			mark = MarkHeader
		case fmDataRaw:
			mark = MarkData
		case fmDeletedRaw:
			mark = MarkDeleted
		default:
			return
		}
		// The mark itself was part of the matched pattern.
		d.val.Reset(crc16.Init)
		d.val.Feed(mark)
		d.startRecord(mark)
	}
}

// beginByte resets the data-byte assembly counters.
func (d *Decoder) beginByte() {
	d.rawBits = 0
	d.dataBits = 0
	d.cur = 0
}

// collect assembles data bytes from the aligned raw stream.
// Both encodings carry the data bit in the second raw cell of each pair.
func (d *Decoder) collect(bit int) {
	d.rawBits++
	if d.rawBits%2 != 0 {
		return // clock cell
	}
	d.cur = (d.cur << 1) | byte(bit&1)
	d.dataBits++
	if d.dataBits < 8 {
		return
	}

	b := d.cur
	d.beginByte()

	if d.state == Aligned {
		// First byte after sync is the address mark.
		switch b {
		case MarkHeader, MarkData, MarkDeleted:
			d.val.Feed(b)
			d.startRecord(b)
		default:
			// Not a record we frame; back to searching.
			d.Resync()
		}
		return
	}

	d.val.Feed(b)
	d.fields = append(d.fields, b)
	d.need--
	if d.need == 0 {
		d.finishRecord()
	}
}

// startRecord sets up field collection for the given address mark.
func (d *Decoder) startRecord(mark byte) {
	d.mark = mark
	d.fields = nil
	d.state = Decoding
	d.beginByte()
	switch mark {
	case MarkHeader:
		d.need = 4 + 2 // cylinder, head, sector, size + CRC
	default:
		d.need = d.sectorSize + 2
	}
}

// finishRecord validates and emits the collected record.
func (d *Decoder) finishRecord() {
	valid := d.val.IsValid()
	fields := d.fields[:len(d.fields)-2] // strip check bytes

	rec := Record{Mark: d.mark, Fields: append([]byte(nil), fields...), CRCValid: valid}
	d.records = append(d.records, rec)
	if d.onRecord != nil {
		d.onRecord(rec)
	}

	// A valid header tells us the size of the data field that follows.
	if valid && d.mark == MarkHeader && len(fields) == 4 {
		size := fields[3]
		if size <= 7 {
			d.sectorSize = 128 << size
		}
	}

	// Record complete, or garbage on CRC failure: either way search for
	// the next sync rather than trusting the current alignment.
	d.Resync()
}
