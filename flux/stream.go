package flux

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Fixed-width streaming record format, one 32-bit big-endian word per event:
//
//	bit 31     index flag
//	bit 30     overflow flag
//	bits 27:0  timestamp delta in ticks
//
// A delta too large for 28 bits is carried by filler words: each filler has
// the overflow flag set, no transition, and advances time by DeltaMask ticks.
const (
	IndexFlag    = 1 << 31
	OverflowFlag = 1 << 30
	DeltaMask    = 0x0FFFFFFF
)

// RecordSize is the size of one stream record in bytes.
const RecordSize = 4

// PackRecord builds one stream word.
func PackRecord(delta uint32, index, overflow bool) uint32 {
	word := delta & DeltaMask
	if index {
		word |= IndexFlag
	}
	if overflow {
		word |= OverflowFlag
	}
	return word
}

// UnpackRecord splits a stream word into its fields.
func UnpackRecord(word uint32) (delta uint32, index, overflow bool) {
	return word & DeltaMask, word&IndexFlag != 0, word&OverflowFlag != 0
}

// StreamWriter encodes flux events into fixed-width stream records.
type StreamWriter struct {
	w        io.Writer
	lastTime uint64
	buf      [RecordSize]byte
}

// NewStreamWriter creates a writer emitting records to w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

func (sw *StreamWriter) writeWord(word uint32) error {
	binary.BigEndian.PutUint32(sw.buf[:], word)
	if _, err := sw.w.Write(sw.buf[:]); err != nil {
		return fmt.Errorf("failed to write stream record: %w", err)
	}
	return nil
}

// WriteEvent encodes one event as a delta from the previous one.
func (sw *StreamWriter) WriteEvent(ev Event) error {
	if ev.Time < sw.lastTime {
		return fmt.Errorf("event timestamp %d before previous %d", ev.Time, sw.lastTime)
	}
	delta := ev.Time - sw.lastTime

	// Spill oversized deltas into filler words.
	for delta > DeltaMask {
		if err := sw.writeWord(PackRecord(DeltaMask, false, true)); err != nil {
			return err
		}
		delta -= DeltaMask
	}

	if err := sw.writeWord(PackRecord(uint32(delta), ev.Kind == IndexPulse, false)); err != nil {
		return err
	}
	sw.lastTime = ev.Time
	return nil
}

// WriteOverflow emits a marker for dropped input without advancing time.
func (sw *StreamWriter) WriteOverflow() error {
	return sw.writeWord(PackRecord(0, false, true))
}

// StreamReader decodes fixed-width stream records back into flux events.
type StreamReader struct {
	r         io.Reader
	time      uint64
	overflows int
	buf       [RecordSize]byte
}

// NewStreamReader creates a reader decoding records from r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// NextEvent returns the next decoded event.
// Filler and overflow-marker words advance time and the overflow counter
// but do not produce an event. Returns ok=false at end of stream.
func (sr *StreamReader) NextEvent() (Event, bool) {
	for {
		if _, err := io.ReadFull(sr.r, sr.buf[:]); err != nil {
			return Event{}, false
		}
		word := binary.BigEndian.Uint32(sr.buf[:])
		delta, index, overflow := UnpackRecord(word)
		sr.time += uint64(delta)
		if overflow {
			sr.overflows++
			continue
		}
		kind := Transition
		if index {
			kind = IndexPulse
		}
		return Event{Time: sr.time, Kind: kind}, true
	}
}

// Overflows returns the number of overflow words seen so far.
func (sr *StreamReader) Overflows() int {
	return sr.overflows
}

// ReadAll decodes the remaining stream into an event slice.
func (sr *StreamReader) ReadAll() []Event {
	var events []Event
	for {
		ev, ok := sr.NextEvent()
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}
