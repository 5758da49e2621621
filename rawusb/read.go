package rawusb

import (
	"encoding/binary"
	"fmt"

	"github.com/sergev/fluxdec/flux"
)

const readChunkSize = 4096

// epochSpan is the range of the 27-bit capture timer. An overflow-flagged
// word marks one full wrap of the timer since the previous word.
const epochSpan = uint64(FluxTimeMask) + 1

// WordDecoder converts raw 32-bit flux words into timestamped events,
// tracking timer epochs across the 27-bit wraparound and counting
// weak-bit and overflow flags.
type WordDecoder struct {
	epoch     uint64
	lastStamp uint32
	haveStamp bool
	weak      uint64
	overflows uint64
}

// Decode translates one flux word. ok is false for words that carry no
// event (pure overflow markers).
func (d *WordDecoder) Decode(word uint32) (ev flux.Event, ok bool) {
	if word&FluxFlagOverflow != 0 {
		d.epoch += epochSpan
		d.overflows++
		// The wrap is accounted for; a smaller stamp after this word
		// must not trigger the unflagged-wrap recovery below.
		d.haveStamp = false
		if word&FluxTimeMask == 0 && word&FluxFlagIndex == 0 {
			return flux.Event{}, false
		}
	}
	if word&FluxFlagWeak != 0 {
		d.weak++
	}

	stamp := word & FluxTimeMask

	// An unflagged wrap still moves time backwards; recover the epoch.
	if d.haveStamp && stamp < d.lastStamp && word&FluxFlagOverflow == 0 {
		d.epoch += epochSpan
	}
	d.lastStamp = stamp
	d.haveStamp = true

	ev = flux.Event{Time: d.epoch + uint64(stamp), Kind: flux.Transition}
	if word&FluxFlagIndex != 0 {
		ev.Kind = flux.IndexPulse
	}
	return ev, true
}

// WeakBits returns the number of weak-flagged words seen.
func (d *WordDecoder) WeakBits() uint64 {
	return d.weak
}

// Overflows returns the number of timer overflow markers seen.
func (d *WordDecoder) Overflows() uint64 {
	return d.overflows
}

// Reset clears the decoder for a new capture.
func (d *WordDecoder) Reset() {
	*d = WordDecoder{}
}

// DecodeWords converts a raw word sequence into an event stream.
func DecodeWords(words []uint32) ([]flux.Event, *WordDecoder) {
	dec := &WordDecoder{}
	events := make([]flux.Event, 0, len(words))
	for _, w := range words {
		if ev, ok := dec.Decode(w); ok {
			events = append(events, ev)
		}
	}
	return events, dec
}

// StartCapture arms flux capture for the given number of revolutions.
func (c *Client) StartCapture(revs uint16) error {
	_, err := c.command(CMD_CAPTURE_START, 0, revs, 0, 0)
	return err
}

// StopCapture disarms flux capture.
func (c *Client) StopCapture() error {
	_, err := c.command(CMD_CAPTURE_STOP, 0, 0, 0, 0)
	return err
}

// ReadTrack captures revs revolutions of the given track and returns the
// decoded event stream in device ticks (5 ns at the 200 MHz capture clock).
func (c *Client) ReadTrack(track byte, revs uint16) ([]flux.Event, error) {
	err := c.Seek(track)
	if err != nil {
		return nil, fmt.Errorf("failed to seek to track %d: %w", track, err)
	}

	err = c.StartCapture(revs)
	if err != nil {
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}
	defer c.StopCapture()

	data, err := c.command(CMD_READ_FLUX, 0, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read flux data: %w", err)
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("flux data length %d is not word aligned", len(data))
	}

	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if DebugFlag {
		fmt.Printf("rawusb: read %d flux words\n", len(words))
	}

	events, _ := DecodeWords(words)
	return events, nil
}

// Stream launches a producer goroutine that reads flux words from the
// device and pushes them into ring until the device stops sending or
// stop is closed. Words that arrive while the ring is full are dropped
// and counted by the ring itself.
func (c *Client) Stream(ring *flux.Ring, stop <-chan struct{}) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		buf := make([]byte, readChunkSize)
		var partial []byte
		for {
			select {
			case <-stop:
				return
			default:
			}

			n, err := c.bulkIn.Read(buf)
			if err != nil {
				errc <- fmt.Errorf("flux stream read: %w", err)
				return
			}
			if n == 0 {
				return
			}

			chunk := buf[:n]
			if len(partial) > 0 {
				chunk = append(partial, chunk...)
			}
			whole := len(chunk) / 4 * 4
			for i := 0; i < whole; i += 4 {
				ring.Push(int32(binary.LittleEndian.Uint32(chunk[i:])))
			}
			partial = append(partial[:0], chunk[whole:]...)
		}
	}()
	return errc
}

// RingSource adapts a ring of raw flux words into an event source for the
// consumer side of a streaming capture.
type RingSource struct {
	ring *flux.Ring
	dec  WordDecoder
}

// NewRingSource wraps ring.
func NewRingSource(ring *flux.Ring) *RingSource {
	return &RingSource{ring: ring}
}

// NextEvent pops and decodes words until one carries an event. It does
// not block: ok is false when the ring is momentarily empty.
func (s *RingSource) NextEvent() (flux.Event, bool) {
	for {
		word, ok := s.ring.Pop()
		if !ok {
			return flux.Event{}, false
		}
		if ev, ok := s.dec.Decode(uint32(word)); ok {
			return ev, true
		}
	}
}

// Decoder exposes the weak-bit and overflow counters of the stream.
func (s *RingSource) Decoder() *WordDecoder {
	return &s.dec
}
