package greaseweazle

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sergev/fluxdec/flux"
)

// readN28 decodes a 28-bit value from Greaseweazle N28 encoding
// Returns the decoded value and the number of bytes consumed
func readN28(data []byte, offset int) (uint32, int, error) {
	if offset+4 > len(data) {
		return 0, 0, fmt.Errorf("insufficient data for N28 encoding at offset %d", offset)
	}

	b0 := data[offset]
	b1 := data[offset+1]
	b2 := data[offset+2]
	b3 := data[offset+3]

	value := ((uint32(b0) & 0xfe) >> 1) |
		((uint32(b1) & 0xfe) << 6) |
		((uint32(b2) & 0xfe) << 13) |
		((uint32(b3) & 0xfe) << 20)

	return value, 4, nil
}

// ReadFlux reads raw flux data from the current track
// ticks: maximum ticks to read (0 = no limit)
// maxIndex: maximum index pulses to read (0 = no limit, typically 2 for 2 revolutions)
func (c *Client) ReadFlux(ticks uint32, maxIndex uint16) ([]byte, error) {
	// Build CMD_READ_FLUX command: [CMD_READ_FLUX, 8, ticks (le32), maxIndex (le16)]
	cmd := make([]byte, 8)
	cmd[0] = CMD_READ_FLUX
	cmd[1] = 8
	binary.LittleEndian.PutUint32(cmd[2:6], ticks)
	binary.LittleEndian.PutUint16(cmd[6:8], maxIndex)

	err := c.doCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to send READ_FLUX command: %w", err)
	}

	// Read flux data until we encounter a 0 byte (end of stream marker)
	var data []byte
	buf := make([]byte, 1)
	for {
		_, err := io.ReadFull(c.port, buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read flux data: %w", err)
		}
		if buf[0] == 0 {
			break
		}
		data = append(data, buf[0])
	}

	return data, nil
}

// DecodeStream converts a Greaseweazle flux byte stream into timestamped
// events in device ticks. The wire format interleaves interval bytes with
// 0xFF-prefixed opcodes:
//
//	1-249         direct interval in ticks
//	250-254, x    extended interval 250 + (b-250)*255 + x - 1
//	FF 01 N28     index pulse, N28 ticks past the current position
//	FF 02 N28     space: a gap with no transitions
func DecodeStream(fluxData []byte) ([]flux.Event, error) {
	var events []flux.Event
	ticksAccumulated := uint64(0)

	i := 0
	for i < len(fluxData) {
		b := fluxData[i]

		if b == 0xFF {
			// Special opcode
			if i+1 >= len(fluxData) {
				return nil, fmt.Errorf("incomplete opcode at offset %d", i)
			}

			opcode := fluxData[i+1]
			i += 2

			switch opcode {
			case FLUXOP_INDEX:
				n28, consumed, err := readN28(fluxData, i)
				if err != nil {
					return nil, fmt.Errorf("failed to read INDEX N28: %w", err)
				}
				i += consumed
				// The index pulse does not advance the cursor.
				events = append(events, flux.Event{
					Time: ticksAccumulated + uint64(n28),
					Kind: flux.IndexPulse,
				})

			case FLUXOP_SPACE:
				// Time gap with no transitions
				n28, consumed, err := readN28(fluxData, i)
				if err != nil {
					return nil, fmt.Errorf("failed to read SPACE N28: %w", err)
				}
				i += consumed
				if DebugFlag {
					fmt.Printf(" (%d)", n28)
				}
				ticksAccumulated += uint64(n28)

			default:
				return nil, fmt.Errorf("unknown opcode 0x%02x at offset %d", opcode, i-1)
			}
		} else if b < 250 {
			// Direct interval: 1-249 ticks
			if DebugFlag {
				fmt.Printf(" %d", b)
			}
			ticksAccumulated += uint64(b)
			events = append(events, flux.Event{Time: ticksAccumulated, Kind: flux.Transition})
			i++
		} else {
			// Extended interval: 250-254
			if i+1 >= len(fluxData) {
				return nil, fmt.Errorf("incomplete extended interval at offset %d", i)
			}
			delta := 250 + uint64(b-250)*255 + uint64(fluxData[i+1]) - 1
			if DebugFlag {
				fmt.Printf(" %d", delta)
			}
			ticksAccumulated += delta
			events = append(events, flux.Event{Time: ticksAccumulated, Kind: flux.Transition})
			i += 2
		}
	}

	// Index timestamps may run a little ahead of the transition cursor;
	// restore global time order before handing the stream downstream.
	sortEvents(events)
	return events, nil
}

// sortEvents restores timestamp order. The stream is nearly sorted, only
// index pulses can land a few entries early, so insertion is cheap.
func sortEvents(events []flux.Event) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Time < events[j-1].Time; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

// ReadTrack positions the head and captures revs full revolutions of the
// given track as an ordered event stream in device ticks.
func (c *Client) ReadTrack(cylinder, head byte, revs int) ([]flux.Event, error) {
	err := c.SelectDrive(0)
	if err != nil {
		return nil, fmt.Errorf("failed to select drive: %w", err)
	}
	err = c.SetMotor(0, true)
	if err != nil {
		return nil, fmt.Errorf("failed to turn on motor: %w", err)
	}
	defer c.SetMotor(0, false) // Turn off motor when done

	err = c.Seek(cylinder)
	if err != nil {
		return nil, fmt.Errorf("failed to seek to cylinder %d: %w", cylinder, err)
	}
	err = c.SetHead(head)
	if err != nil {
		return nil, fmt.Errorf("failed to set head %d: %w", head, err)
	}

	// One extra index pulse closes the last revolution.
	fluxData, err := c.ReadFlux(0, uint16(revs+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read flux data from cylinder %d, head %d: %w", cylinder, head, err)
	}

	err = c.GetFluxStatus()
	if err != nil {
		return nil, fmt.Errorf("flux status error after reading cylinder %d, head %d: %w", cylinder, head, err)
	}

	return DecodeStream(fluxData)
}
