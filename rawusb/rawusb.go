// Package rawusb talks to a FluxRipper board in raw mode: a vendor-specific
// USB protocol of 16-byte command packets and 8-byte response headers, with
// flux capture data streamed as 32-bit words.
package rawusb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gousb"
)

const (
	VendorID  = 0x1209 // pid.codes open source allocation
	ProductID = 0xfd01
	Interface = 0

	EndpointBulkOut = 0x01
	EndpointBulkIn  = 0x82

	// "FRWQ"
	Signature = 0x46525751

	CmdPacketSize = 16
	RspHeaderSize = 8

	ControlTimeout = 5 * time.Second

	// Capture clock in Hz (5 ns per tick)
	SampleRate = 200000000
)

// Command opcodes
const (
	CMD_NOP             = 0x00
	CMD_GET_INFO        = 0x01
	CMD_SELECT_DRIVE    = 0x02
	CMD_MOTOR_CTRL      = 0x03
	CMD_SEEK            = 0x05
	CMD_CAPTURE_START   = 0x10
	CMD_CAPTURE_STOP    = 0x11
	CMD_READ_FLUX       = 0x13
	CMD_GET_PLL_STATUS  = 0x30
	CMD_GET_SIGNAL_QUAL = 0x31
	CMD_GET_PROFILE     = 0x40
)

// Response codes
const (
	RSP_OK                = 0x00
	RSP_ERR_INVALID_CMD   = 0x01
	RSP_ERR_INVALID_PARAM = 0x02
	RSP_ERR_NO_DRIVE      = 0x03
	RSP_ERR_NOT_READY     = 0x04
	RSP_ERR_OVERFLOW      = 0x05
	RSP_ERR_TIMEOUT       = 0x06
	RSP_ERR_BUSY          = 0x07
)

// Flux word layout
const (
	FluxFlagIndex    = 1 << 31
	FluxFlagOverflow = 1 << 30
	FluxFlagWeak     = 1 << 29
	FluxTimeMask     = 0x07FFFFFF
)

// Device status flags from GET_INFO
const (
	STATUS_DISK_PRESENT     = 1 << 0
	STATUS_WRITE_PROTECTED  = 1 << 1
	STATUS_CAPTURE_ACTIVE   = 1 << 3
	STATUS_CAPTURE_OVERFLOW = 1 << 4
	STATUS_PLL_LOCKED       = 1 << 5
)

// Enable for debug
var DebugFlag = false

// Client wraps a USB connection to a FluxRipper device in raw mode
type Client struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	done    func()
	bulkOut *gousb.OutEndpoint
	bulkIn  *gousb.InEndpoint
}

// Open finds the device by VID/PID and claims its raw mode interface.
func Open() (*Client, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == VendorID && uint16(desc.Product) == ProductID
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("FluxRipper device not found (VID=0x%04X PID=0x%04X)", VendorID, ProductID)
	}

	// Use the first matching device
	dev := devs[0]
	for i := 1; i < len(devs); i++ {
		devs[i].Close()
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to get config 1: %w", err)
	}

	intf, err := cfg.Interface(Interface, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim interface %d: %w", Interface, err)
	}

	done := func() {
		intf.Close()
		cfg.Close()
	}

	bulkOut, err := intf.OutEndpoint(EndpointBulkOut)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open bulk out endpoint: %w", err)
	}

	bulkIn, err := intf.InEndpoint(EndpointBulkIn)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to open bulk in endpoint: %w", err)
	}

	return &Client{
		ctx:     ctx,
		dev:     dev,
		done:    done,
		bulkOut: bulkOut,
		bulkIn:  bulkIn,
	}, nil
}

// Close releases the interface and the USB context.
func (c *Client) Close() {
	if c.done != nil {
		c.done()
	}
	if c.dev != nil {
		c.dev.Close()
	}
	if c.ctx != nil {
		c.ctx.Close()
	}
}

func rspError(status byte) error {
	msg := "unknown error"
	switch status {
	case RSP_OK:
		return nil
	case RSP_ERR_INVALID_CMD:
		msg = "invalid command"
	case RSP_ERR_INVALID_PARAM:
		msg = "invalid parameter"
	case RSP_ERR_NO_DRIVE:
		msg = "no drive selected"
	case RSP_ERR_NOT_READY:
		msg = "drive not ready"
	case RSP_ERR_OVERFLOW:
		msg = "buffer overflow"
	case RSP_ERR_TIMEOUT:
		msg = "operation timeout"
	case RSP_ERR_BUSY:
		msg = "device busy"
	}
	return fmt.Errorf("FluxRipper error: %s", msg)
}

// buildCommand packs a 16-byte command packet:
// signature, opcode, param1, param2 (le16), param3 (le32), param4 (le32).
func buildCommand(opcode, param1 byte, param2 uint16, param3, param4 uint32) []byte {
	cmd := make([]byte, CmdPacketSize)
	binary.LittleEndian.PutUint32(cmd[0:4], Signature)
	cmd[4] = opcode
	cmd[5] = param1
	binary.LittleEndian.PutUint16(cmd[6:8], param2)
	binary.LittleEndian.PutUint32(cmd[8:12], param3)
	binary.LittleEndian.PutUint32(cmd[12:16], param4)
	return cmd
}

// command sends one command packet and reads the response header plus
// any trailing data the header announces.
func (c *Client) command(opcode, param1 byte, param2 uint16, param3, param4 uint32) ([]byte, error) {
	cmd := buildCommand(opcode, param1, param2, param3, param4)
	_, err := c.bulkOut.Write(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to write command 0x%02x: %w", opcode, err)
	}

	// Response header: signature (le32), status, opcode echo, data_len (le16)
	hdr := make([]byte, RspHeaderSize)
	err = c.readFull(hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to read response header: %w", err)
	}

	if sig := binary.LittleEndian.Uint32(hdr[0:4]); sig != Signature {
		return nil, fmt.Errorf("bad response signature 0x%08x", sig)
	}
	if hdr[5] != opcode {
		return nil, fmt.Errorf("response opcode mismatch (0x%02x != 0x%02x)", hdr[5], opcode)
	}

	dataLen := binary.LittleEndian.Uint16(hdr[6:8])
	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		err = c.readFull(data)
		if err != nil {
			return nil, fmt.Errorf("failed to read response data: %w", err)
		}
	}

	if err := rspError(hdr[4]); err != nil {
		return data, err
	}
	return data, nil
}

// readFull reads from the bulk-in endpoint until buf is filled.
func (c *Client) readFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := c.bulkIn.Read(buf[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("bulk endpoint returned no data")
		}
		total += n
	}
	return nil
}

// Info describes the device as reported by GET_INFO.
type Info struct {
	DeviceID      uint32
	FwVersion     uint16
	HwVersion     uint16
	MaxFDDs       uint8
	StatusFlags   uint8
	SelectedDrive uint8
	CurrentTrack  uint8
}

// GetInfo queries device and firmware identification.
func (c *Client) GetInfo() (Info, error) {
	var info Info
	data, err := c.command(CMD_GET_INFO, 0, 0, 0, 0)
	if err != nil {
		return info, err
	}
	if len(data) < 24 {
		return info, fmt.Errorf("short GET_INFO response: %d bytes", len(data))
	}
	info.DeviceID = binary.LittleEndian.Uint32(data[0:4])
	info.FwVersion = binary.LittleEndian.Uint16(data[4:6])
	info.HwVersion = binary.LittleEndian.Uint16(data[6:8])
	info.MaxFDDs = data[9]
	info.StatusFlags = data[12]
	info.SelectedDrive = data[16]
	info.CurrentTrack = data[18]
	return info, nil
}

// SelectDrive selects one of the physical drives (0-3).
func (c *Client) SelectDrive(drive byte) error {
	_, err := c.command(CMD_SELECT_DRIVE, drive, 0, 0, 0)
	return err
}

// SetMotor turns the selected drive's motor on or off.
func (c *Client) SetMotor(on bool) error {
	var state byte
	if on {
		state = 1
	}
	_, err := c.command(CMD_MOTOR_CTRL, state, 0, 0, 0)
	return err
}

// Seek moves the head to the given track.
func (c *Client) Seek(track byte) error {
	_, err := c.command(CMD_SEEK, track, 0, 0, 0)
	return err
}

// PLLStatus mirrors the device's clock recovery diagnostics.
type PLLStatus struct {
	FrequencyKHz uint16
	Locked       bool
	LockCount    uint8
	ErrorCount   uint8
}

// GetPLLStatus queries the device-side PLL diagnostics.
func (c *Client) GetPLLStatus() (PLLStatus, error) {
	var st PLLStatus
	data, err := c.command(CMD_GET_PLL_STATUS, 0, 0, 0, 0)
	if err != nil {
		return st, err
	}
	if len(data) < 8 {
		return st, fmt.Errorf("short PLL status response: %d bytes", len(data))
	}
	st.FrequencyKHz = binary.LittleEndian.Uint16(data[0:2])
	st.Locked = data[2] != 0
	st.LockCount = data[3]
	st.ErrorCount = data[7]
	return st, nil
}

// SignalQuality mirrors the device's analog front-end metrics.
type SignalQuality struct {
	AmplitudeMV  uint16
	NoiseMV      uint16
	BitErrorRate uint8
	JitterNs     uint16
	Overflow     bool
}

// GetSignalQuality queries the signal quality metrics.
func (c *Client) GetSignalQuality() (SignalQuality, error) {
	var q SignalQuality
	data, err := c.command(CMD_GET_SIGNAL_QUAL, 0, 0, 0, 0)
	if err != nil {
		return q, err
	}
	if len(data) < 12 {
		return q, fmt.Errorf("short signal quality response: %d bytes", len(data))
	}
	q.AmplitudeMV = binary.LittleEndian.Uint16(data[0:2])
	q.NoiseMV = binary.LittleEndian.Uint16(data[2:4])
	q.BitErrorRate = data[5]
	q.JitterNs = binary.LittleEndian.Uint16(data[6:8])
	q.Overflow = data[8] != 0
	return q, nil
}

// GetDriveProfile queries the auto-detected drive parameters word.
func (c *Client) GetDriveProfile() (uint32, error) {
	data, err := c.command(CMD_GET_PROFILE, 0, 0, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("short drive profile response: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint32(data[0:4]), nil
}

// PrintStatus prints device identification and link diagnostics to stdout.
func (c *Client) PrintStatus() {
	info, err := c.GetInfo()
	if err != nil {
		fmt.Printf("GET_INFO failed: %v\n", err)
		return
	}
	fmt.Printf("FluxRipper Device ID: 0x%08x\n", info.DeviceID)
	fmt.Printf("Firmware Version: %d.%d\n", info.FwVersion>>8, info.FwVersion&0xff)
	fmt.Printf("Hardware Version: %d.%d\n", info.HwVersion>>8, info.HwVersion&0xff)
	fmt.Printf("Drives: %d, selected %d, track %d\n",
		info.MaxFDDs, info.SelectedDrive, info.CurrentTrack)
	fmt.Printf("Disk Present: %v, Write Protected: %v\n",
		info.StatusFlags&STATUS_DISK_PRESENT != 0,
		info.StatusFlags&STATUS_WRITE_PROTECTED != 0)

	if pll, err := c.GetPLLStatus(); err == nil {
		fmt.Printf("Device PLL: %d kHz, locked=%v (locks %d, errors %d)\n",
			pll.FrequencyKHz, pll.Locked, pll.LockCount, pll.ErrorCount)
	}
	if q, err := c.GetSignalQuality(); err == nil {
		fmt.Printf("Signal: %d mV, noise %d mV, jitter %d ns, overflow=%v\n",
			q.AmplitudeMV, q.NoiseMV, q.JitterNs, q.Overflow)
	}
	if profile, err := c.GetDriveProfile(); err == nil {
		fmt.Printf("Drive Profile: 0x%08x\n", profile)
	}
}
