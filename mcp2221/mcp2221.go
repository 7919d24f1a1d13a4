// Package mcp2221 uses a Microchip MCP2221A USB-HID bridge as an I2C bus.
//
// Datasheet: http://ww1.microchip.com/downloads/en/devicedoc/20005565b.pdf
package mcp2221

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/usb"

	"i2cmux/multiplexer"
)

const (
	VID = 0x04D8
	PID = 0x00DD

	msgSize   = 64
	chunkSize = 60
	clockHz   = 12000000

	DefaultSpeed = 100000
)

const (
	cmdStatus           byte = 0x10
	cmdI2CWrite         byte = 0x90
	cmdI2CRead          byte = 0x91
	cmdI2CWriteRepStart byte = 0x92
	cmdI2CReadRepStart  byte = 0x93
	cmdI2CWriteNoStop   byte = 0x94
	cmdI2CGetData       byte = 0x40
)

// I2C engine states reported in byte 8 of the status response.
const (
	stateIdle           byte = 0x00
	stateStartTimeout   byte = 0x12
	stateRepStartTimout byte = 0x17
	stateAddrTimeout    byte = 0x23
	stateAddrNACK       byte = 0x25
	statePartialData    byte = 0x41
	stateWriteTimeout   byte = 0x44
	stateWritingNoStop  byte = 0x45
	stateReadTimeout    byte = 0x52
	stateStopTimeout    byte = 0x62
	readError           byte = 0x7F

	cancelRequest byte = 0x10
	speedRequest  byte = 0x20
	speedBusy     byte = 0x21
)

const (
	maxRetries   = 50
	pollInterval = 300 * time.Microsecond
)

var (
	ErrNACK      = errors.New("mcp2221: address not acknowledged")
	ErrTimeout   = errors.New("mcp2221: I2C timeout")
	ErrBusy      = errors.New("mcp2221: too many retries")
	ErrBadSpeed  = errors.New("mcp2221: unsupported bus speed")
	ErrNoDevice  = errors.New("mcp2221: no device found")
	ErrShortRead = errors.New("mcp2221: short HID report")
	ErrAddress   = errors.New("mcp2221: address does not fit in 7 bits")
)

var _ multiplexer.Bus = (*MCP2221)(nil)

// Device is the HID report pipe; usb.Device satisfies it.
type Device interface {
	io.ReadWriteCloser
}

type MCP2221 struct {
	mu  sync.Mutex
	dev Device
	log *slog.Logger
}

// Open claims the index-th attached MCP2221A.
func Open(index int, logger *slog.Logger) (*MCP2221, error) {
	infos, err := usb.EnumerateHid(VID, PID)
	if err != nil {
		return nil, fmt.Errorf("enumerate hid: %w", err)
	}
	if index < 0 || index >= len(infos) {
		return nil, fmt.Errorf("%w at index %d (%d attached)", ErrNoDevice, index, len(infos))
	}
	dev, err := infos[index].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", infos[index].Path, err)
	}
	m := New(dev, logger)
	m.log.Info("mcp2221 opened", "path", infos[index].Path, "serial", infos[index].Serial)
	return m, nil
}

func New(dev Device, logger *slog.Logger) *MCP2221 {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCP2221{dev: dev, log: logger}
}

func (m *MCP2221) Close() error {
	return m.dev.Close()
}

// SetSpeed programs the I2C clock divider. The setting is volatile.
func (m *MCP2221) SetSpeed(hz uint32) error {
	if hz > clockHz/3 || hz < clockHz/258 {
		return fmt.Errorf("%w: %d Hz", ErrBadSpeed, hz)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := make([]byte, msgSize)
	cmd[3] = speedRequest
	cmd[4] = byte(clockHz/hz - 3)
	rsp, err := m.send(cmdStatus, cmd)
	if err != nil {
		return err
	}
	if rsp[3] == speedBusy {
		return fmt.Errorf("%w: transfer in progress", ErrBusy)
	}
	return nil
}

// Cancel aborts whatever transfer the chip's I2C engine is stuck in.
func (m *MCP2221) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel()
}

func (m *MCP2221) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("%w: 0x%03X", ErrAddress, addr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case len(w) > 0 && len(r) > 0:
		if err := m.write(cmdI2CWriteNoStop, addr, w); err != nil {
			return err
		}
		return m.read(cmdI2CReadRepStart, addr, r)
	case len(r) > 0:
		return m.read(cmdI2CRead, addr, r)
	default:
		return m.write(cmdI2CWrite, addr, w)
	}
}

func (m *MCP2221) ReadFrom(addr uint16, buf []byte) error {
	return m.Tx(addr, nil, buf)
}

func (m *MCP2221) WriteTo(addr uint16, data []byte) error {
	return m.Tx(addr, data, nil)
}

// Scan probes 0x08-0x77 with a one byte read.
func (m *MCP2221) Scan() ([]uint16, error) {
	var found []uint16
	buf := make([]byte, 1)
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		err := m.ReadFrom(addr, buf)
		switch {
		case err == nil:
			found = append(found, addr)
		case errors.Is(err, ErrNACK):
		default:
			return found, err
		}
	}
	return found, nil
}

// send writes one command report and returns the matching response report.
func (m *MCP2221) send(cmd byte, msg []byte) ([]byte, error) {
	msg[0] = cmd
	if _, err := m.dev.Write(msg); err != nil {
		return nil, fmt.Errorf("hid write [cmd=0x%02X]: %w", cmd, err)
	}
	rsp := make([]byte, msgSize)
	n, err := m.dev.Read(rsp)
	if err != nil {
		return nil, fmt.Errorf("hid read [cmd=0x%02X]: %w", cmd, err)
	}
	if n < msgSize {
		return nil, fmt.Errorf("%w: %d of %d bytes [cmd=0x%02X]", ErrShortRead, n, msgSize, cmd)
	}
	if rsp[0] != cmd {
		return nil, fmt.Errorf("hid read [cmd=0x%02X]: response echoes 0x%02X", cmd, rsp[0])
	}
	return rsp, nil
}

func (m *MCP2221) state() (byte, error) {
	rsp, err := m.send(cmdStatus, make([]byte, msgSize))
	if err != nil {
		return 0, err
	}
	return rsp[8], nil
}

func (m *MCP2221) cancel() error {
	cmd := make([]byte, msgSize)
	cmd[2] = cancelRequest
	rsp, err := m.send(cmdStatus, cmd)
	if err != nil {
		return err
	}
	if rsp[2] == cancelRequest {
		time.Sleep(pollInterval)
	}
	m.log.Debug("mcp2221 transfer cancelled")
	return nil
}

// prepare cancels a stale transfer unless the engine is idle or in one of the
// allowed states.
func (m *MCP2221) prepare(allowed ...byte) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	if st == stateIdle {
		return nil
	}
	for _, a := range allowed {
		if st == a {
			return nil
		}
	}
	return m.cancel()
}

func (m *MCP2221) write(cmdID byte, addr uint16, data []byte) error {
	if err := m.prepare(); err != nil {
		return err
	}
	total := len(data)
	for pos := 0; pos < total || (total == 0 && pos == 0); {
		n := total - pos
		if n > chunkSize {
			n = chunkSize
		}
		cmd := make([]byte, msgSize)
		cmd[1] = byte(total)
		cmd[2] = byte(total >> 8)
		cmd[3] = byte(addr << 1)
		copy(cmd[4:], data[pos:pos+n])

		sent := false
		for try := 0; try < maxRetries; try++ {
			rsp, err := m.send(cmdID, cmd)
			if err != nil {
				return err
			}
			if rsp[1] == 0 {
				sent = true
				break
			}
			time.Sleep(pollInterval)
		}
		if !sent {
			return fmt.Errorf("%w: write to 0x%02X", ErrBusy, addr)
		}
		pos += n
		if total == 0 {
			break
		}
	}

	for try := 0; try < maxRetries; try++ {
		st, err := m.state()
		if err != nil {
			return err
		}
		switch {
		case st == stateIdle:
			return nil
		case cmdID == cmdI2CWriteNoStop && st == stateWritingNoStop:
			return nil
		case st == stateAddrNACK:
			return fmt.Errorf("%w: 0x%02X", ErrNACK, addr)
		case isTimeout(st):
			return fmt.Errorf("%w: write to 0x%02X (state 0x%02X)", ErrTimeout, addr, st)
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("%w: waiting for write to 0x%02X", ErrBusy, addr)
}

func (m *MCP2221) read(cmdID byte, addr uint16, buf []byte) error {
	if err := m.prepare(stateWritingNoStop); err != nil {
		return err
	}
	total := len(buf)
	cmd := make([]byte, msgSize)
	cmd[1] = byte(total)
	cmd[2] = byte(total >> 8)
	cmd[3] = byte(addr<<1) | 0x01
	rsp, err := m.send(cmdID, cmd)
	if err != nil {
		return err
	}
	if rsp[1] != 0 {
		return fmt.Errorf("%w: read from 0x%02X refused", ErrBusy, addr)
	}

	for pos, try := 0, 0; pos < total; try++ {
		if try >= maxRetries {
			return fmt.Errorf("%w: read from 0x%02X", ErrBusy, addr)
		}
		rsp, err := m.send(cmdI2CGetData, make([]byte, msgSize))
		if err != nil {
			return err
		}
		if rsp[2] == stateAddrNACK {
			return fmt.Errorf("%w: 0x%02X", ErrNACK, addr)
		}
		if isTimeout(rsp[2]) {
			return fmt.Errorf("%w: read from 0x%02X (state 0x%02X)", ErrTimeout, addr, rsp[2])
		}
		if rsp[1] != 0 || rsp[3] == readError || rsp[3] == 0 {
			time.Sleep(pollInterval)
			continue
		}
		n := int(rsp[3])
		if n > chunkSize {
			n = chunkSize
		}
		pos += copy(buf[pos:], rsp[4:4+n])
		try = 0
	}
	return nil
}

func isTimeout(st byte) bool {
	switch st {
	case stateStartTimeout, stateRepStartTimout, stateAddrTimeout,
		stateWriteTimeout, stateReadTimeout, stateStopTimeout:
		return true
	}
	return false
}
