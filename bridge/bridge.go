// Package bridge drives an I2C bus on a microcontroller running the bridgefw
// firmware, over a serial link.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"i2cmux/multiplexer"
	"i2cmux/protocol"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 500 * time.Millisecond
)

var (
	ErrRemote     = errors.New("bridge: transaction failed on device")
	ErrBadRequest = errors.New("bridge: device rejected request")
	ErrTimeout    = errors.New("bridge: no response from device")
	ErrAddress    = errors.New("bridge: address does not fit in 7 bits")
)

var _ multiplexer.Bus = (*Bridge)(nil)

type Bridge struct {
	mu     sync.Mutex
	rw     io.ReadWriter
	closer io.Closer
	log    *slog.Logger
}

// Open connects to the bridge firmware on the named serial port. Zero values
// select DefaultBaudRate and DefaultReadTimeout.
func Open(portName string, baudRate int, readTimeout time.Duration, logger *slog.Logger) (*Bridge, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset input buffer on %s: %w", portName, err)
	}
	b := New(timeoutReader{port}, logger)
	b.closer = port
	b.log.Info("bridge connected", "port", portName, "baudRate", baudRate)
	return b, nil
}

// New speaks the bridge protocol over rw.
func New(rw io.ReadWriter, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{rw: rw, log: logger}
}

// Ports lists serial ports that could host a bridge.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

func (b *Bridge) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

func (b *Bridge) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("%w: 0x%03X", ErrAddress, addr)
	}
	if len(r) > protocol.MaxPayload {
		return protocol.ErrPayloadTooLarge
	}
	resp, err := b.do(protocol.Request{Op: protocol.OP_TX, Addr: uint8(addr), Write: w, ReadLen: uint8(len(r))})
	if err != nil {
		return err
	}
	if len(resp.Data) != len(r) {
		return fmt.Errorf("%w: short read from 0x%02X (%d of %d bytes)", ErrRemote, addr, len(resp.Data), len(r))
	}
	copy(r, resp.Data)
	return nil
}

func (b *Bridge) ReadFrom(addr uint16, buf []byte) error {
	return b.Tx(addr, nil, buf)
}

func (b *Bridge) WriteTo(addr uint16, data []byte) error {
	return b.Tx(addr, data, nil)
}

func (b *Bridge) Scan() ([]uint16, error) {
	resp, err := b.do(protocol.Request{Op: protocol.OP_SCAN})
	if err != nil {
		return nil, err
	}
	found := make([]uint16, len(resp.Data))
	for i, a := range resp.Data {
		found[i] = uint16(a)
	}
	return found, nil
}

func (b *Bridge) do(req protocol.Request) (protocol.Response, error) {
	frame, err := protocol.MarshalRequest(req)
	if err != nil {
		return protocol.Response{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.rw.Write(frame); err != nil {
		return protocol.Response{}, fmt.Errorf("bridge write: %w", err)
	}
	resp, err := protocol.ReadResponse(b.rw)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrTimeout
		}
		b.log.Warn("bridge response failed", "op", req.Op.String(), "addr", req.Addr, "err", err)
		b.discardInput()
		return protocol.Response{}, err
	}

	switch resp.Status {
	case protocol.STATUS_OK:
		return resp, nil
	case protocol.STATUS_BAD_REQUEST:
		return resp, fmt.Errorf("%w: %s", ErrBadRequest, resp.Data)
	default:
		return resp, fmt.Errorf("%w: 0x%02X: %s", ErrRemote, req.Addr, resp.Data)
	}
}

// discardInput drops a late or partial reply so the next request does not
// read it as its own.
func (b *Bridge) discardInput() {
	r, ok := b.rw.(interface{ ResetInputBuffer() error })
	if !ok {
		return
	}
	if err := r.ResetInputBuffer(); err != nil {
		b.log.Warn("bridge input reset failed", "err", err)
	}
}

// go.bug.st/serial reports a read timeout as (0, nil). Turn that into EOF so
// io.ReadFull stops instead of spinning.
type timeoutReader struct {
	serial.Port
}

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.Port.Read(p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}
