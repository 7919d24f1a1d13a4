package mcp2221

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"i2cmux/multiplexer"
	"i2cmux/simbus"
)

// fakeChip answers HID reports the way an MCP2221A does, executing the
// transfers on a simulated bus.
type fakeChip struct {
	bus *simbus.Bus

	rsp     []byte
	state   byte
	pending []byte // write-no-stop data waiting for a repeated start read
	wbuf    []byte
	rdata   []byte
	cancels int
	busy    int // reject this many write commands before accepting
	closed  bool
}

func (f *fakeChip) Write(p []byte) (int, error) {
	if len(p) != msgSize {
		return 0, errors.New("bad report size")
	}
	rsp := make([]byte, msgSize)
	rsp[0] = p[0]
	switch p[0] {
	case cmdStatus:
		if p[2] == cancelRequest {
			f.state = stateIdle
			f.pending = nil
			f.cancels++
			rsp[2] = cancelRequest
		}
		if p[3] == speedRequest {
			rsp[3] = speedRequest
		}
		rsp[8] = f.state
	case cmdI2CWrite, cmdI2CWriteNoStop:
		if f.busy > 0 {
			f.busy--
			rsp[1] = 0x01
			break
		}
		total := int(p[1]) | int(p[2])<<8
		addr := uint16(p[3] >> 1)
		n := total - len(f.wbuf)
		if n > chunkSize {
			n = chunkSize
		}
		f.wbuf = append(f.wbuf, p[4:4+n]...)
		if len(f.wbuf) < total {
			break
		}
		data := f.wbuf
		f.wbuf = nil
		if p[0] == cmdI2CWriteNoStop {
			f.pending = data
			f.state = stateWritingNoStop
			break
		}
		if err := f.bus.WriteTo(addr, data); err != nil {
			f.state = stateAddrNACK
		} else {
			f.state = stateIdle
		}
	case cmdI2CRead, cmdI2CReadRepStart:
		total := int(p[1]) | int(p[2])<<8
		addr := uint16(p[3] >> 1)
		buf := make([]byte, total)
		var err error
		if p[0] == cmdI2CReadRepStart && f.pending != nil {
			err = f.bus.Tx(addr, f.pending, buf)
			f.pending = nil
		} else {
			err = f.bus.ReadFrom(addr, buf)
		}
		if err != nil {
			f.state = stateAddrNACK
			f.rdata = nil
		} else {
			f.state = stateIdle
			f.rdata = buf
		}
	case cmdI2CGetData:
		if f.state == stateAddrNACK {
			rsp[2] = stateAddrNACK
			break
		}
		n := len(f.rdata)
		if n > chunkSize {
			n = chunkSize
		}
		rsp[2] = 0x55
		rsp[3] = byte(n)
		copy(rsp[4:], f.rdata[:n])
		f.rdata = f.rdata[n:]
	}
	f.rsp = rsp
	return len(p), nil
}

func (f *fakeChip) Read(p []byte) (int, error) {
	if f.rsp == nil {
		return 0, io.EOF
	}
	n := copy(p, f.rsp)
	f.rsp = nil
	return n, nil
}

func (f *fakeChip) Close() error {
	f.closed = true
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWriteAndReadDevice(t *testing.T) {
	bus := simbus.New()
	dev := bus.AttachUpstream(0x50)
	m := New(&fakeChip{bus: bus}, quiet())

	payload := make([]byte, 101)
	payload[0] = 0x00
	for i := 1; i < len(payload); i++ {
		payload[i] = byte(i)
	}
	if err := m.WriteTo(0x50, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 1; i < len(payload); i++ {
		if dev.Regs[i-1] != byte(i) {
			t.Fatalf("register %d = %02X", i-1, dev.Regs[i-1])
		}
	}

	got := make([]byte, 100)
	if err := m.Tx(0x50, []byte{0x00}, got); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if !bytes.Equal(got, payload[1:]) {
		t.Fatalf("read back mismatch: % X", got[:8])
	}
	if bus.Count(simbus.OpTx, 0x50) != 1 {
		t.Fatalf("expected one repeated-start transfer, got %v", bus.Ops())
	}
}

func TestNACKAndRecovery(t *testing.T) {
	bus := simbus.New()
	bus.AttachUpstream(0x20)
	chip := &fakeChip{bus: bus}
	m := New(chip, quiet())

	if err := m.WriteTo(0x21, []byte{1}); !errors.Is(err, ErrNACK) {
		t.Fatalf("write: expected ErrNACK, got %v", err)
	}
	if err := m.ReadFrom(0x21, make([]byte, 1)); !errors.Is(err, ErrNACK) {
		t.Fatalf("read: expected ErrNACK, got %v", err)
	}
	if chip.cancels == 0 {
		t.Fatal("expected the stale NACK state to be cancelled")
	}
	if err := m.WriteTo(0x20, []byte{1}); err != nil {
		t.Fatalf("write after NACK: %v", err)
	}
}

func TestBusyIsRetried(t *testing.T) {
	bus := simbus.New()
	bus.AttachUpstream(0x20)
	chip := &fakeChip{bus: bus, busy: 3}
	m := New(chip, quiet())
	if err := m.WriteTo(0x20, []byte{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}

	chip.busy = maxRetries + 1
	if err := m.WriteTo(0x20, []byte{1, 2}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestWideAddressNeverSent(t *testing.T) {
	bus := simbus.New().WithMux(multiplexer.DefaultAddress)
	chip := &fakeChip{bus: bus}
	m := New(chip, quiet())
	if err := m.WriteTo(0x170, []byte{0xFF}); !errors.Is(err, ErrAddress) {
		t.Fatalf("write: expected ErrAddress, got %v", err)
	}
	if err := m.Tx(0x80, []byte{0x00}, make([]byte, 1)); !errors.Is(err, ErrAddress) {
		t.Fatalf("tx: expected ErrAddress, got %v", err)
	}
	if ops := bus.Ops(); len(ops) != 0 {
		t.Fatalf("expected no bus traffic, got %v", ops)
	}
	if chip.rsp != nil {
		t.Fatal("expected no HID report to be sent")
	}
}

func TestScan(t *testing.T) {
	bus := simbus.New()
	bus.AttachUpstream(0x0A)
	bus.AttachUpstream(0x68)
	m := New(&fakeChip{bus: bus}, quiet())
	found, err := m.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0] != 0x0A || found[1] != 0x68 {
		t.Fatalf("scan = %v", found)
	}
}

func TestSetSpeed(t *testing.T) {
	m := New(&fakeChip{bus: simbus.New()}, quiet())
	if err := m.SetSpeed(DefaultSpeed); err != nil {
		t.Fatal(err)
	}
	if err := m.SetSpeed(10); !errors.Is(err, ErrBadSpeed) {
		t.Fatalf("expected ErrBadSpeed, got %v", err)
	}
}

func TestBehindMultiplexer(t *testing.T) {
	bus := simbus.New().WithMux(multiplexer.DefaultAddress)
	dev := bus.Attach(6, 0x44)
	dev.Regs[0x0F] = 0x33
	chip := &fakeChip{bus: bus}
	m := New(chip, quiet())

	mux, err := multiplexer.NewMultiplexer(m, 0, multiplexer.WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	ch, err := mux.Channel(6)
	if err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 1)
	if err := ch.Tx(0x44, []byte{0x0F}, r); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if r[0] != 0x33 {
		t.Fatalf("read %02X", r[0])
	}
	if bus.Register() != 0x40 {
		t.Fatalf("register = %02X", bus.Register())
	}
	if err := m.Close(); err != nil || !chip.closed {
		t.Fatalf("close: %v", err)
	}
}
