// Package simbus emulates an I2C bus with a TCA9548A and simple register-file
// devices attached to it. Every transaction is recorded so tests can assert on
// exact bus traffic.
package simbus

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNACK      = errors.New("simbus: no device acknowledged")
	ErrCollision = errors.New("simbus: more than one device answered")
)

type OpKind uint8

const (
	OpRead OpKind = iota + 1
	OpWrite
	OpTx
	OpScan
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpTx:
		return "tx"
	case OpScan:
		return "scan"
	default:
		return "unknown"
	}
}

// Op is one recorded transaction.
type Op struct {
	Kind OpKind
	Addr uint16
	Data []byte // bytes written, or bytes returned for reads
}

func (o Op) String() string {
	return fmt.Sprintf("%s 0x%02X % X", o.Kind, o.Addr, o.Data)
}

// Device is a 256 byte register file. A write sets the register pointer from
// its first byte and stores the rest; a read streams from the pointer.
type Device struct {
	Regs [256]byte
	ptr  byte

	// Report makes every read start at register 0, for devices that answer
	// a bare read with a fixed status report.
	Report bool
}

func (d *Device) write(data []byte) {
	if len(data) == 0 {
		return
	}
	d.ptr = data[0]
	for _, b := range data[1:] {
		d.Regs[d.ptr] = b
		d.ptr++
	}
}

func (d *Device) read(buf []byte) {
	if d.Report {
		d.ptr = 0
	}
	for i := range buf {
		buf[i] = d.Regs[d.ptr]
		d.ptr++
	}
}

// Bus is the emulated upstream bus.
type Bus struct {
	mu       sync.Mutex
	muxAddr  uint16
	hasMux   bool
	register byte
	upstream map[uint16]*Device
	channels [8]map[uint16]*Device
	ops      []Op

	// Fail, when set, is consulted before every transaction. A non-nil
	// return aborts the transaction with that error.
	Fail func(op Op) error
}

func New() *Bus {
	b := &Bus{upstream: map[uint16]*Device{}}
	for i := range b.channels {
		b.channels[i] = map[uint16]*Device{}
	}
	return b
}

// WithMux places a TCA9548A on the bus at addr.
func (b *Bus) WithMux(addr uint16) *Bus {
	b.muxAddr = addr
	b.hasMux = true
	return b
}

// Attach puts a device on a downstream channel.
func (b *Bus) Attach(channel int, addr uint16) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &Device{}
	b.channels[channel][addr] = d
	return d
}

// AttachUpstream puts a device directly on the upstream bus.
func (b *Bus) AttachUpstream(addr uint16) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &Device{}
	b.upstream[addr] = d
	return d
}

// Register returns the emulated select register.
func (b *Bus) Register() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.register
}

// SetRegister changes the select register behind the driver's back, as another
// master or a chip reset would.
func (b *Bus) SetRegister(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.register = v
}

// Ops returns a copy of the transaction log.
func (b *Bus) Ops() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Op(nil), b.ops...)
}

func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
}

// Writes returns the payload of every plain write to addr, in order.
func (b *Bus) Writes(addr uint16) [][]byte {
	var out [][]byte
	for _, op := range b.Ops() {
		if op.Kind == OpWrite && op.Addr == addr {
			out = append(out, op.Data)
		}
	}
	return out
}

// Count returns how many transactions of kind were addressed to addr.
func (b *Bus) Count(kind OpKind, addr uint16) int {
	n := 0
	for _, op := range b.Ops() {
		if op.Kind == kind && op.Addr == addr {
			n++
		}
	}
	return n
}

func (b *Bus) ReadFrom(addr uint16, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	op := Op{Kind: OpRead, Addr: addr}
	if err := b.fail(op); err != nil {
		return err
	}
	b.ops = append(b.ops, op)
	if err := b.readLocked(addr, buf); err != nil {
		return err
	}
	b.ops[len(b.ops)-1].Data = append([]byte(nil), buf...)
	return nil
}

func (b *Bus) WriteTo(addr uint16, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	op := Op{Kind: OpWrite, Addr: addr, Data: append([]byte(nil), data...)}
	if err := b.fail(op); err != nil {
		return err
	}
	b.ops = append(b.ops, op)
	return b.writeLocked(addr, data)
}

// Tx is a combined transfer. It is logged as a single op carrying the
// written bytes.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	op := Op{Kind: OpTx, Addr: addr, Data: append([]byte(nil), w...)}
	if err := b.fail(op); err != nil {
		return err
	}
	b.ops = append(b.ops, op)
	if len(w) > 0 || len(r) == 0 {
		if err := b.writeLocked(addr, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return b.readLocked(addr, r)
	}
	return nil
}

func (b *Bus) Scan() ([]uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op := Op{Kind: OpScan}
	if err := b.fail(op); err != nil {
		return nil, err
	}
	b.ops = append(b.ops, op)
	var found []uint16
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		if n := b.answering(addr); n > 0 {
			found = append(found, addr)
		}
	}
	return found, nil
}

func (b *Bus) fail(op Op) error {
	if b.Fail == nil {
		return nil
	}
	return b.Fail(op)
}

func (b *Bus) answering(addr uint16) int {
	n := 0
	if b.hasMux && addr == b.muxAddr {
		n++
	}
	if _, ok := b.upstream[addr]; ok {
		n++
	}
	for i, devs := range b.channels {
		if b.register&(1<<i) == 0 {
			continue
		}
		if _, ok := devs[addr]; ok {
			n++
		}
	}
	return n
}

func (b *Bus) device(addr uint16) (*Device, error) {
	switch n := b.answering(addr); {
	case n == 0:
		return nil, fmt.Errorf("%w at 0x%02X", ErrNACK, addr)
	case n > 1:
		return nil, fmt.Errorf("%w at 0x%02X", ErrCollision, addr)
	}
	if d, ok := b.upstream[addr]; ok {
		return d, nil
	}
	for i, devs := range b.channels {
		if b.register&(1<<i) == 0 {
			continue
		}
		if d, ok := devs[addr]; ok {
			return d, nil
		}
	}
	return nil, nil
}

func (b *Bus) writeLocked(addr uint16, data []byte) error {
	if b.hasMux && addr == b.muxAddr && b.answering(addr) == 1 {
		if len(data) > 0 {
			b.register = data[len(data)-1]
		}
		return nil
	}
	d, err := b.device(addr)
	if err != nil {
		return err
	}
	d.write(data)
	return nil
}

func (b *Bus) readLocked(addr uint16, buf []byte) error {
	if b.hasMux && addr == b.muxAddr && b.answering(addr) == 1 {
		for i := range buf {
			buf[i] = b.register
		}
		return nil
	}
	d, err := b.device(addr)
	if err != nil {
		return err
	}
	d.read(buf)
	return nil
}

// Plain hides Tx so callers exercise the write-then-read fallback.
type Plain struct {
	B *Bus
}

func (p Plain) ReadFrom(addr uint16, buf []byte) error { return p.B.ReadFrom(addr, buf) }
func (p Plain) WriteTo(addr uint16, data []byte) error { return p.B.WriteTo(addr, data) }
func (p Plain) Scan() ([]uint16, error) { return p.B.Scan() }
