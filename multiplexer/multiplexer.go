package multiplexer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const (
	// DefaultAddress is the TCA9548A address with A0-A2 tied low.
	DefaultAddress uint16 = 0x70
	maxAddress     uint16 = 0x77

	// MaxDeviceAddress is the highest 7-bit I2C address.
	MaxDeviceAddress uint16 = 0x7F

	// NumChannels is fixed by the hardware.
	NumChannels = 8
)

var (
	ErrInvalidChannel   = errors.New("channel must be in the range 0-7")
	ErrAddressCollision = errors.New("device address must differ from multiplexer address")
	ErrInvalidAddress   = errors.New("multiplexer address must be in the range 0x70-0x77")
	ErrDeviceAddress    = errors.New("device address must be a 7-bit I2C address")
)

// Bus is the upstream I2C transport the multiplexer sits on.
type Bus interface {
	ReadFrom(addr uint16, buf []byte) error
	WriteTo(addr uint16, data []byte) error
	Scan() ([]uint16, error)
}

// TCA9548A multiplexer
type Multiplexer struct {
	mu       sync.Mutex
	bus      Bus
	addr     uint16
	mask     byte
	channels [NumChannels]*Channel
	log      *slog.Logger
}

type Option func(*Multiplexer)

func WithLogger(l *slog.Logger) Option {
	return func(m *Multiplexer) {
		if l != nil {
			m.log = l
		}
	}
}

// NewMultiplexer takes ownership of bus and disables every channel. An addr of
// 0 selects DefaultAddress.
func NewMultiplexer(bus Bus, addr uint16, opts ...Option) (*Multiplexer, error) {
	addr, err := muxAddress(addr)
	if err != nil {
		return nil, err
	}
	m := &Multiplexer{
		bus:  bus,
		addr: addr,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("mux", fmt.Sprintf("0x%02X", addr))
	if err := m.DisableAll(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadRegister reads the select register of the mux at addr without taking
// ownership of it, so whatever a previous owner left enabled is still there.
// An addr of 0 selects DefaultAddress.
func ReadRegister(bus Bus, addr uint16) (byte, error) {
	addr, err := muxAddress(addr)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	if err := bus.ReadFrom(addr, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (m *Multiplexer) Address() uint16 { return m.addr }

func (m *Multiplexer) ChannelCount() int { return NumChannels }

// Mask returns the enable register as last written or observed by m.
func (m *Multiplexer) Mask() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mask
}

// Channel returns the handle for index and makes it the only active channel.
// The disable-all and enable writes are issued on every call, even if index is
// already selected.
func (m *Multiplexer) Channel(index int) (*Channel, error) {
	if err := checkIndex(index); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.channels[index]
	if ch == nil {
		ch = &Channel{mux: m, index: index, sel: 1 << index}
		m.channels[index] = ch
	}
	if err := m.selectExclusive(index); err != nil {
		return nil, err
	}
	return ch, nil
}

func (m *Multiplexer) DisableAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableAll()
}

// EnableChannel sets the register to exactly the bit for index. Callers that
// need exclusivity should DisableAll first.
func (m *Multiplexer) EnableChannel(index int) error {
	if err := checkIndex(index); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enable(index)
}

// State reads the enable register from the chip and records it.
func (m *Multiplexer) State() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readRegister()
}

// Channels lists the indices enabled in the cached mask.
func (m *Multiplexer) Channels() []int {
	mask := m.Mask()
	var out []int
	for i := 0; i < NumChannels; i++ {
		if mask&(1<<i) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func (m *Multiplexer) selectExclusive(index int) error {
	if err := m.disableAll(); err != nil {
		return err
	}
	return m.enable(index)
}

func (m *Multiplexer) disableAll() error {
	if err := m.writeRegister(0x00); err != nil {
		return err
	}
	m.mask = 0
	return nil
}

func (m *Multiplexer) enable(index int) error {
	sel := byte(1) << index
	if err := m.writeRegister(sel); err != nil {
		return err
	}
	m.mask = sel
	return nil
}

func (m *Multiplexer) writeRegister(v byte) error {
	m.log.Debug("write select register", "value", fmt.Sprintf("0x%02X", v))
	if err := m.bus.WriteTo(m.addr, []byte{v}); err != nil {
		m.log.Warn("select register write failed", "value", fmt.Sprintf("0x%02X", v), "err", err)
		return err
	}
	return nil
}

func (m *Multiplexer) readRegister() (byte, error) {
	buf := make([]byte, 1)
	if err := m.bus.ReadFrom(m.addr, buf); err != nil {
		m.log.Warn("select register read failed", "err", err)
		return 0, err
	}
	m.mask = buf[0]
	return buf[0], nil
}

func muxAddress(addr uint16) (uint16, error) {
	if addr == 0 {
		return DefaultAddress, nil
	}
	if addr < DefaultAddress || addr > maxAddress {
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidAddress, addr)
	}
	return addr, nil
}

func checkIndex(index int) error {
	if index < 0 || index >= NumChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, index)
	}
	return nil
}
