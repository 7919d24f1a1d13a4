// Package i2cdev talks to a Linux /dev/i2c-N adapter.
package i2cdev

import (
	"errors"
	"fmt"

	"i2cmux/multiplexer"
)

var (
	ErrUnsupported = errors.New("i2cdev: not supported on this platform")
	ErrClosed      = errors.New("i2cdev: bus closed")
)

var _ multiplexer.Bus = (*Bus)(nil)

const (
	scanFirst uint16 = 0x08
	scanLast  uint16 = 0x77
)

// OpenIndex opens /dev/i2c-index.
func OpenIndex(index int) (*Bus, error) {
	return Open(fmt.Sprintf("/dev/i2c-%d", index))
}

func (b *Bus) String() string { return b.path }

func (b *Bus) ReadFrom(addr uint16, buf []byte) error {
	return b.Tx(addr, nil, buf)
}

func (b *Bus) WriteTo(addr uint16, data []byte) error {
	return b.Tx(addr, data, nil)
}

// Scan probes the unreserved 7-bit range with a one byte read, like
// i2cdetect -r.
func (b *Bus) Scan() ([]uint16, error) {
	var found []uint16
	buf := make([]byte, 1)
	for addr := scanFirst; addr <= scanLast; addr++ {
		err := b.Tx(addr, nil, buf)
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		if err == nil {
			found = append(found, addr)
		}
	}
	return found, nil
}
