package multiplexer

import "tinygo.org/x/drivers"

const (
	scanFirst uint16 = 0x08
	scanLast  uint16 = 0x77
)

type txBus struct {
	drivers.I2C
}

// FromTx adapts anything with a Tx method, such as *machine.I2C, into a Bus.
// The result still satisfies drivers.I2C, so channels forward combined
// transfers to it unchanged.
func FromTx(i2c drivers.I2C) Bus {
	return txBus{i2c}
}

func (b txBus) ReadFrom(addr uint16, buf []byte) error {
	return b.Tx(addr, nil, buf)
}

func (b txBus) WriteTo(addr uint16, data []byte) error {
	return b.Tx(addr, data, nil)
}

// Scan probes each unreserved 7-bit address with a one byte read. A write
// probe would clobber the select register of any mux on the bus.
func (b txBus) Scan() ([]uint16, error) {
	var found []uint16
	buf := make([]byte, 1)
	for addr := scanFirst; addr <= scanLast; addr++ {
		if b.Tx(addr, nil, buf) == nil {
			found = append(found, addr)
		}
	}
	return found, nil
}
