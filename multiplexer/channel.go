package multiplexer

import (
	"fmt"

	"tinygo.org/x/drivers"
)

var (
	_ Bus         = (*Channel)(nil)
	_ drivers.I2C = (*Channel)(nil)
)

// Channel is one downstream bus of the multiplexer. It has the same method set
// as the upstream bus, so device drivers can use it without knowing about the
// mux.
type Channel struct {
	mux   *Multiplexer
	index int
	sel   byte
}

func (c *Channel) Index() int { return c.index }

func (c *Channel) ReadFrom(addr uint16, buf []byte) error {
	if err := c.checkAddr(addr); err != nil {
		return err
	}
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	if err := c.ensureSelected(); err != nil {
		return err
	}
	return c.mux.bus.ReadFrom(addr, buf)
}

func (c *Channel) WriteTo(addr uint16, data []byte) error {
	if err := c.checkAddr(addr); err != nil {
		return err
	}
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	if err := c.ensureSelected(); err != nil {
		return err
	}
	return c.mux.bus.WriteTo(addr, data)
}

// Tx performs a write followed by a read. If the upstream bus supports
// combined transfers the two halves share one repeated start.
func (c *Channel) Tx(addr uint16, w, r []byte) error {
	if err := c.checkAddr(addr); err != nil {
		return err
	}
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	if err := c.ensureSelected(); err != nil {
		return err
	}
	if tx, ok := c.mux.bus.(drivers.I2C); ok {
		return tx.Tx(addr, w, r)
	}
	if len(w) > 0 {
		if err := c.mux.bus.WriteTo(addr, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		return c.mux.bus.ReadFrom(addr, r)
	}
	return nil
}

// Scan returns every address that answers on this channel, the mux itself
// included.
func (c *Channel) Scan() ([]uint16, error) {
	c.mux.mu.Lock()
	defer c.mux.mu.Unlock()
	if err := c.ensureSelected(); err != nil {
		return nil, err
	}
	return c.mux.bus.Scan()
}

// ensureSelected re-reads the select register and, if another channel (or
// none) is enabled, switches back to this one exclusively. Caller holds mu.
func (c *Channel) ensureSelected() error {
	cur, err := c.mux.readRegister()
	if err != nil {
		return err
	}
	if cur == c.sel {
		return nil
	}
	c.mux.log.Debug("channel not selected, switching", "channel", c.index, "register", fmt.Sprintf("0x%02X", cur))
	return c.mux.selectExclusive(c.index)
}

// checkAddr rejects targets that would reach the mux. Transports only put 7
// bits on the wire, so anything wider is refused too.
func (c *Channel) checkAddr(addr uint16) error {
	if addr > MaxDeviceAddress {
		return fmt.Errorf("%w: 0x%03X", ErrDeviceAddress, addr)
	}
	if addr == c.mux.addr {
		return fmt.Errorf("%w: 0x%02X", ErrAddressCollision, addr)
	}
	return nil
}
