// Package periphbus connects multiplexer channels to periph.io device
// drivers, and periph.io host buses to the multiplexer.
package periphbus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"i2cmux/multiplexer"
)

var ErrSpeedUnsupported = errors.New("periphbus: bus speed is set on the upstream adapter")

// Tx is the part of a channel periph needs.
type Tx interface {
	Tx(addr uint16, w, r []byte) error
}

type channelBus struct {
	tx   Tx
	name string
}

// Wrap exposes ch as a periph i2c.Bus, so any periph.io/x/devices driver can
// live behind the multiplexer.
func Wrap(ch *multiplexer.Channel) i2c.Bus {
	return &channelBus{tx: ch, name: fmt.Sprintf("tca9548a-ch%d", ch.Index())}
}

func (b *channelBus) String() string { return b.name }

func (b *channelBus) Tx(addr uint16, w, r []byte) error {
	return b.tx.Tx(addr, w, r)
}

// SetSpeed is refused: all channels share the upstream clock.
func (b *channelBus) SetSpeed(f physic.Frequency) error {
	return fmt.Errorf("%w: %s requested %s", ErrSpeedUnsupported, b.name, f)
}

type upstream struct {
	i2c.Bus
}

// FromPeriph uses a periph bus (for example one opened with i2creg.Open) as
// the multiplexer's upstream bus.
func FromPeriph(b i2c.Bus) multiplexer.Bus {
	return multiplexer.FromTx(upstream{b})
}
