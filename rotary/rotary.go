// Package rotary reads the I2C rotary encoder boards used on the mux
// channels. It only needs a drivers.I2C, so it works the same on the bare bus
// or on a multiplexer channel.
package rotary

import (
	"encoding/binary"

	"tinygo.org/x/drivers"
)

type RotaryState byte

const (
	RotaryIdle     RotaryState = 0x00
	BtnClick       RotaryState = 0x01
	BtnDoubleClick RotaryState = 0x02
	BtnLongPress   RotaryState = 0x03
	BtnLongRelease RotaryState = 0x04
	RotaryCCW      RotaryState = 0x05
	RotaryCW       RotaryState = 0x06
)

const (
	reportLen = 5
	resetFlag = 0xAA
)

func (r RotaryState) String() string {
	switch r {
	case RotaryIdle:
		return "Idle"
	case BtnClick:
		return "Click"
	case BtnDoubleClick:
		return "Double Click"
	case BtnLongPress:
		return "Long Press"
	case BtnLongRelease:
		return "Long Release"
	case RotaryCCW:
		return "Counter Clockwise"
	case RotaryCW:
		return "Clockwise"
	default:
		return "Unknown"
	}
}

type Encoder struct {
	bus       drivers.I2C
	address   uint16
	lastState RotaryState
}

func NewEncoder(bus drivers.I2C, address uint16) *Encoder {
	return &Encoder{
		bus:     bus,
		address: address,
	}
}

// report is a little-endian int32 counter followed by one state byte.
func (e *Encoder) report() ([]byte, error) {
	buf := make([]byte, reportLen)
	if err := e.bus.Tx(e.address, nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// GetCount reads the current internal counter value from the encoder.
func (e *Encoder) GetCount() (int32, error) {
	buf, err := e.report()
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

// GetState reads the current state of the encoder.
func (e *Encoder) GetState() (RotaryState, error) {
	buf, err := e.report()
	if err != nil {
		return RotaryIdle, err
	}
	e.lastState = RotaryState(buf[4])
	return e.lastState, nil
}

func (e *Encoder) LastState() RotaryState { return e.lastState }

// ResetCounter resets the internal encoder's counter to zero.
func (e *Encoder) ResetCounter() error {
	return e.bus.Tx(e.address, []byte{resetFlag}, nil)
}
