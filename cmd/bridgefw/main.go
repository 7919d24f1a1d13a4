//go:build tinygo

// bridgefw turns a microcontroller into a serial-to-I2C bridge for the host
// side bridge package.
package main

import (
	"machine"
	"time"

	"i2cmux/protocol"
)

func main() {
	time.Sleep(time.Second * 2)

	// Configure I2C
	i2c := machine.I2C0
	err := i2c.Configure(machine.I2CConfig{
		SDA:       machine.GPIO0,
		SCL:       machine.GPIO1,
		Frequency: 400000,
	})
	if err != nil {
		println("Failed to configure I2C bus")
		return
	}

	serial := machine.Serial
	var dec protocol.RequestDecoder

	for {
		handled := false
		for serial.Buffered() > 0 {
			b, err := serial.ReadByte()
			if err != nil {
				println("Error reading serial:", err.Error())
				break
			}
			req, ok := dec.Feed(b)
			if !ok {
				continue
			}
			resp := protocol.Handle(req, i2c.Tx)
			if _, err := serial.Write(protocol.MarshalResponse(resp)); err != nil {
				println("ERROR: ", err.Error())
			}
			handled = true
		}

		// Sleep briefly if nothing arrived
		if !handled {
			time.Sleep(time.Millisecond * 1)
		}
	}
}
