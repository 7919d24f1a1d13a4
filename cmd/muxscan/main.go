//go:build tinygo

// muxscan prints every device found behind each multiplexer channel, over
// and over.
package main

import (
	"machine"
	"time"

	"i2cmux/multiplexer"
)

const muxAddr = 0x70

func main() {
	time.Sleep(time.Second * 2)

	i2c := machine.I2C0
	err := i2c.Configure(machine.I2CConfig{
		SDA: machine.GPIO0,
		SCL: machine.GPIO1,
	})
	if err != nil {
		println("Failed to configure I2C bus")
		return
	}

	mux, err := multiplexer.NewMultiplexer(multiplexer.FromTx(i2c), muxAddr)
	if err != nil {
		println("No multiplexer at", itoh(muxAddr), err.Error())
		return
	}

	for {
		println("Scanning I2C bus")
		for channel := 0; channel < mux.ChannelCount(); channel++ {
			ch, err := mux.Channel(channel)
			if err != nil {
				panic(err)
			}
			println("Channel", channel)
			found, err := ch.Scan()
			if err != nil {
				println("Scan failed:", err.Error())
				continue
			}
			for _, addr := range found {
				if addr == muxAddr {
					continue
				}
				println("Found device at address", itoh(addr))
			}
		}
		mux.DisableAll()
		time.Sleep(time.Second * 10)
	}
}

func itoh(i uint16) string {
	return "0x" + string("0123456789ABCDEF"[i>>4]) + string("0123456789ABCDEF"[i&0x0F])
}
