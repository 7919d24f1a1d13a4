//go:build tinygo

// muxscreens drives one SH1106 panel and one rotary encoder per multiplexer
// channel. Turning an encoder moves its level bar and clicking empties it.
package main

import (
	"machine"
	"time"

	"i2cmux/multiplexer"
	"i2cmux/rotary"
	screenlib "i2cmux/screen"
)

const (
	muxAddr     = 0x70
	encoderAddr = 0x30
)

var names = []string{"Game", "Chat", "Media", "Aux", "Speak"}

type panel struct {
	screen  *screenlib.Screen
	encoder *rotary.Encoder
	count   int32
}

func main() {
	time.Sleep(time.Second * 2)

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

	mux, err := multiplexer.NewMultiplexer(multiplexer.FromTx(i2c), muxAddr)
	if err != nil {
		println("Failed to initialize multiplexer:", err.Error())
		return
	}

	panels := make([]*panel, 0, len(names))
	for i, name := range names {
		ch, err := mux.Channel(i)
		if err != nil {
			panic(err)
		}
		p := &panel{
			screen:  screenlib.NewScreen(ch, name),
			encoder: rotary.NewEncoder(ch, encoderAddr),
		}
		if err := p.screen.DrawLevel(name, 0); err != nil {
			println("Draw failed on channel", i, err.Error())
		}
		panels = append(panels, p)
	}
	println("Screens initialized")

	for {
		updated := false
		for i, p := range panels {
			state, err := p.encoder.GetState()
			if err != nil {
				println("Encoder read failed on channel", i, err.Error())
				continue
			}
			if state == rotary.BtnClick {
				if err := p.encoder.ResetCounter(); err != nil {
					println("Encoder reset failed on channel", i, err.Error())
				}
			}
			count, err := p.encoder.GetCount()
			if err != nil {
				println("Encoder count failed on channel", i, err.Error())
				continue
			}
			if count == p.count {
				continue
			}
			p.count = count
			updated = true
			level := screenlib.Level(count)
			println(p.screen.Name, state.String(), count, level)
			if err := p.screen.DrawLevel(p.screen.Name, level); err != nil {
				println("Draw failed on channel", i, err.Error())
			}
		}

		// Sleep briefly if no updates occurred
		if !updated {
			time.Sleep(time.Millisecond * 3)
		}
	}
}
