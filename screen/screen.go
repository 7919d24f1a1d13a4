//go:build tinygo

package screen

import (
	"image/color"
	"math"

	"tinygo.org/x/drivers/sh1106"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/freemono"

	"i2cmux/multiplexer"
)

const (
	ADDR   = 0x3C
	WIDTH  = 128
	HEIGHT = 64

	TEXT_HEIGHT = 9
)

var (
	onColor = color.RGBA{255, 255, 255, 255}
)

// Screen is an SH1106 panel on one multiplexer channel. Each screen owns its
// own display driver bound to its channel, so drawing never needs an explicit
// mux switch.
type Screen struct {
	Channel *multiplexer.Channel
	Display sh1106.Device
	Name    string
}

func NewScreen(ch *multiplexer.Channel, name string) *Screen {
	s := &Screen{
		Channel: ch,
		Display: sh1106.NewI2C(ch),
		Name:    name,
	}
	s.Display.Configure(sh1106.Config{
		Width:    WIDTH,
		Height:   HEIGHT,
		VccState: sh1106.SWITCHCAPVCC,
		Address:  ADDR,
	})
	s.Display.ClearBuffer()
	return s
}

func (s *Screen) Clear() error {
	s.Display.ClearBuffer()
	return s.Display.Display()
}

// DrawLabel renders text centred and rotated for a portrait-mounted panel.
func (s *Screen) DrawLabel(text string) error {
	s.Display.ClearBuffer()
	centerText(&s.Display, text, &freemono.Regular9pt7b, TEXT_HEIGHT)
	return s.Display.Display()
}

// DrawLevel renders the label with a rounded bar filled to level percent.
func (s *Screen) DrawLevel(text string, level int) error {
	s.Display.ClearBuffer()
	centerText(&s.Display, text, &freemono.Regular9pt7b, TEXT_HEIGHT)
	bar(&s.Display, Level(int32(level)))
	return s.Display.Display()
}

func (s *Screen) DrawImage(img []byte) error {
	s.Display.ClearBuffer()
	if err := s.Display.SetBuffer(img); err != nil {
		return err
	}
	return s.Display.Display()
}

func centerText(d *sh1106.Device, text string, font *tinyfont.Font, x int) {
	_, outBox := tinyfont.LineWidth(font, text)
	y := HEIGHT - ((HEIGHT - outBox) / 2)
	tinyfont.WriteLineRotated(d, font, int16(x), int16(y), text, onColor, tinyfont.ROTATION_270)
}

const (
	quadrantTopLeft = iota + 1
	quadrantTopRight
	quadrantBottomLeft
	quadrantBottomRight
)

func bar(d *sh1106.Device, fill int) {
	var leftX int16 = 17
	var rightX int16 = 118
	var topY int16 = 17
	var bottomY int16 = 47
	var radius int16 = 10

	for y := topY + radius; y <= bottomY-radius; y++ {
		d.SetPixel(leftX, y, onColor)
		d.SetPixel(rightX, y, onColor)
	}
	for x := leftX + radius; x <= rightX-radius; x++ {
		d.SetPixel(x, topY, onColor)
		d.SetPixel(x, bottomY, onColor)
	}

	drawCorner(d, leftX+radius, topY+radius, radius, quadrantTopLeft)
	drawCorner(d, rightX-radius, topY+radius, radius, quadrantTopRight)
	drawCorner(d, leftX+radius, bottomY-radius, radius, quadrantBottomLeft)
	drawCorner(d, rightX-radius, bottomY-radius, radius, quadrantBottomRight)

	if fill <= 0 {
		return
	}
	// fills from the right edge, which is the top of a portrait panel
	startX := rightX - 1 - int16(fill-1)
	if startX < leftX+1 {
		startX = leftX + 1
	}
	for x := startX; x <= rightX-1; x++ {
		var yStart, yEnd int16
		if x >= leftX+radius && x <= rightX-radius {
			yStart = topY + 1
			yEnd = bottomY - 1
		} else {
			var dx int16
			if x < leftX+radius {
				dx = (leftX + radius) - x
			} else {
				dx = x - (rightX - radius)
			}
			dy := int16(math.Ceil(math.Sqrt(float64(radius*radius - dx*dx))))
			yStart = (topY + radius) - dy + 1
			yEnd = (bottomY - radius) + dy - 1
		}
		for y := yStart; y <= yEnd; y++ {
			d.SetPixel(x, y, onColor)
		}
	}
}

func drawCorner(d *sh1106.Device, centerX, centerY, radius int16, quadrant int) {
	for dx := int16(0); dx <= radius; dx++ {
		dy := int16(math.Round(math.Sqrt(float64(radius*radius - dx*dx))))
		switch quadrant {
		case quadrantTopRight:
			d.SetPixel(centerX+dx, centerY-dy, onColor)
			d.SetPixel(centerX+dy, centerY-dx, onColor)
		case quadrantTopLeft:
			d.SetPixel(centerX-dx, centerY-dy, onColor)
			d.SetPixel(centerX-dy, centerY-dx, onColor)
		case quadrantBottomLeft:
			d.SetPixel(centerX-dx, centerY+dy, onColor)
			d.SetPixel(centerX-dy, centerY+dx, onColor)
		case quadrantBottomRight:
			d.SetPixel(centerX+dx, centerY+dy, onColor)
			d.SetPixel(centerX+dy, centerY+dx, onColor)
		}
	}
}
