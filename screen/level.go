// Package screen draws channel labels and level bars on SH1106 panels that sit
// behind a multiplexer.
package screen

const (
	MinLevel = 0
	MaxLevel = 100
)

// Level clamps an encoder count to the range the bar can show.
func Level(count int32) int {
	if count < MinLevel {
		return MinLevel
	}
	if count > MaxLevel {
		return MaxLevel
	}
	return int(count)
}
