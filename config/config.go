package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"i2cmux/multiplexer"
)

type Transport string

const (
	TransportI2CDev  Transport = "i2cdev"
	TransportMCP2221 Transport = "mcp2221"
	TransportBridge  Transport = "bridge"
)

var ErrInvalid = errors.New("invalid config")

type ChannelConfig struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`
}

type Config struct {
	Transport   Transport       `yaml:"transport"`
	Device      string          `yaml:"device"`
	BaudRate    int             `yaml:"baudRate"`
	DeviceIndex int             `yaml:"deviceIndex"`
	Speed       uint32          `yaml:"speed"`
	Address     uint16          `yaml:"address"`
	ReadTimeout time.Duration   `yaml:"readTimeout"`
	Channels    []ChannelConfig `yaml:"channels"`
}

func Default() Config {
	return Config{
		Transport: TransportI2CDev,
		Device:    "/dev/i2c-1",
		BaudRate:  115200,
		Speed:     100000,
		Address:   multiplexer.DefaultAddress,
	}
}

// Load reads path on top of Default. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportI2CDev, TransportBridge:
		if c.Device == "" {
			return fmt.Errorf("%w: transport %s needs a device", ErrInvalid, c.Transport)
		}
	case TransportMCP2221:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	if c.Address != 0 && (c.Address < multiplexer.DefaultAddress || c.Address > multiplexer.DefaultAddress+7) {
		return fmt.Errorf("%w: address 0x%02X", ErrInvalid, c.Address)
	}
	seen := map[int]bool{}
	for _, ch := range c.Channels {
		if ch.Index < 0 || ch.Index >= multiplexer.NumChannels {
			return fmt.Errorf("%w: channel index %d", ErrInvalid, ch.Index)
		}
		if seen[ch.Index] {
			return fmt.Errorf("%w: channel %d listed twice", ErrInvalid, ch.Index)
		}
		seen[ch.Index] = true
	}
	return nil
}

// ChannelName returns the configured label for index, or "chN".
func (c Config) ChannelName(index int) string {
	for _, ch := range c.Channels {
		if ch.Index == index && ch.Name != "" {
			return ch.Name
		}
	}
	return fmt.Sprintf("ch%d", index)
}
