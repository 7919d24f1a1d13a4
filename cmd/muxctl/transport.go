package main

import (
	"fmt"
	"io"
	"log/slog"

	"i2cmux/bridge"
	"i2cmux/config"
	"i2cmux/i2cdev"
	"i2cmux/mcp2221"
	"i2cmux/multiplexer"
)

func openBus(cfg config.Config, logger *slog.Logger) (multiplexer.Bus, io.Closer, error) {
	switch cfg.Transport {
	case config.TransportI2CDev:
		b, err := i2cdev.Open(cfg.Device)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case config.TransportMCP2221:
		m, err := mcp2221.Open(cfg.DeviceIndex, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Speed != 0 {
			if err := m.SetSpeed(cfg.Speed); err != nil {
				m.Close()
				return nil, nil, err
			}
		}
		return m, m, nil
	case config.TransportBridge:
		b, err := bridge.Open(cfg.Device, cfg.BaudRate, cfg.ReadTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
