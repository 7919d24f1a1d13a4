package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dikkadev/prettyslog"

	"i2cmux/bridge"
	"i2cmux/config"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: muxctl [flags] command [args]

commands:
  status                      read the select register
  select CH                   enable only channel CH
  disable                     disable all channels
  scan [CH]                   list devices on every channel, or on CH
  read CH ADDR LEN [REG]      read LEN bytes, optionally from register REG
  write CH ADDR BYTE...       write bytes to a device
  ports                       list serial ports for the bridge transport

flags:
`)
	flag.PrintDefaults()
}

func main() {
	configFile := flag.String("config", "config.yaml", "config file")
	transport := flag.String("transport", "", "i2cdev, mcp2221 or bridge")
	device := flag.String("device", "", "i2c adapter (/dev/i2c-1) or serial port (/dev/ttyACM0)")
	baudRate := flag.Int("baud", 0, "serial baud rate for the bridge transport")
	address := flag.String("address", "", "multiplexer address (0x70-0x77)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(prettyslog.NewPrettyslogHandler("mux",
		prettyslog.WithLevel(level),
	))
	slog.SetDefault(logger)

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	if flag.Arg(0) == "ports" {
		ports, err := bridge.Ports()
		if err != nil {
			slog.Error("listing serial ports", "err", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("loading config", "file", *configFile, "err", err)
		os.Exit(1)
	}
	if *transport != "" {
		cfg.Transport = config.Transport(*transport)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *baudRate != 0 {
		cfg.BaudRate = *baudRate
	}
	if *address != "" {
		a, err := strconv.ParseUint(*address, 0, 16)
		if err != nil {
			slog.Error("bad -address", "value", *address, "err", err)
			os.Exit(2)
		}
		cfg.Address = uint16(a)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	bus, closer, err := openBus(cfg, logger)
	if err != nil {
		slog.Error("opening bus", "transport", cfg.Transport, "device", cfg.Device, "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(os.Stdout, bus, cfg, logger, flag.Args()); err != nil {
		slog.Error("command failed", "command", flag.Arg(0), "err", err)
		closer.Close()
		os.Exit(1)
	}
}
