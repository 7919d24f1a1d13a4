package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"i2cmux/config"
	"i2cmux/multiplexer"
)

var errUsage = errors.New("bad usage")

// run executes one command. Every command except status takes ownership of
// the mux, which starts by disabling all channels. status only reads, so it
// shows what an earlier run left selected.
func run(out io.Writer, bus multiplexer.Bus, cfg config.Config, logger *slog.Logger, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "status":
		return status(out, bus, cfg)
	case "select", "disable", "scan", "read", "write":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	mux, err := multiplexer.NewMultiplexer(bus, cfg.Address, multiplexer.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initializing multiplexer at 0x%02X: %w", cfg.Address, err)
	}
	switch cmd {
	case "select":
		if len(args) != 1 {
			return fmt.Errorf("%w: select CH", errUsage)
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: channel %q", errUsage, args[0])
		}
		if _, err := mux.Channel(idx); err != nil {
			return err
		}
		fmt.Fprintf(out, "selected %s\n", label(cfg, idx))
		return nil
	case "disable":
		return mux.DisableAll()
	case "scan":
		return scan(out, mux, cfg, args)
	case "read":
		return read(out, mux, args)
	default:
		return write(mux, args)
	}
}

func label(cfg config.Config, idx int) string {
	name := cfg.ChannelName(idx)
	if name == fmt.Sprintf("ch%d", idx) {
		return name
	}
	return fmt.Sprintf("ch%d (%s)", idx, name)
}

func status(out io.Writer, bus multiplexer.Bus, cfg config.Config) error {
	reg, err := multiplexer.ReadRegister(bus, cfg.Address)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "register 0x%02X\n", reg)
	if reg == 0 {
		fmt.Fprintln(out, "no channels enabled")
		return nil
	}
	for idx := 0; idx < multiplexer.NumChannels; idx++ {
		if reg&(1<<idx) != 0 {
			fmt.Fprintf(out, "enabled %s\n", label(cfg, idx))
		}
	}
	return nil
}

func scan(out io.Writer, mux *multiplexer.Multiplexer, cfg config.Config, args []string) error {
	indices := make([]int, 0, mux.ChannelCount())
	if len(args) == 1 {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: channel %q", errUsage, args[0])
		}
		indices = append(indices, idx)
	} else {
		for i := 0; i < mux.ChannelCount(); i++ {
			indices = append(indices, i)
		}
	}

	for _, idx := range indices {
		ch, err := mux.Channel(idx)
		if err != nil {
			return err
		}
		found, err := ch.Scan()
		if err != nil {
			return err
		}
		addrs := make([]string, 0, len(found))
		for _, a := range found {
			if a == mux.Address() {
				addrs = append(addrs, fmt.Sprintf("0x%02X(mux)", a))
				continue
			}
			addrs = append(addrs, fmt.Sprintf("0x%02X", a))
		}
		fmt.Fprintf(out, "%s: %s\n", label(cfg, idx), strings.Join(addrs, " "))
	}
	return mux.DisableAll()
}

func parseTarget(mux *multiplexer.Multiplexer, chArg, addrArg string) (*multiplexer.Channel, uint16, error) {
	idx, err := strconv.Atoi(chArg)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: channel %q", errUsage, chArg)
	}
	addr, err := strconv.ParseUint(addrArg, 0, 7)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: address %q", errUsage, addrArg)
	}
	ch, err := mux.Channel(idx)
	if err != nil {
		return nil, 0, err
	}
	return ch, uint16(addr), nil
}

func read(out io.Writer, mux *multiplexer.Multiplexer, args []string) error {
	if len(args) != 3 && len(args) != 4 {
		return fmt.Errorf("%w: read CH ADDR LEN [REG]", errUsage)
	}
	n, err := strconv.ParseUint(args[2], 0, 8)
	if err != nil || n == 0 {
		return fmt.Errorf("%w: length %q", errUsage, args[2])
	}
	var w []byte
	if len(args) == 4 {
		reg, err := strconv.ParseUint(args[3], 0, 8)
		if err != nil {
			return fmt.Errorf("%w: register %q", errUsage, args[3])
		}
		w = []byte{byte(reg)}
	}
	ch, addr, err := parseTarget(mux, args[0], args[1])
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if err := ch.Tx(addr, w, buf); err != nil {
		return err
	}
	fmt.Fprintln(out, hex.EncodeToString(buf))
	return nil
}

func write(mux *multiplexer.Multiplexer, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: write CH ADDR BYTE...", errUsage)
	}
	data := make([]byte, 0, len(args)-2)
	for _, a := range args[2:] {
		b, err := strconv.ParseUint(a, 0, 8)
		if err != nil {
			return fmt.Errorf("%w: byte %q", errUsage, a)
		}
		data = append(data, byte(b))
	}
	ch, addr, err := parseTarget(mux, args[0], args[1])
	if err != nil {
		return err
	}
	return ch.WriteTo(addr, data)
}
