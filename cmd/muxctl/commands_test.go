package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"i2cmux/config"
	"i2cmux/multiplexer"
	"i2cmux/simbus"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func setup() (*simbus.Bus, config.Config) {
	bus := simbus.New().WithMux(multiplexer.DefaultAddress)
	cfg := config.Default()
	cfg.Channels = []config.ChannelConfig{{Index: 2, Name: "Media"}}
	return bus, cfg
}

func TestStatusAndSelect(t *testing.T) {
	bus, cfg := setup()
	var out bytes.Buffer
	if err := run(&out, bus, cfg, quiet, []string{"select", "2"}); err != nil {
		t.Fatal(err)
	}
	if bus.Register() != 0x04 {
		t.Fatalf("register = %02X", bus.Register())
	}
	out.Reset()
	bus.Reset()
	if err := run(&out, bus, cfg, quiet, []string{"status"}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "register 0x04\nenabled ch2 (Media)\n" {
		t.Fatalf("status output %q", got)
	}
	if w := bus.Writes(multiplexer.DefaultAddress); len(w) != 0 {
		t.Fatalf("status must not write the register, got %v", w)
	}
	if err := run(&out, bus, cfg, quiet, []string{"disable"}); err != nil {
		t.Fatal(err)
	}
	if bus.Register() != 0 {
		t.Fatalf("register = %02X after disable", bus.Register())
	}
}

func TestStatusShowsSeveralChannels(t *testing.T) {
	bus, cfg := setup()
	bus.SetRegister(0x81)
	var out bytes.Buffer
	if err := run(&out, bus, cfg, quiet, []string{"status"}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "register 0x81\nenabled ch0\nenabled ch7\n" {
		t.Fatalf("status output %q", got)
	}

	bus.SetRegister(0)
	out.Reset()
	if err := run(&out, bus, cfg, quiet, []string{"status"}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "register 0x00\nno channels enabled\n" {
		t.Fatalf("status output %q", got)
	}
}

func TestScanAllChannels(t *testing.T) {
	bus, cfg := setup()
	bus.Attach(0, 0x3C)
	bus.Attach(2, 0x3C)
	bus.Attach(2, 0x48)
	var out bytes.Buffer
	if err := run(&out, bus, cfg, quiet, []string{"scan"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %q", out.String())
	}
	if lines[0] != "ch0: 0x3C 0x70(mux)" {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if lines[2] != "ch2 (Media): 0x3C 0x48 0x70(mux)" {
		t.Fatalf("line 2 = %q", lines[2])
	}
	if lines[5] != "ch5: 0x70(mux)" {
		t.Fatalf("line 5 = %q", lines[5])
	}
	if bus.Register() != 0 {
		t.Fatalf("scan should leave channels disabled, register = %02X", bus.Register())
	}
}

func TestReadWrite(t *testing.T) {
	bus, cfg := setup()
	dev := bus.Attach(5, 0x50)
	if err := run(io.Discard, bus, cfg, quiet, []string{"write", "5", "0x50", "0x10", "0xDE", "0xAD"}); err != nil {
		t.Fatal(err)
	}
	if dev.Regs[0x10] != 0xDE || dev.Regs[0x11] != 0xAD {
		t.Fatalf("registers = % X", dev.Regs[0x10:0x12])
	}
	var out bytes.Buffer
	if err := run(&out, bus, cfg, quiet, []string{"read", "5", "0x50", "2", "0x10"}); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "dead" {
		t.Fatalf("read output %q", out.String())
	}
}

func TestErrors(t *testing.T) {
	bus, cfg := setup()
	if err := run(io.Discard, bus, cfg, quiet, []string{"select", "9"}); !errors.Is(err, multiplexer.ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
	if err := run(io.Discard, bus, cfg, quiet, []string{"write", "1", "0x70", "1"}); !errors.Is(err, multiplexer.ErrAddressCollision) {
		t.Fatalf("expected ErrAddressCollision, got %v", err)
	}
	bus.Reset()
	if err := run(io.Discard, bus, cfg, quiet, []string{"frobnicate"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if ops := bus.Ops(); len(ops) != 0 {
		t.Fatalf("unknown command touched the bus: %v", ops)
	}
	if err := run(io.Discard, bus, cfg, quiet, []string{"read", "1", "0x50"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
