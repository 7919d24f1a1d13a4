package multiplexer

import (
	"errors"
	"testing"
)

type fakeTx struct {
	present map[uint16]bool
	calls   int
	lastW   []byte
	lastR   int
}

func (f *fakeTx) Tx(addr uint16, w, r []byte) error {
	f.calls++
	f.lastW, f.lastR = w, len(r)
	if !f.present[addr] {
		return errors.New("nack")
	}
	return nil
}

func TestFromTxScanProbesWithRead(t *testing.T) {
	f := &fakeTx{present: map[uint16]bool{0x10: true, 0x70: true, 0x03: true, 0x78: true}}
	bus := FromTx(f)
	found, err := bus.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0] != 0x10 || found[1] != 0x70 {
		t.Fatalf("found %v, want [0x10 0x70]", found)
	}
	if f.calls != int(scanLast-scanFirst)+1 {
		t.Fatalf("probed %d addresses", f.calls)
	}
	if f.lastW != nil || f.lastR != 1 {
		t.Fatalf("probe must be a 1 byte read, got w=%v r=%d", f.lastW, f.lastR)
	}
}

func TestFromTxReadWrite(t *testing.T) {
	f := &fakeTx{present: map[uint16]bool{0x20: true}}
	bus := FromTx(f)
	if err := bus.WriteTo(0x20, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if len(f.lastW) != 2 || f.lastR != 0 {
		t.Fatalf("write forwarded as w=%v r=%d", f.lastW, f.lastR)
	}
	if err := bus.ReadFrom(0x20, make([]byte, 3)); err != nil {
		t.Fatal(err)
	}
	if f.lastW != nil || f.lastR != 3 {
		t.Fatalf("read forwarded as w=%v r=%d", f.lastW, f.lastR)
	}
	if err := bus.WriteTo(0x21, []byte{1}); err == nil {
		t.Fatal("expected error from absent device")
	}
}
