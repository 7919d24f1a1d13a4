//go:build linux

package i2cdev

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl numbers and message flags from <linux/i2c-dev.h> and <linux/i2c.h>.
const (
	ioctlRDWR  = 0x0707
	ioctlFuncs = 0x0705

	flagRead = 0x0001

	funcI2C = 0x00000001
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

type Bus struct {
	mu   sync.Mutex
	path string
	fd   int
}

// Open opens an I2C adapter character device and checks that it supports
// plain I2C transfers.
func Open(path string) (*Bus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	b := &Bus{path: path, fd: fd}

	var funcs uintptr
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlFuncs, uintptr(unsafe.Pointer(&funcs))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("ioctl FUNCS %s: %w", path, errno)
	}
	if funcs&funcI2C == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: adapter does not support I2C transfers: %w", path, ErrUnsupported)
	}
	return b, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	return err
}

// Tx issues w and r as one combined transfer with a repeated start between
// them. Either may be empty.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	var msgs [2]i2cMsg
	n := 0
	if len(w) > 0 {
		msgs[n] = i2cMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))}
		n++
	}
	if len(r) > 0 {
		msgs[n] = i2cMsg{addr: addr, flags: flagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))}
		n++
	}
	if n == 0 {
		// zero length write, used as an address probe
		msgs[0] = i2cMsg{addr: addr}
		n = 1
	}
	data := rdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(n)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return ErrClosed
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), ioctlRDWR, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(&msgs)
	if errno != 0 {
		return fmt.Errorf("%s: transfer to 0x%02X: %w", b.path, addr, errno)
	}
	return nil
}
