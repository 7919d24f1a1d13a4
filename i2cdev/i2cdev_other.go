//go:build !linux

package i2cdev

type Bus struct {
	path string
}

func Open(path string) (*Bus, error) {
	return nil, ErrUnsupported
}

func (b *Bus) Close() error { return nil }

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	return ErrUnsupported
}
