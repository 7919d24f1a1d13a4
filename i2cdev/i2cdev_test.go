package i2cdev

import (
	"testing"
)

func TestOpenMissingAdapter(t *testing.T) {
	b, err := Open("/dev/i2c-does-not-exist")
	if err == nil {
		b.Close()
		t.Fatal("expected an error opening a missing adapter")
	}
}
