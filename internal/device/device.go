package device

import (
	"io"
	"time"
)

// Port is a byte stream to the device under test. Read must return (0, nil) when the
// read timeout expires before any byte arrives, which is how serial ports behave.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long a single Read blocks waiting for the first byte.
	SetReadTimeout(t time.Duration) error
}
