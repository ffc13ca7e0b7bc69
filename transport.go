package mogdevice

import (
	"io"
	"time"
)

// Transport is the interface for low-level communication with a MOGlabs device.
// This abstraction allows for testing with mock implementations.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout sets the read timeout duration.
	SetReadTimeout(timeout time.Duration) error

	// HasData reports whether response bytes are waiting on the line,
	// polling for at most the given duration.
	HasData(wait time.Duration) (bool, error)

	// Flush discards any buffered input data.
	Flush() error
}
