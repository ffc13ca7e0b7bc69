package mogdevice

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout              = errors.New("communication timeout")
	ErrNoResponse           = errors.New("no response from device")
	ErrClosed               = errors.New("device connection is closed")
	ErrIncompatibleFirmware = errors.New("incompatible firmware")
)

// CommError represents a transport-level error.
type CommError struct {
	Op  string // Operation that failed (e.g., "send", "recv", "connect")
	Err error  // Underlying error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("communication error during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}

// DeviceError represents an error reported by the instrument itself,
// either an "ERR:" reply or a non-OK response to a command.
type DeviceError struct {
	Cmd string // Command that provoked the error
	Msg string // Message text returned by the device
}

func (e *DeviceError) Error() string {
	if e.Cmd != "" {
		return fmt.Sprintf("device rejected %q: %s", e.Cmd, e.Msg)
	}
	return fmt.Sprintf("device error: %s", e.Msg)
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// AsDeviceError extracts a DeviceError from an error chain, if present.
func AsDeviceError(err error) (*DeviceError, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr, true
	}
	return nil, false
}
