package transports

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialTransport implements Transport using a hardware serial port.
// MOGlabs USB interfaces enumerate as a CDC serial port at 115200 8N1.
type SerialTransport struct {
	port     serial.Port
	portName string
	timeout  time.Duration

	// pending holds bytes consumed by HasData probes but not yet read.
	pending []byte
}

// SerialConfig holds configuration for opening a serial port.
type SerialConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

// OpenSerial opens a serial port with the given configuration.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &SerialTransport{
		port:     port,
		portName: cfg.Port,
		timeout:  cfg.Timeout,
	}, nil
}

func (t *SerialTransport) Read(p []byte) (int, error) {
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		return n, nil
	}
	return t.port.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}

func (t *SerialTransport) SetReadTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return t.port.SetReadTimeout(timeout)
}

// HasData reports whether response bytes are waiting, polling for at most
// the given duration. Bytes consumed by the probe are buffered and returned
// by subsequent Reads.
func (t *SerialTransport) HasData(wait time.Duration) (bool, error) {
	if len(t.pending) > 0 {
		return true, nil
	}

	probe := wait
	if probe <= 0 {
		probe = time.Millisecond
	}
	if err := t.port.SetReadTimeout(probe); err != nil {
		return false, err
	}
	defer t.port.SetReadTimeout(t.timeout)

	buf := make([]byte, 256)
	n, err := t.port.Read(buf)
	if n > 0 {
		t.pending = append(t.pending, buf[:n]...)
	}
	if err != nil {
		return n > 0, err
	}
	return n > 0, nil
}

func (t *SerialTransport) Flush() error {
	t.pending = nil

	// Read and discard any buffered data
	buf := make([]byte, 4096)
	t.port.SetReadTimeout(10 * time.Millisecond)
	for {
		n, err := t.port.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	// Restore original timeout
	t.port.SetReadTimeout(t.timeout)
	return nil
}

// PortName returns the serial port name.
func (t *SerialTransport) PortName() string {
	return t.portName
}
