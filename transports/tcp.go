package transports

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// TCPTransport implements Transport over the instrument's Ethernet interface.
type TCPTransport struct {
	conn    net.Conn
	addr    string
	timeout time.Duration

	// pending holds bytes consumed by HasData probes but not yet read.
	pending []byte
}

// TCPConfig holds configuration for dialing a network-connected instrument.
type TCPConfig struct {
	// Addr is the host:port of the instrument (MOGlabs units listen on 7802).
	Addr string

	// Timeout applies to dialing and, unless overridden, to reads.
	Timeout time.Duration
}

// DialTCP connects to an instrument over Ethernet.
func DialTCP(cfg TCPConfig) (*TCPTransport, error) {
	if cfg.Addr == "" {
		return nil, errors.New("network address is required")
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	conn, err := net.DialTimeout("tcp", cfg.Addr, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}

	return &TCPTransport{
		conn:    conn,
		addr:    cfg.Addr,
		timeout: cfg.Timeout,
	}, nil
}

// Read reads available bytes. A read timeout yields a zero-length read with
// a nil error, matching serial port semantics so callers can treat both
// transports identically.
func (t *TCPTransport) Read(p []byte) (int, error) {
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		return n, nil
	}

	t.conn.SetReadDeadline(time.Now().Add(t.timeout))
	n, err := t.conn.Read(p)
	if isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (t *TCPTransport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

func (t *TCPTransport) SetReadTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return nil
}

// HasData reports whether response bytes are waiting, polling for at most
// the given duration. Bytes consumed by the probe are buffered and returned
// by subsequent Reads.
func (t *TCPTransport) HasData(wait time.Duration) (bool, error) {
	if len(t.pending) > 0 {
		return true, nil
	}

	probe := wait
	if probe <= 0 {
		probe = time.Millisecond
	}
	t.conn.SetReadDeadline(time.Now().Add(probe))

	buf := make([]byte, 256)
	n, err := t.conn.Read(buf)
	if n > 0 {
		t.pending = append(t.pending, buf[:n]...)
	}
	if isTimeout(err) {
		return n > 0, nil
	}
	if err != nil {
		return n > 0, err
	}
	return n > 0, nil
}

func (t *TCPTransport) Flush() error {
	t.pending = nil

	buf := make([]byte, 4096)
	t.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	for {
		n, err := t.conn.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	return nil
}

// Addr returns the remote address.
func (t *TCPTransport) Addr() string {
	return t.addr
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
