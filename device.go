package mogdevice

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hub-gain/mogdevice/transports"
)

// Device manages a command/response session with a MOGlabs instrument.
type Device struct {
	transport Transport
	kind      connKind
	target    string
	baudRate  int
	timeout   time.Duration
	log       zerolog.Logger

	mu     sync.Mutex
	info   string
	closed bool
}

// Config holds configuration for connecting to a device.
type Config struct {
	// Addr is the device address: a hostname or "host:port" for Ethernet
	// units, or "COM3", "USB", or a /dev/tty* path for USB serial units.
	Addr string

	// Port overrides the TCP port (default 7802), or selects "COM<Port>"
	// for COM-style addresses.
	Port int

	// BaudRate for serial connections. Default is 115200.
	BaudRate int

	// Timeout for communication operations. Default is 1 second.
	Timeout time.Duration

	// Transport is the underlying communication transport.
	// If nil, one is opened based on Addr.
	Transport Transport

	// NoCheck skips the "info" query normally used to verify the
	// connection at dial time.
	NoCheck bool

	// Logger receives debug-level traffic traces. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Dial connects to a MOGlabs device and, unless disabled, verifies the
// connection with an "info" query.
func Dial(ctx context.Context, cfg Config) (*Device, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	d := &Device{
		transport: cfg.Transport,
		baudRate:  cfg.BaudRate,
		timeout:   cfg.Timeout,
		log:       logger,
	}

	if cfg.Transport == nil {
		kind, target, err := resolveAddr(cfg.Addr, cfg.Port)
		if err != nil {
			return nil, err
		}
		d.kind = kind
		d.target = target

		transport, err := d.openTransport()
		if err != nil {
			return nil, err
		}
		d.transport = transport
	}

	if !cfg.NoCheck {
		info, err := d.Ask(ctx, "info")
		if err != nil {
			d.transport.Close()
			return nil, fmt.Errorf("device did not respond to query: %w", err)
		}
		d.info = info
	}

	return d, nil
}

func (d *Device) openTransport() (Transport, error) {
	switch d.kind {
	case connSerial:
		t, err := transports.OpenSerial(transports.SerialConfig{
			Port:     d.target,
			BaudRate: d.baudRate,
			Timeout:  d.timeout,
		})
		if err != nil {
			return nil, &CommError{Op: "connect", Err: err}
		}
		return t, nil
	default:
		t, err := transports.DialTCP(transports.TCPConfig{
			Addr:    d.target,
			Timeout: d.timeout,
		})
		if err != nil {
			return nil, &CommError{Op: "connect", Err: err}
		}
		return t, nil
	}
}

// Reconnect reestablishes the connection with the unit, re-running the
// "info" check. It has no effect on devices using an injected transport.
func (d *Device) Reconnect(ctx context.Context) error {
	d.mu.Lock()
	if d.target == "" {
		d.mu.Unlock()
		return fmt.Errorf("cannot reconnect an injected transport")
	}

	d.transport.Close()

	transport, err := d.openTransport()
	if err != nil {
		d.closed = true
		d.mu.Unlock()
		return err
	}
	d.transport = transport
	d.closed = false
	d.mu.Unlock()

	info, err := d.Ask(ctx, "info")
	if err != nil {
		return fmt.Errorf("device did not respond to query: %w", err)
	}

	d.mu.Lock()
	d.info = info
	d.mu.Unlock()
	return nil
}

// Info returns the identification string captured when the connection
// was verified.
func (d *Device) Info() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Connection returns the resolved address of the device.
func (d *Device) Connection() string {
	return d.target
}

// Close closes the connection and releases resources.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	return d.transport.Close()
}

// SetTimeout changes the communication timeout, returning the previous value.
func (d *Device) SetTimeout(timeout time.Duration) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.timeout
	if timeout > 0 {
		d.timeout = timeout
		if err := d.transport.SetReadTimeout(timeout); err != nil {
			d.log.Warn().Err(err).Dur("timeout", timeout).Msg("failed to set read timeout")
		}
	}
	return old
}

// Cmd sends a command and verifies the device acknowledged it with "OK".
func (d *Device) Cmd(ctx context.Context, cmd string) (string, error) {
	resp, err := d.Ask(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(resp, okPrefix) {
		return "", &DeviceError{Cmd: cmd, Msg: resp}
	}
	return resp, nil
}

// Ask sends a command and returns the single-line reply. Any stale input is
// discarded first so the reply always pairs with this command.
func (d *Device) Ask(ctx context.Context, cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", ErrClosed
	}
	return d.askLocked(ctx, cmd)
}

func (d *Device) askLocked(ctx context.Context, cmd string) (string, error) {
	// Discard stale input so the reply always pairs with this command.
	// A flush failure is not fatal on its own: if the transport is truly
	// broken the send or receive below reports it with full context.
	if err := d.transport.Flush(); err != nil {
		d.log.Debug().Err(err).Msg("flush before send failed")
	}

	if err := d.sendLocked(cmd); err != nil {
		return "", err
	}

	resp, err := d.recvLocked(ctx)
	if err != nil {
		return "", err
	}

	resp = strings.TrimSpace(resp)
	if strings.HasPrefix(resp, errPrefix) {
		return "", &DeviceError{Cmd: cmd, Msg: strings.TrimSpace(resp[len(errPrefix):])}
	}
	return resp, nil
}

// AskDict sends a command whose reply is a set of name/value pairs, such as
// a monitor or temperature query.
func (d *Device) AskDict(ctx context.Context, cmd string) (*Dict, error) {
	resp, err := d.Ask(ctx, cmd)
	if err != nil {
		return nil, err
	}

	dict, err := parseDict(resp)
	if err != nil {
		return nil, fmt.Errorf("reply to %q: %w", cmd, err)
	}
	return dict, nil
}

// AskBin sends a command whose reply is a length-prefixed binary block.
func (d *Device) AskBin(ctx context.Context, cmd string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	if err := d.sendLocked(cmd); err != nil {
		return nil, err
	}

	head, err := d.recvRawLocked(ctx, 4)
	if err != nil {
		return nil, err
	}
	if len(head) < 4 {
		return nil, &CommError{Op: "recv", Err: ErrNoResponse}
	}

	// The first four bytes are either the "ERR:" marker or a length prefix.
	if string(head) == errPrefix {
		msg, err := d.recvLocked(ctx)
		if err != nil {
			return nil, err
		}
		return nil, &DeviceError{Cmd: cmd, Msg: strings.TrimSpace(msg)}
	}

	dataLen := int(binary.LittleEndian.Uint32(head))
	data, err := d.recvRawLocked(ctx, dataLen)
	if err != nil {
		return nil, err
	}
	if len(data) != dataLen {
		return nil, fmt.Errorf("binary response block has incorrect length: got %d, want %d", len(data), dataLen)
	}
	return data, nil
}

// Version queries the firmware versions of the unit's components.
func (d *Device) Version(ctx context.Context) (map[string]string, error) {
	resp, err := d.Ask(ctx, "version")
	if err != nil {
		return nil, err
	}
	if resp == "Command not defined" {
		return nil, ErrIncompatibleFirmware
	}
	return parseVersions(resp), nil
}

// Send transmits a command, appending CRLF if not present, without waiting
// for a reply.
func (d *Device) Send(ctx context.Context, cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	return d.sendLocked(cmd)
}

// Recv waits for and returns one reply.
func (d *Device) Recv(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", ErrClosed
	}
	return d.recvLocked(ctx)
}

// Flush discards any pending input, returning whatever was drained.
func (d *Device) Flush(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", ErrClosed
	}
	return d.flushLocked(ctx, 0)
}

// Internal methods

func (d *Device) sendLocked(cmd string) error {
	packet := []byte(terminate(cmd))

	if len(packet) < 256 {
		d.log.Debug().Str("tx", cmd).Msg("send")
	}

	n, err := d.transport.Write(packet)
	if err != nil {
		return &CommError{Op: "send", Err: err}
	}
	if n != len(packet) {
		return &CommError{Op: "send", Err: fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))}
	}
	return nil
}

// recvLocked is a somewhat robust multi-read receive: after the first chunk
// it keeps reading with a short follow-up poll until the line goes quiet,
// so replies split across packets arrive whole.
func (d *Device) recvLocked(ctx context.Context) (string, error) {
	buf := make([]byte, 256)
	n, err := d.transport.Read(buf)
	if n == 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// A timed-out read yields a zero count with no error. Anything
		// else (io.EOF from a closed peer, a torn-down serial port) is a
		// transport fault, not a slow device.
		if err != nil {
			return "", &CommError{Op: "recv", Err: err}
		}
		return "", ErrTimeout
	}
	data := append([]byte(nil), buf[:n]...)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		// A complete reply ends in CRLF; only wait for more if it doesn't.
		followUp := time.Duration(0)
		if !strings.HasSuffix(string(data), CRLF) {
			followUp = 100 * time.Millisecond
		}

		has, err := d.transport.HasData(followUp)
		if err != nil || !has {
			break
		}

		n, err := d.transport.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil || n == 0 {
			break
		}
	}

	d.log.Debug().Int("bytes", len(data)).Str("rx", string(data)).Msg("recv")
	return string(data), nil
}

func (d *Device) recvRawLocked(ctx context.Context, size int) ([]byte, error) {
	data := make([]byte, 0, size)
	buf := make([]byte, 4096)

	for len(data) < size {
		select {
		case <-ctx.Done():
			return data, ctx.Err()
		default:
		}

		want := size - len(data)
		if want > len(buf) {
			want = len(buf)
		}
		n, err := d.transport.Read(buf[:want])
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			return data, &CommError{Op: "recv", Err: err}
		}
		if n == 0 {
			break
		}
	}

	d.log.Debug().Int("bytes", len(data)).Msg("recv raw")
	return data, nil
}

func (d *Device) flushLocked(ctx context.Context, wait time.Duration) (string, error) {
	var drained []byte
	buf := make([]byte, 256)

	for {
		select {
		case <-ctx.Done():
			return string(drained), ctx.Err()
		default:
		}

		has, err := d.transport.HasData(wait)
		if err != nil || !has {
			break
		}
		n, err := d.transport.Read(buf)
		if n > 0 {
			drained = append(drained, buf[:n]...)
		}
		if err != nil || n == 0 {
			break
		}
	}

	if len(drained) > 0 {
		d.log.Debug().Int("bytes", len(drained)).Str("data", string(drained)).Msg("flushed")
	}
	return string(drained), nil
}
