package mogdevice

import (
	"fmt"
	"strings"
)

// Default connection parameters for MOGlabs instruments.
const (
	DefaultPort     = 7802
	DefaultBaudRate = 115200
)

type connKind int

const (
	connTCP connKind = iota
	connSerial
)

// resolveAddr classifies a device address as serial or TCP and normalizes it.
// Windows-style "COM" names, the literal "USB", and POSIX tty paths select a
// serial connection; anything else is treated as a network address, with the
// default port appended when none is given. For COM-style addresses an
// explicit port number selects "COM<port>", and any trailing description
// after the first space is dropped.
func resolveAddr(addr string, port int) (connKind, string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return 0, "", fmt.Errorf("empty device address")
	}

	if strings.HasPrefix(addr, "COM") || addr == "USB" || strings.HasPrefix(addr, "/dev/") {
		if port > 0 && !strings.HasPrefix(addr, "/dev/") {
			addr = fmt.Sprintf("COM%d", port)
		}
		name, _, _ := strings.Cut(addr, " ")
		return connSerial, name, nil
	}

	if !strings.Contains(addr, ":") {
		if port <= 0 {
			port = DefaultPort
		}
		addr = fmt.Sprintf("%s:%d", addr, port)
	}
	return connTCP, addr, nil
}
