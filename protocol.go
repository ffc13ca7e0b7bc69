// Package mogdevice provides a Go client for communicating with MOGlabs
// laboratory instruments over Ethernet or a USB serial connection.
package mogdevice

import (
	"fmt"
	"strings"
)

// CRLF terminates every command and reply on the wire.
const CRLF = "\r\n"

// Reply prefixes used by MOGlabs firmware.
const (
	okPrefix  = "OK"
	errPrefix = "ERR:"
)

// terminate appends CRLF to a command if not already present.
func terminate(cmd string) string {
	if strings.HasSuffix(cmd, CRLF) {
		return cmd
	}
	return cmd + CRLF
}

// Dict is an insertion-ordered set of name/value pairs, as returned by
// queries such as "mon" or "temp" that report multiple readings at once.
type Dict struct {
	keys []string
	vals map[string]string
}

// Get returns the value for the given name.
func (d *Dict) Get(name string) (string, bool) {
	v, ok := d.vals[name]
	return v, ok
}

// Keys returns the entry names in the order the device reported them.
func (d *Dict) Keys() []string {
	return d.keys
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}

func (d *Dict) set(name, value string) {
	if _, exists := d.vals[name]; !exists {
		d.keys = append(d.keys, name)
	}
	d.vals[name] = value
}

// parseDict parses a dictionary-style reply. The reply may begin with "OK",
// and entries are comma-delimited on new firmware, newline-delimited on old.
func parseDict(resp string) (*Dict, error) {
	if strings.HasPrefix(resp, okPrefix) && len(resp) >= 3 {
		resp = strings.TrimSpace(resp[3:])
	}
	if !strings.Contains(resp, ":") {
		return nil, fmt.Errorf("reply %q is not a dictionary", resp)
	}

	sep := "\n"
	if strings.Contains(resp, ",") {
		sep = ","
	}

	d := &Dict{vals: make(map[string]string)}
	for _, entry := range strings.Split(resp, sep) {
		name, val, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("malformed dictionary entry %q", entry)
		}
		d.set(strings.TrimSpace(name), strings.TrimSpace(val))
	}
	return d, nil
}

// parseVersions parses the reply to a "version" query into a component map.
// New firmware reports comma-separated "name : version" pairs, old firmware
// newline-separated pairs, and the oldest units a bare version string, which
// is reported under the "UC" (microcontroller) key.
func parseVersions(reply string) map[string]string {
	vers := make(map[string]string)

	if !strings.Contains(reply, ":") {
		vers["UC"] = strings.TrimSpace(reply)
		return vers
	}

	sep := "\n"
	if strings.Contains(reply, ",") {
		sep = ","
	}

	for _, line := range strings.Split(reply, sep) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, okPrefix) {
			continue
		}
		name, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if strings.Contains(val, " ") {
			// Verbose components report "version <build> <date>"; keep the
			// build identifier the same way the reference client does.
			val = strings.TrimSpace(penultimateField(val))
		}
		vers[strings.TrimSpace(name)] = val
	}
	return vers
}

// penultimateField splits s on its last two spaces and returns the middle
// part, e.g. "3.9.2 built 2019" yields "built" and "a b" yields "b".
func penultimateField(s string) string {
	last := strings.LastIndex(s, " ")
	if last < 0 {
		return s
	}
	prev := strings.LastIndex(s[:last], " ")
	if prev < 0 {
		return s[last+1:]
	}
	return s[prev+1 : last]
}
