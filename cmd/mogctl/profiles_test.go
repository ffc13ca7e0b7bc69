package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hub-gain/mogdevice"
)

const sampleProfiles = `
devices:
  qrf:
    addr: 10.1.1.23
    port: 7802
  dlc:
    addr: /dev/ttyUSB0
    baud: 115200
    timeout: 2s
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfiles(t *testing.T) {
	set, err := loadProfiles(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	qrf, ok := set.Lookup("qrf")
	require.True(t, ok)
	assert.Equal(t, "10.1.1.23", qrf.Addr)
	assert.Equal(t, 7802, qrf.Port)

	dlc, ok := set.Lookup("dlc")
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", dlc.Addr)
	assert.Equal(t, 115200, dlc.Baud)
	assert.Equal(t, 2*time.Second, time.Duration(dlc.Timeout))

	_, ok = set.Lookup("nope")
	assert.False(t, ok)
}

func TestLoadProfiles_MissingFile(t *testing.T) {
	_, err := loadProfiles("")
	assert.Error(t, err)

	_, err = loadProfiles("/nonexistent/devices.yaml")
	assert.Error(t, err)
}

func TestLoadProfiles_Malformed(t *testing.T) {
	_, err := loadProfiles(writeProfiles(t, "devices: [not a map"))
	assert.Error(t, err)
}

func TestProfileApply(t *testing.T) {
	p := profile{Addr: "10.1.1.23", Port: 7803, Baud: 57600, Timeout: duration(2 * time.Second)}

	cfg := mogdevice.Config{Timeout: time.Second}
	p.apply(&cfg)
	assert.Equal(t, "10.1.1.23", cfg.Addr)
	assert.Equal(t, 7803, cfg.Port)
	assert.Equal(t, 57600, cfg.BaudRate)
	assert.Equal(t, 2*time.Second, cfg.Timeout)

	// Explicit flags win over the profile.
	cfg = mogdevice.Config{Addr: "10.9.9.9", Port: 7900, Timeout: 5 * time.Second}
	p.apply(&cfg)
	assert.Equal(t, "10.9.9.9", cfg.Addr)
	assert.Equal(t, 7900, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}
