package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hub-gain/mogdevice"
)

// duration parses YAML scalars like "2s" or "500ms".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// profile holds connection settings for one named device.
type profile struct {
	Addr    string   `yaml:"addr"`
	Port    int      `yaml:"port"`
	Baud    int      `yaml:"baud"`
	Timeout duration `yaml:"timeout"`
}

// profileSet is the schema of the --profiles YAML file:
//
//	devices:
//	  qrf:
//	    addr: 10.1.1.23
//	  dlc:
//	    addr: /dev/ttyUSB0
//	    baud: 115200
type profileSet struct {
	Devices map[string]profile `yaml:"devices"`
}

func loadProfiles(path string) (*profileSet, error) {
	if path == "" {
		return nil, fmt.Errorf("no profiles file: use --profiles")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var set profileSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}
	return &set, nil
}

// Lookup returns the profile for the given device name.
func (s *profileSet) Lookup(name string) (profile, bool) {
	p, ok := s.Devices[name]
	return p, ok
}

// apply copies the profile's settings into the device config, leaving
// explicitly flagged values alone.
func (p profile) apply(cfg *mogdevice.Config) {
	if cfg.Addr == "" {
		cfg.Addr = p.Addr
	}
	if cfg.Port == 0 {
		cfg.Port = p.Port
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = p.Baud
	}
	if p.Timeout > 0 && cfg.Timeout == time.Second {
		cfg.Timeout = time.Duration(p.Timeout)
	}
}
