// Package config loads the runner configuration: which suites to execute,
// where diagnostics go, and the device layout when running against the
// embedded device.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kmslab.dev/internal/kms"
)

type Config struct {
	Suites      []string `yaml:"suites"`
	ResultsDB   string   `yaml:"results_db"`
	DumpDir     string   `yaml:"dump_dir"`
	FixtureURL  string   `yaml:"fixture_url"`
	CaptureSize int      `yaml:"capture_size"`

	Device Device `yaml:"device"`

	Bench Bench `yaml:"bench"`
}

// Device describes the embedded device used when no fixture url is given.
type Device struct {
	Pipes       int         `yaml:"pipes"`
	ApertureMiB int         `yaml:"aperture_mib"`
	Fences      int         `yaml:"fences"`
	Connectors  []Connector `yaml:"connectors"`
}

type Connector struct {
	Type      string `yaml:"type"`
	Connected bool   `yaml:"connected"`
}

// Bench tunes the copy-engine throughput sweep.
type Bench struct {
	BufferKiB int `yaml:"buffer_kib"`
	Count     int `yaml:"count"`
	Reps      int `yaml:"reps"`
}

var knownSuites = map[string]struct{}{
	"rotation":  {},
	"reflect-x": {},
	"fences":    {},
	"hotplug":   {},
	"bench":     {},
}

func Load(path string) (Config, error) {
	var c Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("suites.yaml: %w", err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default is the configuration used when no file is given.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if len(c.Suites) == 0 {
		c.Suites = []string{"rotation", "reflect-x", "fences", "hotplug"}
	}
	if c.ResultsDB == "" {
		c.ResultsDB = "kmslab-results.db"
	}
	if c.CaptureSize <= 0 {
		c.CaptureSize = 10
	}
	if c.Bench.BufferKiB <= 0 {
		c.Bench.BufferKiB = 64
	}
	if c.Bench.Count <= 0 {
		c.Bench.Count = 16
	}
	if c.Bench.Reps <= 0 {
		c.Bench.Reps = 9
	}
}

// DeviceConfig translates the yaml device section into a device topology.
// Empty sections fall back to the device defaults.
func (c Config) DeviceConfig() kms.Config {
	if c.Device.Pipes == 0 && len(c.Device.Connectors) == 0 {
		return kms.DefaultConfig()
	}
	out := kms.Config{
		Pipes:         c.Device.Pipes,
		ApertureBytes: int64(c.Device.ApertureMiB) << 20,
		Fences:        c.Device.Fences,
	}
	for _, conn := range c.Device.Connectors {
		cc := kms.ConnectorConfig{Connected: conn.Connected}
		switch conn.Type {
		case "dp":
			cc.Type = kms.ConnectorDP
		case "vga":
			cc.Type = kms.ConnectorVGA
		default:
			cc.Type = kms.ConnectorHDMI
		}
		out.Connectors = append(out.Connectors, cc)
	}
	return out
}

func (c *Config) validate() error {
	for _, s := range c.Suites {
		if _, ok := knownSuites[s]; !ok {
			return fmt.Errorf("unknown suite %q", s)
		}
	}
	for _, conn := range c.Device.Connectors {
		switch conn.Type {
		case "", "hdmi", "dp", "vga":
		default:
			return fmt.Errorf("unknown connector type %q", conn.Type)
		}
	}
	if c.Device.ApertureMiB < 0 || c.Device.Fences < 0 || c.Device.Pipes < 0 {
		return fmt.Errorf("device sizes must not be negative")
	}
	return nil
}
