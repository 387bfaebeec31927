// Package config loads the YAML-backed configuration object (spec.md §6):
// interface/backend settings, the DCS algorithm parameters, the replay
// path, and data-log sinks.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EWMAConfig mirrors dcs.ewma.* (spec.md §4.I.1, §6).
type EWMAConfig struct {
	Alpha        int `yaml:"ewma_alpha"`
	ThresholdPct int `yaml:"threshold_percentage"`
	RoundsForCSA int `yaml:"rounds_for_csa"`
	SecPerScan   int `yaml:"sec_per_scan"`
	SecPerRound  int `yaml:"sec_per_round"`
}

// SampleAndHoldConfig mirrors dcs.sample_and_hold.* (spec.md §4.I.2, §6).
type SampleAndHoldConfig struct {
	RoundsForEval int `yaml:"rounds_for_eval"`
	ThresholdPct  int `yaml:"threshold_percentage"`
	SecPerScan    int `yaml:"sec_per_scan"`
	SecPerRound   int `yaml:"sec_per_round"`
}

// TestConfig mirrors dcs.test.* (spec.md §6).
type TestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Filepath string `yaml:"filepath"`
}

// DCSConfig mirrors the dcs.* key group (spec.md §6).
type DCSConfig struct {
	TriggerCSA      *bool               `yaml:"trigger_csa"`
	DTIMsForCSA     int                 `yaml:"dtims_for_csa"`
	AlgoType        string              `yaml:"algo_type"`
	StatusGPIOLine  string              `yaml:"status_gpio_line"`
	EWMA            EWMAConfig          `yaml:"ewma"`
	SampleAndHold   SampleAndHoldConfig `yaml:"sample_and_hold"`
	Test            TestConfig          `yaml:"test"`
}

// HostapdConfig mirrors backends.hostapd.* (spec.md §6).
type HostapdConfig struct {
	ControlPath string `yaml:"control_path"`
}

// BackendsConfig mirrors the backends.* key group (spec.md §6).
type BackendsConfig struct {
	Hostapd HostapdConfig `yaml:"hostapd"`
}

// SinkConfig mirrors one datalog.<name>.* entry (spec.md §6).
type SinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DatalogConfig mirrors the datalog.* key group (spec.md §6).
type DatalogConfig struct {
	RootDir string                `yaml:"root_dir"`
	Sinks   map[string]SinkConfig `yaml:",inline"`
}

// Config is the top-level configuration object (spec.md §6).
type Config struct {
	InterfaceName string         `yaml:"interface_name"`
	Backends      BackendsConfig `yaml:"backends"`
	DCS           DCSConfig      `yaml:"dcs"`
	Datalog       DatalogConfig  `yaml:"datalog"`
}

// Load reads and validates the configuration file at path, applying the
// documented defaults (spec.md §6, §7: "Configuration — fatal at startup").
func Load(path string) (*Config, error) {
	var data, readErr = os.ReadFile(path)
	if readErr != nil {
		return nil, &Error{Field: "path", Reason: fmt.Sprintf("cannot read %s: %v", path, readErr)}
	}

	var cfg Config

	var triggerCSA = true
	cfg.DCS.TriggerCSA = &triggerCSA

	if unmarshalErr := yaml.Unmarshal(data, &cfg); unmarshalErr != nil {
		return nil, &Error{Field: "path", Reason: fmt.Sprintf("parse %s: %v", path, unmarshalErr)}
	}

	if validateErr := cfg.validate(); validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.InterfaceName == "" {
		return &Error{Field: "interface_name", Reason: "required"}
	}

	if !c.DCS.Test.Enabled && c.Backends.Hostapd.ControlPath == "" {
		return &Error{Field: "backends.hostapd.control_path", Reason: "required unless dcs.test.enabled"}
	}

	if c.DCS.DTIMsForCSA < 1 {
		return &Error{Field: "dcs.dtims_for_csa", Reason: "must be >= 1"}
	}

	switch c.DCS.AlgoType {
	case "ewma":
		if c.DCS.EWMA.Alpha < 1 || c.DCS.EWMA.Alpha > 100 {
			return &Error{Field: "dcs.ewma.ewma_alpha", Reason: "must be in [1,100]"}
		}

		if c.DCS.EWMA.RoundsForCSA < 1 {
			return &Error{Field: "dcs.ewma.rounds_for_csa", Reason: "must be >= 1"}
		}
	case "sample_and_hold":
		if c.DCS.SampleAndHold.RoundsForEval < 1 {
			return &Error{Field: "dcs.sample_and_hold.rounds_for_eval", Reason: "must be >= 1"}
		}
	default:
		return &Error{Field: "dcs.algo_type", Reason: fmt.Sprintf("unknown algorithm %q", c.DCS.AlgoType)}
	}

	if c.DCS.Test.Enabled && c.DCS.Test.Filepath == "" {
		return &Error{Field: "dcs.test.filepath", Reason: "required when dcs.test.enabled"}
	}

	return nil
}

// TriggerCSAOrDefault returns the trigger_csa value, defaulting to true
// when unset (spec.md §6).
func (c *Config) TriggerCSAOrDefault() bool {
	if c.DCS.TriggerCSA == nil {
		return true
	}

	return *c.DCS.TriggerCSA
}

// Error reports a fatal configuration problem (spec.md §7).
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}
