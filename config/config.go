//
// (C) Copyright 2020-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package config holds the YAML configuration of the data channel engine.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/daos-stack/gdr/fault"
	"github.com/daos-stack/gdr/fault/code"
	"github.com/daos-stack/gdr/logging"
)

const (
	// DefaultNumSends is the default send slot budget per adapter.
	DefaultNumSends = 4
	// DefaultNumRecvs is the default receive slot budget per adapter.
	DefaultNumRecvs = 4
	// DefaultPollBatch is the default number of completions retrieved per poll.
	DefaultPollBatch = 32
	// DefaultPortNum is the default adapter port.
	DefaultPortNum = 1

	maxSlots = 1 << 16
)

// Config defines the engine configuration.
type Config struct {
	// GPUNICHints names the preferred adapter for each GPU index. An
	// empty entry means no preference.
	GPUNICHints   []string         `yaml:"gpu_nic_hints,omitempty"`
	AutoAffinity  bool             `yaml:"auto_affinity"`
	NumSends      int              `yaml:"num_sends"`
	NumRecvs      int              `yaml:"num_recvs"`
	PollBatch     int              `yaml:"poll_batch"`
	PortNum       uint8            `yaml:"port_num"`
	GIDIndex      uint8            `yaml:"gid_index"`
	LogLevel      logging.LogLevel `yaml:"log_level"`
	LogFile       string           `yaml:"log_file,omitempty"`
	TelemetryPort int              `yaml:"telemetry_port,omitempty"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		NumSends:  DefaultNumSends,
		NumRecvs:  DefaultNumRecvs,
		PollBatch: DefaultPollBatch,
		PortNum:   DefaultPortNum,
		LogLevel:  logging.DefaultLogLevel,
	}
}

// LoadConfig reads a configuration file, applying defaults for any
// omitted fields. Unknown fields are rejected.
func LoadConfig(cfgPath string) (*Config, error) {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %q", cfgPath)
	}

	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %q", cfgPath)
	}
	return cfg, cfg.Validate()
}

// FaultBadSlots creates a fault for an invalid slot budget.
func FaultBadSlots(kind string, n int) *fault.Fault {
	return &fault.Fault{
		Domain:      "config",
		Code:        code.ConfigBadSlots,
		Description: fmt.Sprintf("invalid %s slot budget %d", kind, n),
		Resolution:  fmt.Sprintf("set num_%ss to a value between 1 and %d", kind, maxSlots),
	}
}

// FaultBadPollBatch creates a fault for an invalid poll batch size.
func FaultBadPollBatch(n int) *fault.Fault {
	return &fault.Fault{
		Domain:      "config",
		Code:        code.ConfigBadPollBatch,
		Description: fmt.Sprintf("invalid poll batch %d", n),
		Resolution:  "set poll_batch to a positive value",
	}
}

// FaultBadHints creates a fault for adapter hints that conflict with
// automatic affinity.
func FaultBadHints() *fault.Fault {
	return &fault.Fault{
		Domain:      "config",
		Code:        code.ConfigBadHints,
		Description: "gpu_nic_hints and auto_affinity are mutually exclusive",
		Resolution:  "remove gpu_nic_hints or disable auto_affinity",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}

	switch {
	case c.NumSends <= 0 || c.NumSends > maxSlots:
		return FaultBadSlots("send", c.NumSends)
	case c.NumRecvs <= 0 || c.NumRecvs > maxSlots:
		return FaultBadSlots("recv", c.NumRecvs)
	case c.PollBatch <= 0:
		return FaultBadPollBatch(c.PollBatch)
	case c.AutoAffinity && len(c.GPUNICHints) > 0:
		return FaultBadHints()
	}

	return nil
}
