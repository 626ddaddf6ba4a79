//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cudagdr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daos-stack/gdr/config"
	"github.com/daos-stack/gdr/lib/verbs"
)

type contextConfig struct {
	id           string
	loader       verbs.Loader
	numSends     int
	numRecvs     int
	pollBatch    int
	portNum      uint8
	gidIndex     uint8
	numGPUs      int
	registerer   prometheus.Registerer
	maxIdleSleep time.Duration
}

func defaultContextConfig() *contextConfig {
	return &contextConfig{
		loader:       verbs.Load,
		numSends:     config.DefaultNumSends,
		numRecvs:     config.DefaultNumRecvs,
		pollBatch:    config.DefaultPollBatch,
		portNum:      config.DefaultPortNum,
		maxIdleSleep: 100 * time.Microsecond,
	}
}

func (cfg *contextConfig) validate() error {
	return (&config.Config{
		NumSends:  cfg.numSends,
		NumRecvs:  cfg.numRecvs,
		PollBatch: cfg.pollBatch,
	}).Validate()
}

// ContextOption configures a Context.
type ContextOption func(*contextConfig)

// WithLoader sets the function used to open the verbs library.
func WithLoader(loader verbs.Loader) ContextOption {
	return func(cfg *contextConfig) {
		cfg.loader = loader
	}
}

// WithNumSends sets the send slot budget of every adapter.
func WithNumSends(n int) ContextOption {
	return func(cfg *contextConfig) {
		cfg.numSends = n
	}
}

// WithNumRecvs sets the receive slot budget of every adapter.
func WithNumRecvs(n int) ContextOption {
	return func(cfg *contextConfig) {
		cfg.numRecvs = n
	}
}

// WithPollBatch sets the maximum number of completions retrieved per poll.
func WithPollBatch(n int) ContextOption {
	return func(cfg *contextConfig) {
		cfg.pollBatch = n
	}
}

// WithPort sets the adapter port and GID index used for connections.
func WithPort(portNum, gidIndex uint8) ContextOption {
	return func(cfg *contextConfig) {
		cfg.portNum = portNum
		cfg.gidIndex = gidIndex
	}
}

// WithNumGPUs sets the number of local GPUs, for when fewer hints than
// GPUs are supplied.
func WithNumGPUs(n int) ContextOption {
	return func(cfg *contextConfig) {
		cfg.numGPUs = n
	}
}

// WithRegisterer registers the context's metrics. The metrics are
// unregistered when the context is joined.
func WithRegisterer(r prometheus.Registerer) ContextOption {
	return func(cfg *contextConfig) {
		cfg.registerer = r
	}
}

// WithID sets the diagnostic identifier of the context.
func WithID(id string) ContextOption {
	return func(cfg *contextConfig) {
		cfg.id = id
	}
}

// WithMaxIdleSleep caps how long the polling loop sleeps when idle.
func WithMaxIdleSleep(d time.Duration) ContextOption {
	return func(cfg *contextConfig) {
		cfg.maxIdleSleep = d
	}
}

// WithConfig applies the engine settings of a configuration file.
func WithConfig(c *config.Config) ContextOption {
	return func(cfg *contextConfig) {
		if c == nil {
			return
		}
		cfg.numSends = c.NumSends
		cfg.numRecvs = c.NumRecvs
		cfg.pollBatch = c.PollBatch
		cfg.portNum = c.PortNum
		cfg.gidIndex = c.GIDIndex
	}
}
