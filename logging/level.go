//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging

import (
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// LogLevel is the threshold at which a logger emits messages. Higher
// levels are more verbose.
type LogLevel int32

// Levels in order of increasing verbosity.
const (
	LogLevelDisabled LogLevel = iota
	LogLevelError
	LogLevelNotice
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

var levelNames = [...]string{
	LogLevelDisabled: "DISABLED",
	LogLevelError:    "ERROR",
	LogLevelNotice:   "NOTICE",
	LogLevelInfo:     "INFO",
	LogLevelDebug:    "DEBUG",
	LogLevelTrace:    "TRACE",
}

// Set atomically stores newLevel.
func (ll *LogLevel) Set(newLevel LogLevel) {
	atomic.StoreInt32((*int32)(ll), int32(newLevel))
}

// Get atomically loads the level.
func (ll *LogLevel) Get() LogLevel {
	return LogLevel(atomic.LoadInt32((*int32)(ll)))
}

// SetString sets the log level from the supplied string.
func (ll *LogLevel) SetString(in string) error {
	for i, name := range levelNames {
		if strings.EqualFold(in, name) {
			ll.Set(LogLevel(i))
			return nil
		}
	}

	return errors.Errorf("%q is not a valid log level", in)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (ll *LogLevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var strLevel string
	if err := unmarshal(&strLevel); err != nil {
		return err
	}

	return ll.SetString(strLevel)
}

// MarshalYAML implements yaml.Marshaler.
func (ll LogLevel) MarshalYAML() (interface{}, error) {
	return ll.String(), nil
}

func (ll LogLevel) String() string {
	if ll < 0 || int(ll) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[ll]
}
