//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package logging provides the leveled logger used throughout the module.
package logging

import (
	"bytes"
	"sync"
	"sync/atomic"
)

type (
	// Logger defines a standard logging interface.
	Logger interface {
		EnabledFor(level LogLevel) bool
		TraceLogger
		Trace(msg string)
		DebugLogger
		Debug(msg string)
		InfoLogger
		Info(msg string)
		NoticeLogger
		Notice(msg string)
		ErrorLogger
		Error(msg string)
	}

	// TraceLogger is a destination for Trace messages.
	TraceLogger interface {
		Tracef(format string, args ...interface{})
	}

	// DebugLogger is a destination for Debug messages.
	DebugLogger interface {
		Debugf(format string, args ...interface{})
	}

	// InfoLogger is a destination for Info messages.
	InfoLogger interface {
		Infof(format string, args ...interface{})
	}

	// NoticeLogger is a destination for Notice messages.
	NoticeLogger interface {
		Noticef(format string, args ...interface{})
	}

	// ErrorLogger is a destination for Error messages.
	ErrorLogger interface {
		Errorf(format string, args ...interface{})
	}

	// destinations is an immutable snapshot of the per-level outputs.
	destinations struct {
		trace  []TraceLogger
		debug  []DebugLogger
		info   []InfoLogger
		notice []NoticeLogger
		err    []ErrorLogger
	}

	// LeveledLogger fans each message out to the destinations
	// registered for its level, dropping messages above the
	// configured level. Emitting never takes a lock; adding or
	// clearing destinations replaces the snapshot.
	LeveledLogger struct {
		level    LogLevel
		updateMu sync.Mutex
		dests    atomic.Pointer[destinations]
	}
)

func newLeveledLogger(level LogLevel, dests *destinations) *LeveledLogger {
	ll := &LeveledLogger{level: level}
	ll.dests.Store(dests)
	return ll
}

func (ll *LeveledLogger) current() *destinations {
	if d := ll.dests.Load(); d != nil {
		return d
	}
	return &destinations{}
}

// update applies fn to a copy of the destinations and publishes it.
func (ll *LeveledLogger) update(fn func(*destinations)) {
	ll.updateMu.Lock()
	defer ll.updateMu.Unlock()

	next := *ll.current()
	fn(&next)
	ll.dests.Store(&next)
}

// SetLevel sets the logger's LogLevel, at or above
// which messages will be emitted.
func (ll *LeveledLogger) SetLevel(newLevel LogLevel) {
	ll.level.Set(newLevel)
}

// Level returns the logger's current LogLevel.
func (ll *LeveledLogger) Level() LogLevel {
	return ll.level.Get()
}

// EnabledFor returns true if the logger is enabled for the
// specified LogLevel.
func (ll *LeveledLogger) EnabledFor(level LogLevel) bool {
	return ll.level.Get() >= level
}

// WithLogLevel sets the level as part of a chained call.
func (ll *LeveledLogger) WithLogLevel(level LogLevel) *LeveledLogger {
	ll.SetLevel(level)
	return ll
}

// ClearLevel removes all destinations for the specified level.
func (ll *LeveledLogger) ClearLevel(level LogLevel) {
	ll.update(func(d *destinations) {
		switch level {
		case LogLevelTrace:
			d.trace = nil
		case LogLevelDebug:
			d.debug = nil
		case LogLevelInfo:
			d.info = nil
		case LogLevelNotice:
			d.notice = nil
		case LogLevelError:
			d.err = nil
		}
	})
}

// The slices are copied on append so that published snapshots are
// never written to.

// AddTraceLogger adds a destination for Trace messages.
func (ll *LeveledLogger) AddTraceLogger(l TraceLogger) {
	ll.update(func(d *destinations) {
		d.trace = append(append([]TraceLogger{}, d.trace...), l)
	})
}

// AddDebugLogger adds a destination for Debug messages.
func (ll *LeveledLogger) AddDebugLogger(l DebugLogger) {
	ll.update(func(d *destinations) {
		d.debug = append(append([]DebugLogger{}, d.debug...), l)
	})
}

// AddInfoLogger adds a destination for Info messages.
func (ll *LeveledLogger) AddInfoLogger(l InfoLogger) {
	ll.update(func(d *destinations) {
		d.info = append(append([]InfoLogger{}, d.info...), l)
	})
}

// AddNoticeLogger adds a destination for Notice messages.
func (ll *LeveledLogger) AddNoticeLogger(l NoticeLogger) {
	ll.update(func(d *destinations) {
		d.notice = append(append([]NoticeLogger{}, d.notice...), l)
	})
}

// AddErrorLogger adds a destination for Error messages.
func (ll *LeveledLogger) AddErrorLogger(l ErrorLogger) {
	ll.update(func(d *destinations) {
		d.err = append(append([]ErrorLogger{}, d.err...), l)
	})
}

// Trace emits an unformatted message at Trace level.
func (ll *LeveledLogger) Trace(msg string) {
	ll.Tracef("%s", msg)
}

// Tracef emits a formatted message at Trace level.
func (ll *LeveledLogger) Tracef(format string, args ...interface{}) {
	if ll.EnabledFor(LogLevelTrace) {
		for _, l := range ll.current().trace {
			l.Tracef(format, args...)
		}
	}
}

// Debug emits an unformatted message at Debug level.
func (ll *LeveledLogger) Debug(msg string) {
	ll.Debugf("%s", msg)
}

// Debugf emits a formatted message at Debug level.
func (ll *LeveledLogger) Debugf(format string, args ...interface{}) {
	if ll.EnabledFor(LogLevelDebug) {
		for _, l := range ll.current().debug {
			l.Debugf(format, args...)
		}
	}
}

// Info emits an unformatted message at Info level.
func (ll *LeveledLogger) Info(msg string) {
	ll.Infof("%s", msg)
}

// Infof emits a formatted message at Info level.
func (ll *LeveledLogger) Infof(format string, args ...interface{}) {
	if ll.EnabledFor(LogLevelInfo) {
		for _, l := range ll.current().info {
			l.Infof(format, args...)
		}
	}
}

// Notice emits an unformatted message at Notice level.
func (ll *LeveledLogger) Notice(msg string) {
	ll.Noticef("%s", msg)
}

// Noticef emits a formatted message at Notice level.
func (ll *LeveledLogger) Noticef(format string, args ...interface{}) {
	if ll.EnabledFor(LogLevelNotice) {
		for _, l := range ll.current().notice {
			l.Noticef(format, args...)
		}
	}
}

// Error emits an unformatted message at Error level.
func (ll *LeveledLogger) Error(msg string) {
	ll.Errorf("%s", msg)
}

// Errorf emits a formatted message at Error level.
func (ll *LeveledLogger) Errorf(format string, args ...interface{}) {
	if ll.EnabledFor(LogLevelError) {
		for _, l := range ll.current().err {
			l.Errorf(format, args...)
		}
	}
}

// LogBuffer is a bytes.Buffer that is safe for concurrent use, for
// capturing log output in tests.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *LogBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *LogBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// Reset discards the buffered output.
func (lb *LogBuffer) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.buf.Reset()
}
