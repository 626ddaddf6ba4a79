//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging

import (
	"io"
	"os"
)

// DefaultLogLevel is the level used by newly constructed loggers.
const DefaultLogLevel = LogLevelInfo

// NewCommandLineLogger returns a logger configured
// to send non-error output to stdout and error
// output to stderr. The output format is suitable
// for command line utilities which don't want output
// to include timestamps and filenames.
func NewCommandLineLogger() *LeveledLogger {
	return newLeveledLogger(DefaultLogLevel, &destinations{
		trace:  []TraceLogger{newLevelWriter("TRACE", "", os.Stdout, debugLogFlags)},
		debug:  []DebugLogger{newLevelWriter("DEBUG", "", os.Stdout, debugLogFlags)},
		info:   []InfoLogger{newLevelWriter("", "", os.Stdout, emptyLogFlags)},
		notice: []NoticeLogger{newLevelWriter("", "", os.Stdout, emptyLogFlags)},
		err:    []ErrorLogger{newLevelWriter("", "ERROR: ", os.Stderr, emptyLogFlags)},
	})
}

// NewCombinedLogger returns a logger configured
// to send all output to the supplied io.Writer.
func NewCombinedLogger(prefix string, output io.Writer) *LeveledLogger {
	return newLeveledLogger(DefaultLogLevel, &destinations{
		trace:  []TraceLogger{newLevelWriter("TRACE", prefix, output, debugLogFlags)},
		debug:  []DebugLogger{newLevelWriter("DEBUG", prefix, output, debugLogFlags)},
		info:   []InfoLogger{newLevelWriter("INFO", prefix, output, stdLogFlags)},
		notice: []NoticeLogger{newLevelWriter("NOTICE", prefix, output, stdLogFlags)},
		err:    []ErrorLogger{newLevelWriter("ERROR", prefix, output, stdLogFlags)},
	})
}

// NewTestLogger returns a logger and a *LogBuffer,
// with the logger configured to send all output into
// the buffer. The logger's level is set to TRACE by default.
func NewTestLogger(prefix string) (*LeveledLogger, *LogBuffer) {
	var buf LogBuffer
	return NewCombinedLogger(prefix, &buf).
		WithLogLevel(LogLevelTrace), &buf
}

// NewDisabledLogger returns a logger that emits nothing.
func NewDisabledLogger() *LeveledLogger {
	return newLeveledLogger(LogLevelDisabled, &destinations{})
}
