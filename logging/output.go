//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
)

const (
	logOutputDepth = 4
	emptyLogFlags  = 0
	stdLogFlags    = log.LstdFlags
	debugLogFlags  = log.Lmicroseconds | log.Lshortfile
)

// knownWrappers are skipped when looking up the caller of a
// debug or trace message so that file:line points at user code.
var knownWrappers = map[string]struct{}{
	"Trace":   {},
	"Tracef":  {},
	"Debug":   {},
	"Debugf":  {},
	"Info":    {},
	"Infof":   {},
	"Notice":  {},
	"Noticef": {},
	"Error":   {},
	"Errorf":  {},
}

// levelWriter writes one level's messages to a destination
// through a standard library log.Logger.
type levelWriter struct {
	name   string
	log    *log.Logger
	source bool
}

func newLevelWriter(name, prefix string, dest io.Writer, flags int) *levelWriter {
	if name != "" {
		prefix = strings.TrimSpace(prefix + " " + name + " ")
		prefix += " "
	}
	return &levelWriter{
		name:   name,
		log:    log.New(dest, prefix, flags),
		source: flags&(log.Lshortfile|log.Llongfile) != 0,
	}
}

func (lw *levelWriter) callDepth() int {
	depth := logOutputDepth
	if !lw.source {
		return depth
	}

	// Skip runtime.Callers, this method, output, the level writer
	// and the LeveledLogger method; anything beyond that which is a
	// convenience wrapper pushes the real caller further up.
	pc := make([]uintptr, 5)
	n := runtime.Callers(depth+1, pc)
	if n == 0 {
		return depth
	}
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		fnName := frame.Function[strings.LastIndex(frame.Function, ".")+1:]
		if _, found := knownWrappers[fnName]; !found {
			break
		}
		depth++
		if !more {
			break
		}
	}
	return depth
}

func (lw *levelWriter) output(format string, args ...interface{}) {
	out := fmt.Sprintf(format, args...)
	if err := lw.log.Output(lw.callDepth(), out); err != nil {
		fmt.Fprintf(os.Stderr, "logger %s output failed: %s\n", lw.name, err)
	}
}

func (lw *levelWriter) Tracef(format string, args ...interface{}) {
	lw.output(format, args...)
}

func (lw *levelWriter) Debugf(format string, args ...interface{}) {
	lw.output(format, args...)
}

func (lw *levelWriter) Infof(format string, args ...interface{}) {
	lw.output(format, args...)
}

func (lw *levelWriter) Noticef(format string, args ...interface{}) {
	lw.output(format, args...)
}

func (lw *levelWriter) Errorf(format string, args ...interface{}) {
	lw.output(format, args...)
}
