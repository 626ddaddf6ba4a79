//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package pollloop drives a non-blocking component from a single goroutine.
//
// The component is only ever touched by the loop goroutine (or by whoever
// calls Step when the loop is driven manually). Other goroutines hand work to
// it with Defer; the deferred queue is the only synchronized state and is
// drained once at the start of every step.
package pollloop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/lib/atm"
	"github.com/daos-stack/gdr/logging"
)

const (
	defaultMaxIdleSleep = 100 * time.Microsecond
	idleYields          = 16
)

var (
	// ErrLoopClosed is returned when work is deferred to a loop that has
	// exited.
	ErrLoopClosed = errors.New("poll loop has exited")
	// ErrJoinFromLoop is returned by Join when it is called by code that
	// runs on the loop goroutine, which would otherwise wait for itself.
	ErrJoinFromLoop = errors.New("poll loop cannot be joined from its own goroutine")
)

// Pollable is a component that can be driven by a Loop.
type Pollable interface {
	// PollOnce performs one bounded, non-blocking unit of work and
	// reports whether it did anything.
	PollOnce() bool
	// ReadyToClose reports whether all outstanding work has drained.
	ReadyToClose() bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxIdleSleep caps the back-off used when the loop has nothing to do.
// Zero keeps the loop spinning.
func WithMaxIdleSleep(d time.Duration) Option {
	return func(l *Loop) {
		l.maxIdleSleep = d
	}
}

// WithName sets the name used in log messages.
func WithName(name string) Option {
	return func(l *Loop) {
		l.name = name
	}
}

// Loop repeatedly steps a Pollable until it has been closed and reports
// that it is ready to close.
type Loop struct {
	log          logging.Logger
	name         string
	target       Pollable
	maxIdleSleep time.Duration

	mutex    sync.Mutex
	deferred []func()
	exited   bool

	started atm.Bool
	closing atm.Bool
	runner  atomic.Uint64
	done    chan struct{}
}

// goroutineID returns the runtime's id of the calling goroutine, parsed
// from the "goroutine N [state]:" header of its stack trace.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// New returns a Loop for target. The loop does not run until Start or Join
// is called.
func New(log logging.Logger, target Pollable, opts ...Option) *Loop {
	l := &Loop{
		log:          log,
		name:         "poll loop",
		target:       target,
		maxIdleSleep: defaultMaxIdleSleep,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Defer submits fn to run on the loop goroutine at the start of the next
// step. It is safe for concurrent use.
func (l *Loop) Defer(fn func()) error {
	if fn == nil {
		return errors.New("nil function")
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.exited {
		return ErrLoopClosed
	}
	l.deferred = append(l.deferred, fn)
	return nil
}

func (l *Loop) takeDeferred() []func() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	fns := l.deferred
	l.deferred = nil
	return fns
}

// Step runs the deferred functions and then polls the target once. It
// reports whether any work was done. Step must not be called concurrently
// with a started loop.
func (l *Loop) Step() bool {
	fns := l.takeDeferred()
	for _, fn := range fns {
		fn()
	}

	return l.target.PollOnce() || len(fns) > 0
}

// tryExit marks the loop as exited if nothing is left to do.
func (l *Loop) tryExit() bool {
	if !l.closing.IsTrue() || !l.target.ReadyToClose() {
		return false
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if len(l.deferred) > 0 {
		return false
	}
	l.exited = true
	return true
}

// Run drives the loop on the calling goroutine until it exits.
func (l *Loop) Run() {
	if !l.started.SetTrueCond() {
		<-l.done
		return
	}
	defer close(l.done)
	l.runner.Store(goroutineID())

	l.log.Debugf("%s: started", l.name)
	idle := 0
	sleep := time.Duration(0)
	for {
		if l.Step() {
			idle = 0
			sleep = 0
			continue
		}

		if l.tryExit() {
			l.log.Debugf("%s: exited", l.name)
			return
		}

		idle++
		switch {
		case idle <= idleYields || l.maxIdleSleep == 0:
			runtime.Gosched()
		default:
			if sleep == 0 {
				sleep = time.Microsecond
			} else if sleep < l.maxIdleSleep {
				sleep *= 2
			}
			if sleep > l.maxIdleSleep {
				sleep = l.maxIdleSleep
			}
			time.Sleep(sleep)
		}
	}
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start() {
	go l.Run()
}

// Close requests shutdown. The loop keeps stepping until the target is
// ready to close.
func (l *Loop) Close() {
	if l.closing.SetTrueCond() {
		l.log.Debugf("%s: closing", l.name)
	}
}

// IsClosing returns true once Close has been called.
func (l *Loop) IsClosing() bool {
	return l.closing.IsTrue()
}

// Join waits for the loop to exit. If the loop was never started it is run
// on the calling goroutine. Join implies Close.
//
// Called from the loop goroutine, e.g. inside a deferred function, Join
// only closes the loop and returns ErrJoinFromLoop.
func (l *Loop) Join() error {
	l.Close()
	if id := l.runner.Load(); id != 0 && id == goroutineID() {
		return ErrJoinFromLoop
	}
	l.Run()
	return nil
}

// Done returns a channel that is closed when the loop exits.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
