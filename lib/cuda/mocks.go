//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cuda

import (
	"sync"

	"github.com/pkg/errors"
)

// MockEvent is an Event whose completion is controlled by the caller.
type MockEvent struct {
	sync.Mutex
	done    bool
	err     error
	queries int
}

// NewMockEvent returns an incomplete MockEvent.
func NewMockEvent() *MockEvent {
	return &MockEvent{}
}

// Complete marks the event as completed.
func (e *MockEvent) Complete() {
	e.Lock()
	defer e.Unlock()

	e.done = true
}

// Fail makes subsequent queries return err.
func (e *MockEvent) Fail(err error) {
	e.Lock()
	defer e.Unlock()

	e.err = err
}

// Queries returns the number of times the event was queried.
func (e *MockEvent) Queries() int {
	e.Lock()
	defer e.Unlock()

	return e.queries
}

// Query implements Event.
func (e *MockEvent) Query() (bool, error) {
	e.Lock()
	defer e.Unlock()

	e.queries++
	if e.err != nil {
		return false, e.err
	}
	return e.done, nil
}

// MockLibConfig configures a MockLib.
type MockLibConfig struct {
	BusIDs       []string
	CountErr     error
	AutoComplete bool
	RecordErr    error
}

// MockLib is a Lib backed by MockEvents.
type MockLib struct {
	sync.Mutex
	cfg    MockLibConfig
	events []*MockEvent
}

// NewMockLib returns a MockLib for the given configuration.
func NewMockLib(cfg *MockLibConfig) *MockLib {
	if cfg == nil {
		cfg = &MockLibConfig{}
	}
	return &MockLib{cfg: *cfg}
}

// DeviceCount implements Lib.
func (l *MockLib) DeviceCount() (int, error) {
	if l.cfg.CountErr != nil {
		return 0, l.cfg.CountErr
	}
	return len(l.cfg.BusIDs), nil
}

// PCIBusID implements Lib.
func (l *MockLib) PCIBusID(device int) (string, error) {
	if device < 0 || device >= len(l.cfg.BusIDs) {
		return "", errors.Errorf("invalid device ordinal %d", device)
	}
	return l.cfg.BusIDs[device], nil
}

// RecordEvent implements Lib.
func (l *MockLib) RecordEvent(device int, stream Stream) (Event, error) {
	if l.cfg.RecordErr != nil {
		return nil, l.cfg.RecordErr
	}

	l.Lock()
	defer l.Unlock()

	ev := NewMockEvent()
	if l.cfg.AutoComplete {
		ev.Complete()
	}
	l.events = append(l.events, ev)
	return ev, nil
}

// Events returns every event recorded so far.
func (l *MockLib) Events() []*MockEvent {
	l.Lock()
	defer l.Unlock()

	return append([]*MockEvent{}, l.events...)
}

// Close implements Lib.
func (l *MockLib) Close() error {
	return nil
}
