//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package cuda describes GPU buffers, streams and events as seen by the
// data channel. Only the non-blocking subset of the CUDA runtime is used.
package cuda

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/fault"
	"github.com/daos-stack/gdr/fault/code"
)

// ErrUnavailable is returned by Load when the CUDA runtime cannot be used.
var ErrUnavailable = errors.New("CUDA runtime unavailable")

type (
	// Stream is an opaque handle to an ordered sequence of device work.
	Stream uintptr

	// Buffer is a range of memory owned by a GPU (or by the host when
	// DeviceIdx is negative).
	Buffer struct {
		Ptr       uintptr
		Length    uint64
		DeviceIdx int
		Stream    Stream
	}

	// Event is a synchronization point recorded on a stream.
	Event interface {
		// Query reports whether all work preceding the event has
		// completed. It never blocks.
		Query() (bool, error)
	}

	// Lib is an opened CUDA runtime.
	Lib interface {
		DeviceCount() (int, error)
		// PCIBusID returns the PCI address of the device, in the
		// "dddd:bb:dd.f" form.
		PCIBusID(device int) (string, error)
		// RecordEvent records a new event on the stream of the
		// given device.
		RecordEvent(device int, stream Stream) (Event, error)
		Close() error
	}
)

// OnHost returns true if the buffer is not device memory.
func (b Buffer) OnHost() bool {
	return b.DeviceIdx < 0
}

func (b Buffer) String() string {
	where := fmt.Sprintf("gpu%d", b.DeviceIdx)
	if b.OnHost() {
		where = "host"
	}
	return fmt.Sprintf("%s:%#x[%d]", where, b.Ptr, b.Length)
}

// FaultEventQuery creates a fault for an event query that failed.
func FaultEventQuery(err error) *fault.Fault {
	return (&fault.Fault{
		Domain:      "cuda",
		Code:        code.CudaEventFailed,
		Description: "CUDA event query failed",
		Resolution:  fault.ResolutionNone,
	}).WithReason(err.Error())
}
