//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package verbs

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/fault"
	"github.com/daos-stack/gdr/fault/code"
)

const domain = "verbs"

// ErrUnavailable is returned by Load when the verbs library cannot be used.
var ErrUnavailable = errors.New("verbs library unavailable")

// FaultUnavailable creates a fault for a missing or unusable verbs library.
func FaultUnavailable(reason error) *fault.Fault {
	f := &fault.Fault{
		Domain:      domain,
		Code:        code.CapabilityUnavailable,
		Description: "InfiniBand verbs are unavailable",
		Resolution:  "install libibverbs and ensure an RDMA-capable adapter is present",
	}
	if reason != nil {
		return f.WithReason(reason.Error())
	}
	return f
}

// FaultNoDevices creates a fault for a library that found no adapters.
func FaultNoDevices() *fault.Fault {
	return &fault.Fault{
		Domain:      domain,
		Code:        code.NoDevices,
		Description: "no InfiniBand devices found",
		Resolution:  "check that the RDMA kernel modules are loaded",
	}
}

// FaultFromStatus creates a fault for a completion that did not succeed.
func FaultFromStatus(status WCStatus, vendorErr uint32) *fault.Fault {
	return &fault.Fault{
		Domain: domain,
		Code:   code.HardwareOpFailed,
		Description: fmt.Sprintf("work completion failed: %s (status %d, vendor error %#x)",
			status, int(status), vendorErr),
		Resolution: fault.ResolutionNone,
	}
}

// FaultFromErrno creates a fault for a verbs call that returned an errno.
func FaultFromErrno(op string, errno syscall.Errno) *fault.Fault {
	return &fault.Fault{
		Domain:      domain,
		Code:        code.PostFailed,
		Description: fmt.Sprintf("%s failed: %s", op, errno),
	}
}

// Errno extracts a syscall.Errno from err, if it carries one.
func Errno(err error) (syscall.Errno, bool) {
	errno, ok := errors.Cause(err).(syscall.Errno)
	return errno, ok
}
