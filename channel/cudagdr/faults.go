//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cudagdr

import (
	"fmt"

	"github.com/daos-stack/gdr/fault"
	"github.com/daos-stack/gdr/fault/code"
	"github.com/daos-stack/gdr/lib/cuda"
	"github.com/daos-stack/gdr/lib/verbs"
)

const domain = "cudagdr"

// FaultFromStatus creates the fault delivered for a failed work completion.
func FaultFromStatus(status verbs.WCStatus, vendorErr uint32) *fault.Fault {
	return verbs.FaultFromStatus(status, vendorErr)
}

// FaultCapabilityUnavailable creates the fault returned by CreateChannel on
// a context that could not use the verbs library.
func FaultCapabilityUnavailable(reason error) *fault.Fault {
	return verbs.FaultUnavailable(reason)
}

// FaultEngineFailed creates the fault delivered to every outstanding
// callback once the engine has failed.
func FaultEngineFailed(reason error) *fault.Fault {
	return (&fault.Fault{
		Domain:      domain,
		Code:        code.EngineFailed,
		Description: "data channel engine failed",
		Resolution:  "close and recreate the context",
	}).WithReason(reason.Error())
}

// FaultContextClosed creates the fault for operations on a closed context.
func FaultContextClosed() *fault.Fault {
	return &fault.Fault{
		Domain:      domain,
		Code:        code.ContextClosed,
		Description: "context is closed",
		Resolution:  fault.ResolutionNone,
	}
}

// FaultChannelClosed creates the fault for operations on a closed channel.
func FaultChannelClosed() *fault.Fault {
	return &fault.Fault{
		Domain:      domain,
		Code:        code.ChannelClosed,
		Description: "channel is closed",
		Resolution:  fault.ResolutionNone,
	}
}

// FaultInvalidAdapter creates the fault for an out-of-range adapter index.
func FaultInvalidAdapter(idx, numAdapters int) *fault.Fault {
	return &fault.Fault{
		Domain:      domain,
		Code:        code.InvalidAdapter,
		Description: fmt.Sprintf("adapter index %d out of range (%d adapters)", idx, numAdapters),
	}
}

// FaultUnmappedGPU creates the fault for a buffer on a GPU that has no
// entry in the GPU-to-adapter map.
func FaultUnmappedGPU(gpu, numGPUs int) *fault.Fault {
	return &fault.Fault{
		Domain:      domain,
		Code:        code.InvalidAdapter,
		Description: fmt.Sprintf("gpu %d has no adapter (%d gpus mapped)", gpu, numGPUs),
		Resolution:  "set the number of GPUs or add a gpu_nic_hints entry for every GPU",
	}
}

// FaultRegistration creates the fault returned when pinning a buffer fails.
func FaultRegistration(buf cuda.Buffer, reason error) *fault.Fault {
	return (&fault.Fault{
		Domain:      domain,
		Code:        code.RegistrationFailed,
		Description: fmt.Sprintf("memory registration of %s failed", buf),
		Resolution:  "check the nvidia-peermem module is loaded and the memlock limit is sufficient",
	}).WithReason(reason.Error())
}

// FaultPost creates the fault delivered when a work request could not be
// posted.
func FaultPost(kind requestKind, reason error) *fault.Fault {
	if errno, ok := verbs.Errno(reason); ok {
		return verbs.FaultFromErrno("post "+kind.String(), errno)
	}
	return (&fault.Fault{
		Domain:      domain,
		Code:        code.PostFailed,
		Description: fmt.Sprintf("post %s failed", kind),
	}).WithReason(reason.Error())
}

// FaultQueuePair creates the fault returned when a queue pair cannot be
// created or connected.
func FaultQueuePair(op string, reason error) *fault.Fault {
	return (&fault.Fault{
		Domain:      domain,
		Code:        code.QueuePairFailed,
		Description: fmt.Sprintf("queue pair %s failed", op),
	}).WithReason(reason.Error())
}
