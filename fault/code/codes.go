//
// (C) Copyright 2018-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package code is a central repository for all fault codes.
package code

// Code represents a stable fault code.
//
// NB: New codes should always be added at the bottom of their
// respective blocks. This ensures stability of fault codes over time.
type Code int

const (
	// general fault codes
	Unknown Code = iota
	MissingSoftwareDependency
	BadVersionSoftwareDependency
)

const (
	// hardware capability fault codes
	CapabilityUnavailable Code = iota + 100
	NoDevices
	DeviceOpenFailed
	InvalidAdapter
)

const (
	// data path fault codes
	HardwareOpFailed Code = iota + 200
	PostFailed
	RegistrationFailed
	CudaEventFailed
	QueuePairFailed
)

const (
	// engine lifecycle fault codes
	EngineFailed Code = iota + 300
	ContextClosed
	ChannelClosed
)

const (
	// configuration fault codes
	ConfigBadHints Code = iota + 400
	ConfigBadSlots
	ConfigBadPollBatch
)
