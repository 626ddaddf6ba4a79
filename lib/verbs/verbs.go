//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package verbs defines the RDMA verbs capability used by the data channel:
// opening devices and creating protection domains, completion queues, queue
// pairs and memory regions, and posting and polling work requests.
//
// The hardware implementation is loaded at runtime from libibverbs (see
// Load), so that binaries built with it still run on hosts without
// InfiniBand hardware or libraries.
package verbs

import "fmt"

// AccessFlags controls which operations may target a memory region.
type AccessFlags uint32

const (
	// AccessLocalWrite allows the adapter to write into the region.
	AccessLocalWrite AccessFlags = 1 << 0
	// AccessRemoteWrite allows RDMA writes from the peer.
	AccessRemoteWrite AccessFlags = 1 << 1
	// AccessRemoteRead allows RDMA reads from the peer.
	AccessRemoteRead AccessFlags = 1 << 2
)

// Opcode is the operation performed by a send work request.
type Opcode int

const (
	// OpSend is a two-sided send matched with a posted receive.
	OpSend Opcode = iota
	// OpSendWithImm is a send carrying 32 bits of immediate data.
	OpSendWithImm
	// OpRDMAWrite writes into a remote memory region.
	OpRDMAWrite
	// OpRDMAWriteWithImm writes into a remote memory region and
	// consumes a receive on the peer.
	OpRDMAWriteWithImm
	// OpRDMARead reads from a remote memory region.
	OpRDMARead
)

func (op Opcode) String() string {
	switch op {
	case OpSend:
		return "SEND"
	case OpSendWithImm:
		return "SEND_WITH_IMM"
	case OpRDMAWrite:
		return "RDMA_WRITE"
	case OpRDMAWriteWithImm:
		return "RDMA_WRITE_WITH_IMM"
	case OpRDMARead:
		return "RDMA_READ"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(op))
	}
}

type (
	// SGE is a scatter/gather element referencing registered memory.
	SGE struct {
		Addr   uint64
		Length uint32
		LKey   uint32
	}

	// SendWR describes a send-queue work request. RemoteAddr and RKey
	// are only used by RDMA opcodes.
	SendWR struct {
		Opcode     Opcode
		SGList     []SGE
		RemoteAddr uint64
		RKey       uint32
		ImmData    uint32
	}

	// RecvWR describes a receive-queue work request.
	RecvWR struct {
		SGList []SGE
	}

	// WorkCompletion is one entry retrieved from a completion queue. The
	// opcode is not reliable for failed completions; WRID is the only
	// field that can be used to route a completion back to its request.
	WorkCompletion struct {
		WRID      uint64
		Status    WCStatus
		VendorErr uint32
		ByteLen   uint32
		QPNum     uint32
	}

	// Address identifies a local port so that a peer can connect to it.
	Address struct {
		PortNum  uint8    `json:"port_num"`
		LID      uint16   `json:"lid"`
		GID      [16]byte `json:"gid"`
		GIDIndex uint8    `json:"gid_index"`
		MTU      uint32   `json:"mtu"`
	}

	// QueuePairSetup is what a peer needs to connect a queue pair to ours.
	QueuePairSetup struct {
		Address Address `json:"address"`
		QPNum   uint32  `json:"qp_num"`
		PSN     uint32  `json:"psn"`
	}

	// QPCaps sizes a queue pair.
	QPCaps struct {
		MaxSendWR  uint32
		MaxRecvWR  uint32
		MaxSendSGE uint32
		MaxRecvSGE uint32
	}

	// DeviceInfo describes a device found during enumeration.
	DeviceInfo struct {
		Name string `json:"name"`
		GUID uint64 `json:"guid"`
	}
)

type (
	// Lib is an opened verbs capability.
	Lib interface {
		// Name identifies the implementation, e.g. the library file.
		Name() string
		// APIVersion is the ABI version of the implementation.
		APIVersion() int
		// Devices enumerates the available devices.
		Devices() ([]DeviceInfo, error)
		// OpenDevice opens the named device.
		OpenDevice(name string) (Device, error)
		Close() error
	}

	// Device is an opened adapter.
	Device interface {
		Name() string
		AllocPD() (ProtectionDomain, error)
		CreateCQ(size int) (CompletionQueue, error)
		QueryAddress(port uint8, gidIndex uint8) (Address, error)
		Close() error
	}

	// ProtectionDomain scopes memory regions and queue pairs.
	ProtectionDomain interface {
		RegisterMemory(addr uintptr, length uint64, access AccessFlags) (MemoryRegion, error)
		CreateQueuePair(cq CompletionQueue, caps QPCaps) (QueuePair, error)
		Close() error
	}

	// MemoryRegion is a pinned registration of an address range.
	MemoryRegion interface {
		Addr() uintptr
		Length() uint64
		LKey() uint32
		RKey() uint32
		Deregister() error
	}

	// CompletionQueue reports the outcome of posted work requests.
	CompletionQueue interface {
		// Poll retrieves up to len(wcs) completions without blocking and
		// returns how many were filled in. An error means the queue is
		// unusable (e.g. it overran).
		Poll(wcs []WorkCompletion) (int, error)
		Close() error
	}

	// QueuePair is one endpoint of a reliable connection.
	QueuePair interface {
		Num() uint32
		PSN() uint32
		// Connect moves the queue pair to ready-to-send against the peer.
		Connect(local Address, remote QueuePairSetup) error
		PostSend(wrID uint64, wr *SendWR) error
		PostRecv(wrID uint64, wr *RecvWR) error
		Close() error
	}

	// Loader opens a verbs implementation.
	Loader func() (Lib, error)
)

// Setup returns the information a peer needs to connect to qp.
func Setup(addr Address, qp QueuePair) QueuePairSetup {
	return QueuePairSetup{
		Address: addr,
		QPNum:   qp.Num(),
		PSN:     qp.PSN(),
	}
}

// SGEFor returns a single-element scatter/gather list covering mr.
func SGEFor(mr MemoryRegion) []SGE {
	return []SGE{{
		Addr:   uint64(mr.Addr()),
		Length: uint32(mr.Length()),
		LKey:   mr.LKey(),
	}}
}
