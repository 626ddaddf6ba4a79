//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package loopback provides an in-process implementation of the verbs
// binding. Posted work requests are held by the completion queue until they
// are completed explicitly (or automatically, when so configured), which
// makes completion ordering and failures fully controllable.
package loopback

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/daos-stack/gdr/lib/verbs"
)

const apiVersion = 1

type (
	// Option configures a loopback Lib.
	Option func(*Lib)

	// Lib is a software verbs library.
	Lib struct {
		sync.Mutex
		devNames     []string
		autoComplete bool
		openErr      map[string]error
		opened       map[string]*Device
		closed       bool
	}
)

// WithDevices sets the names of the devices the library reports.
func WithDevices(names ...string) Option {
	return func(l *Lib) {
		l.devNames = names
	}
}

// WithAutoComplete makes every posted work request complete successfully on
// the next poll of its completion queue.
func WithAutoComplete() Option {
	return func(l *Lib) {
		l.autoComplete = true
	}
}

// WithOpenError makes opening the named device fail with err.
func WithOpenError(name string, err error) Option {
	return func(l *Lib) {
		l.openErr[name] = err
	}
}

// NewLib returns a loopback library with a single device named "lo_0"
// unless configured otherwise.
func NewLib(opts ...Option) *Lib {
	l := &Lib{
		devNames: []string{"lo_0"},
		openErr:  make(map[string]error),
		opened:   make(map[string]*Device),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Loader returns a verbs.Loader that hands out this library.
func (l *Lib) Loader() verbs.Loader {
	return func() (verbs.Lib, error) {
		return l, nil
	}
}

// Name implements verbs.Lib.
func (l *Lib) Name() string {
	return "loopback"
}

// APIVersion implements verbs.Lib.
func (l *Lib) APIVersion() int {
	return apiVersion
}

// Devices implements verbs.Lib.
func (l *Lib) Devices() ([]verbs.DeviceInfo, error) {
	infos := make([]verbs.DeviceInfo, 0, len(l.devNames))
	for i, name := range l.devNames {
		infos = append(infos, verbs.DeviceInfo{
			Name: name,
			GUID: 0x0002c90300000000 | uint64(i+1),
		})
	}
	return infos, nil
}

// OpenDevice implements verbs.Lib.
func (l *Lib) OpenDevice(name string) (verbs.Device, error) {
	l.Lock()
	defer l.Unlock()

	if err, found := l.openErr[name]; found {
		return nil, err
	}
	for i, devName := range l.devNames {
		if devName != name {
			continue
		}
		dev := &Device{lib: l, name: name, lid: uint16(i + 1)}
		l.opened[name] = dev
		return dev, nil
	}
	return nil, errors.Wrapf(unix.ENODEV, "device %q", name)
}

// Opened returns the most recently opened device with the given name.
func (l *Lib) Opened(name string) *Device {
	l.Lock()
	defer l.Unlock()

	return l.opened[name]
}

// Close implements verbs.Lib.
func (l *Lib) Close() error {
	l.Lock()
	defer l.Unlock()

	l.closed = true
	return nil
}

// IsClosed returns true once Close has been called.
func (l *Lib) IsClosed() bool {
	l.Lock()
	defer l.Unlock()

	return l.closed
}

// Device is a software adapter.
type Device struct {
	sync.Mutex
	lib    *Lib
	name   string
	lid    uint16
	pds    []*ProtectionDomain
	cqs    []*CompletionQueue
	closed bool
}

// Name implements verbs.Device.
func (d *Device) Name() string {
	return d.name
}

// AllocPD implements verbs.Device.
func (d *Device) AllocPD() (verbs.ProtectionDomain, error) {
	d.Lock()
	defer d.Unlock()

	pd := &ProtectionDomain{dev: d, nextKey: uint32(d.lid) << 16}
	d.pds = append(d.pds, pd)
	return pd, nil
}

// CreateCQ implements verbs.Device.
func (d *Device) CreateCQ(size int) (verbs.CompletionQueue, error) {
	if size <= 0 {
		return nil, errors.Wrapf(unix.EINVAL, "completion queue size %d", size)
	}

	d.Lock()
	defer d.Unlock()

	cq := &CompletionQueue{size: size, auto: d.lib.autoComplete}
	d.cqs = append(d.cqs, cq)
	return cq, nil
}

// QueryAddress implements verbs.Device.
func (d *Device) QueryAddress(port uint8, gidIndex uint8) (verbs.Address, error) {
	addr := verbs.Address{
		PortNum:  port,
		LID:      d.lid,
		GIDIndex: gidIndex,
		MTU:      4096,
	}
	addr.GID[0] = 0xfe
	addr.GID[1] = 0x80
	addr.GID[15] = byte(d.lid)
	return addr, nil
}

// Close implements verbs.Device.
func (d *Device) Close() error {
	d.Lock()
	defer d.Unlock()

	if d.closed {
		return errors.Wrapf(unix.EBADF, "device %s already closed", d.name)
	}
	d.closed = true
	return nil
}

// IsClosed returns true once Close has been called.
func (d *Device) IsClosed() bool {
	d.Lock()
	defer d.Unlock()

	return d.closed
}

// ProtectionDomains returns the protection domains allocated on the device.
func (d *Device) ProtectionDomains() []*ProtectionDomain {
	d.Lock()
	defer d.Unlock()

	return append([]*ProtectionDomain{}, d.pds...)
}

// CompletionQueues returns the completion queues created on the device.
func (d *Device) CompletionQueues() []*CompletionQueue {
	d.Lock()
	defer d.Unlock()

	return append([]*CompletionQueue{}, d.cqs...)
}

// ProtectionDomain is a software protection domain.
type ProtectionDomain struct {
	sync.Mutex
	dev           *Device
	nextKey       uint32
	registrations int
	live          int
	regErr        error
	qps           []*QueuePair
	closed        bool
}

// FailNextRegistration makes the next RegisterMemory call fail with err.
func (p *ProtectionDomain) FailNextRegistration(err error) {
	p.Lock()
	defer p.Unlock()

	p.regErr = err
}

// NumRegistrations returns how many successful registrations were made.
func (p *ProtectionDomain) NumRegistrations() int {
	p.Lock()
	defer p.Unlock()

	return p.registrations
}

// NumLiveRegions returns how many regions have not been deregistered.
func (p *ProtectionDomain) NumLiveRegions() int {
	p.Lock()
	defer p.Unlock()

	return p.live
}

// RegisterMemory implements verbs.ProtectionDomain.
func (p *ProtectionDomain) RegisterMemory(addr uintptr, length uint64, access verbs.AccessFlags) (verbs.MemoryRegion, error) {
	p.Lock()
	defer p.Unlock()

	if p.regErr != nil {
		err := p.regErr
		p.regErr = nil
		return nil, err
	}
	if length == 0 {
		return nil, errors.Wrap(unix.EINVAL, "zero-length registration")
	}

	p.nextKey++
	p.registrations++
	p.live++
	return &MemoryRegion{
		pd:     p,
		addr:   addr,
		length: length,
		access: access,
		lkey:   p.nextKey,
		rkey:   p.nextKey | 0x80000000,
	}, nil
}

// CreateQueuePair implements verbs.ProtectionDomain.
func (p *ProtectionDomain) CreateQueuePair(cq verbs.CompletionQueue, caps verbs.QPCaps) (verbs.QueuePair, error) {
	lcq, ok := cq.(*CompletionQueue)
	if !ok {
		return nil, errors.Errorf("completion queue %T is not a loopback queue", cq)
	}

	p.Lock()
	defer p.Unlock()

	qp := &QueuePair{
		cq:   lcq,
		caps: caps,
		num:  uint32(p.dev.lid)<<16 | uint32(len(p.qps)+1),
		psn:  uint32(len(p.qps)+1) * 100,
	}
	p.qps = append(p.qps, qp)
	return qp, nil
}

// QueuePairs returns the queue pairs created on the protection domain.
func (p *ProtectionDomain) QueuePairs() []*QueuePair {
	p.Lock()
	defer p.Unlock()

	return append([]*QueuePair{}, p.qps...)
}

// Close implements verbs.ProtectionDomain.
func (p *ProtectionDomain) Close() error {
	p.Lock()
	defer p.Unlock()

	if p.live > 0 {
		return errors.Wrapf(unix.EBUSY, "%d regions still registered", p.live)
	}
	p.closed = true
	return nil
}

// IsClosed returns true once Close has succeeded.
func (p *ProtectionDomain) IsClosed() bool {
	p.Lock()
	defer p.Unlock()

	return p.closed
}

// MemoryRegion is a software registration.
type MemoryRegion struct {
	pd           *ProtectionDomain
	addr         uintptr
	length       uint64
	access       verbs.AccessFlags
	lkey, rkey   uint32
	deregistered bool
}

func (m *MemoryRegion) Addr() uintptr             { return m.addr }
func (m *MemoryRegion) Length() uint64            { return m.length }
func (m *MemoryRegion) LKey() uint32              { return m.lkey }
func (m *MemoryRegion) RKey() uint32              { return m.rkey }
func (m *MemoryRegion) Access() verbs.AccessFlags { return m.access }
func (m *MemoryRegion) String() string            { return fmt.Sprintf("lo-mr@%#x[%d]", m.addr, m.length) }

// Deregister implements verbs.MemoryRegion.
func (m *MemoryRegion) Deregister() error {
	m.pd.Lock()
	defer m.pd.Unlock()

	if m.deregistered {
		return errors.Wrap(unix.EINVAL, "region already deregistered")
	}
	m.deregistered = true
	m.pd.live--
	return nil
}
