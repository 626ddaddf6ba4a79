//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cudagdr

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/lib/atm"
	"github.com/daos-stack/gdr/lib/cache"
	"github.com/daos-stack/gdr/lib/cuda"
	"github.com/daos-stack/gdr/lib/verbs"
	"github.com/daos-stack/gdr/logging"
)

// Callback is invoked exactly once with the outcome of an operation. A nil
// error means success; otherwise the error is a *fault.Fault.
type Callback func(error)

type requestKind int

const (
	kindSend requestKind = iota
	kindRecv
)

func (k requestKind) String() string {
	if k == kindRecv {
		return "recv"
	}
	return "send"
}

// request is a work request accepted by an adapter. The descriptors are held
// by value so that a request can wait in a queue long after the caller's
// frame is gone.
type request struct {
	kind requestKind
	qp   verbs.QueuePair
	send verbs.SendWR
	recv verbs.RecvWR
	cb   Callback
}

// slots tracks one kind of work request: its budget, the requests waiting
// for a slot, and how many are posted.
type slots struct {
	budget  int
	posted  int
	waiting []request
}

func (s *slots) available() bool {
	return s.posted < s.budget
}

func (s *slots) pop() request {
	req := s.waiting[0]
	s.waiting[0] = request{}
	s.waiting = s.waiting[1:]
	return req
}

// MemoryRegion is a cached registration of a buffer.
type MemoryRegion struct {
	verbs.MemoryRegion
	key string
}

// Key implements cache.Item.
func (mr *MemoryRegion) Key() string {
	return mr.key
}

// SGList returns a scatter/gather list covering the whole region.
func (mr *MemoryRegion) SGList() []verbs.SGE {
	return verbs.SGEFor(mr.MemoryRegion)
}

func regionKey(addr uintptr, length uint64) string {
	return fmt.Sprintf("%#x+%d", addr, length)
}

const regionAccess = verbs.AccessLocalWrite | verbs.AccessRemoteRead | verbs.AccessRemoteWrite

// Adapter owns the resources of one RDMA device: its protection domain,
// completion queue, send and receive slot budgets, the requests waiting for
// a slot, the requests in flight and the memory region cache.
//
// Apart from RegisterMemory, ID and SetID, an Adapter must only be used
// from the goroutine polling it.
type Adapter struct {
	log      logging.Logger
	id       atm.String
	name     string
	dev      verbs.Device
	pd       verbs.ProtectionDomain
	cq       verbs.CompletionQueue
	addr     verbs.Address
	sends    slots
	recvs    slots
	inFlight map[uint64]request
	nextID   uint64
	regions  *cache.ItemCache
	wcs      []verbs.WorkCompletion
	metrics  *adapterMetrics

	qpMutex sync.Mutex
	qps     []verbs.QueuePair

	failMutex sync.RWMutex
	failure   error
}

type adapterConfig struct {
	numSends  int
	numRecvs  int
	pollBatch int
	portNum   uint8
	gidIndex  uint8
	metrics   *adapterMetrics
}

func openAdapter(log logging.Logger, lib verbs.Lib, name string, cfg adapterConfig) (_ *Adapter, err error) {
	a := &Adapter{
		log:      log,
		name:     name,
		sends:    slots{budget: cfg.numSends},
		recvs:    slots{budget: cfg.numRecvs},
		inFlight: make(map[uint64]request),
		regions:  cache.NewItemCache(log),
		wcs:      make([]verbs.WorkCompletion, cfg.pollBatch),
		metrics:  cfg.metrics,
	}
	a.id.Store(name)
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	if a.dev, err = lib.OpenDevice(name); err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	if a.pd, err = a.dev.AllocPD(); err != nil {
		return nil, errors.Wrapf(err, "allocating protection domain on %s", name)
	}
	if a.cq, err = a.dev.CreateCQ(cfg.numSends + cfg.numRecvs); err != nil {
		return nil, errors.Wrapf(err, "creating completion queue on %s", name)
	}
	if a.addr, err = a.dev.QueryAddress(cfg.portNum, cfg.gidIndex); err != nil {
		return nil, errors.Wrapf(err, "querying address of %s port %d", name, cfg.portNum)
	}

	a.updateMetrics()
	return a, nil
}

// ID returns the diagnostic identifier of the adapter.
func (a *Adapter) ID() string {
	return a.id.Load()
}

// SetID updates the diagnostic identifier of the adapter. It is safe to
// call from any goroutine.
func (a *Adapter) SetID(id string) {
	a.id.Store(id)
}

// Name returns the device name.
func (a *Adapter) Name() string {
	return a.name
}

// Address returns the local port address.
func (a *Adapter) Address() verbs.Address {
	return a.addr
}

// ProtectionDomain returns the adapter's protection domain.
func (a *Adapter) ProtectionDomain() verbs.ProtectionDomain {
	return a.pd
}

// CompletionQueue returns the adapter's completion queue.
func (a *Adapter) CompletionQueue() verbs.CompletionQueue {
	return a.cq
}

// NumRegions returns the number of cached memory regions.
func (a *Adapter) NumRegions() int {
	return a.regions.Len()
}

// Failed returns the error that put the adapter into the failed state, or
// nil.
func (a *Adapter) Failed() error {
	a.failMutex.RLock()
	defer a.failMutex.RUnlock()

	return a.failure
}

func (a *Adapter) slotsFor(kind requestKind) *slots {
	if kind == kindRecv {
		return &a.recvs
	}
	return &a.sends
}

func (a *Adapter) updateMetrics() {
	if a.metrics == nil {
		return
	}
	a.metrics.sendSlots.Set(float64(a.sends.posted))
	a.metrics.recvSlots.Set(float64(a.recvs.posted))
	a.metrics.waitingSends.Set(float64(len(a.sends.waiting)))
	a.metrics.waitingRecvs.Set(float64(len(a.recvs.waiting)))
	a.metrics.regions.Set(float64(a.regions.Len()))
}

// PostSend posts a send work request on qp, or queues it until a send slot
// is free. The outcome is always delivered through cb.
func (a *Adapter) PostSend(qp verbs.QueuePair, wr verbs.SendWR, cb Callback) {
	a.submit(request{kind: kindSend, qp: qp, send: wr, cb: cb})
}

// PostRecv posts a receive work request on qp, or queues it until a
// receive slot is free. The outcome is always delivered through cb.
func (a *Adapter) PostRecv(qp verbs.QueuePair, wr verbs.RecvWR, cb Callback) {
	a.submit(request{kind: kindRecv, qp: qp, recv: wr, cb: cb})
}

func (a *Adapter) submit(req request) {
	if req.cb == nil {
		req.cb = func(error) {}
	}
	if err := a.Failed(); err != nil {
		req.cb(err)
		return
	}

	s := a.slotsFor(req.kind)
	s.waiting = append(s.waiting, req)
	if !s.available() {
		a.log.Tracef("%s: %s queued (%d waiting)", a.ID(), req.kind, len(s.waiting))
	}
	a.drain(req.kind)
}

// drain posts waiting requests of one kind, oldest first, while slots are
// free.
func (a *Adapter) drain(kind requestKind) {
	s := a.slotsFor(kind)
	for s.available() && len(s.waiting) > 0 {
		a.post(s.pop())
	}
	a.updateMetrics()
}

func (a *Adapter) post(req request) {
	s := a.slotsFor(req.kind)
	id := a.nextID
	a.nextID++

	s.posted++
	a.inFlight[id] = req

	var err error
	if req.kind == kindRecv {
		err = req.qp.PostRecv(id, &req.recv)
	} else {
		err = req.qp.PostSend(id, &req.send)
	}
	if err != nil {
		delete(a.inFlight, id)
		s.posted--
		a.log.Errorf("%s: post %s failed: %s", a.ID(), req.kind, err)
		req.cb(FaultPost(req.kind, err))
		return
	}

	a.log.Tracef("%s: posted %s %d", a.ID(), req.kind, id)
}

// PollOnce retrieves one batch of completions, completes the matching
// requests and posts waiting requests into the freed slots. It reports
// whether any completion was processed.
func (a *Adapter) PollOnce() bool {
	if a.Failed() != nil {
		return false
	}

	n, err := a.cq.Poll(a.wcs)
	if err != nil {
		a.fail(FaultEngineFailed(errors.Wrapf(err, "polling %s", a.name)))
		return true
	}

	for _, wc := range a.wcs[:n] {
		a.complete(wc)
	}
	if n > 0 {
		a.updateMetrics()
	}
	return n > 0
}

func (a *Adapter) complete(wc verbs.WorkCompletion) {
	req, found := a.inFlight[wc.WRID]
	if !found {
		a.log.Errorf("%s: completion for unknown request %d (%s)", a.ID(), wc.WRID, wc.Status)
		return
	}
	delete(a.inFlight, wc.WRID)
	a.slotsFor(req.kind).posted--

	if a.metrics != nil {
		a.metrics.completions.WithLabelValues(wc.Status.String()).Inc()
	}

	var cbErr error
	if !wc.Status.OK() {
		cbErr = FaultFromStatus(wc.Status, wc.VendorErr)
		a.log.Errorf("%s: %s %d failed: %s", a.ID(), req.kind, wc.WRID, cbErr)
	} else {
		a.log.Tracef("%s: %s %d completed (%s)", a.ID(), req.kind, wc.WRID,
			humanize.IBytes(uint64(wc.ByteLen)))
	}
	req.cb(cbErr)

	a.drain(req.kind)
}

// fail puts the adapter into the failed state and delivers err to every
// request it holds, in-flight requests first in posting order.
func (a *Adapter) fail(err error) {
	a.failMutex.Lock()
	if a.failure != nil {
		a.failMutex.Unlock()
		return
	}
	a.failure = err
	a.failMutex.Unlock()

	a.log.Errorf("%s: %s", a.ID(), err)

	ids := make([]uint64, 0, len(a.inFlight))
	for id := range a.inFlight {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	held := make([]request, 0, len(ids)+len(a.sends.waiting)+len(a.recvs.waiting))
	for _, id := range ids {
		held = append(held, a.inFlight[id])
	}
	held = append(held, a.sends.waiting...)
	held = append(held, a.recvs.waiting...)

	a.inFlight = make(map[uint64]request)
	a.sends.posted, a.sends.waiting = 0, nil
	a.recvs.posted, a.recvs.waiting = 0, nil
	a.updateMetrics()

	for _, req := range held {
		req.cb(err)
	}
}

// RegisterMemory returns the memory region covering buf, registering it
// with the adapter on first use. Registrations are cached by address and
// length and are kept until the adapter is closed. It is safe to call from
// any goroutine.
func (a *Adapter) RegisterMemory(buf cuda.Buffer) (*MemoryRegion, error) {
	if err := a.Failed(); err != nil {
		return nil, err
	}

	key := regionKey(buf.Ptr, buf.Length)
	item, created, err := a.regions.GetOrCreate(key, func() (cache.Item, error) {
		mr, err := a.pd.RegisterMemory(buf.Ptr, buf.Length, regionAccess)
		if err != nil {
			return nil, FaultRegistration(buf, err)
		}
		return &MemoryRegion{MemoryRegion: mr, key: key}, nil
	})
	if err != nil {
		a.log.Errorf("%s: %s", a.ID(), err)
		return nil, err
	}

	mr, ok := item.(*MemoryRegion)
	if !ok {
		return nil, errors.Errorf("unexpected cached item %T for %s", item, key)
	}
	if created {
		a.log.Debugf("%s: registered %s (%s, %d regions)", a.ID(), buf,
			humanize.IBytes(buf.Length), a.regions.Len())
		if a.metrics != nil {
			a.metrics.regions.Set(float64(a.regions.Len()))
		}
	}
	return mr, nil
}

// ReadyToClose reports whether the adapter holds no waiting or in-flight
// requests.
func (a *Adapter) ReadyToClose() bool {
	return len(a.sends.waiting) == 0 && len(a.recvs.waiting) == 0 && len(a.inFlight) == 0
}

// createQueuePair creates a queue pair on the adapter's protection domain
// and completion queue. Each queue pair is sized for the adapter's whole
// budget, as the budget is shared by all of them.
func (a *Adapter) createQueuePair() (verbs.QueuePair, error) {
	qp, err := a.pd.CreateQueuePair(a.cq, verbs.QPCaps{
		MaxSendWR:  uint32(a.sends.budget),
		MaxRecvWR:  uint32(a.recvs.budget),
		MaxSendSGE: 1,
		MaxRecvSGE: 1,
	})
	if err != nil {
		return nil, FaultQueuePair("create", err)
	}

	a.qpMutex.Lock()
	defer a.qpMutex.Unlock()

	a.qps = append(a.qps, qp)
	return qp, nil
}

// release destroys every resource of the adapter. It must only be called
// once the adapter is ready to close.
func (a *Adapter) release() error {
	var errs []error

	a.qpMutex.Lock()
	for _, qp := range a.qps {
		if err := qp.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "destroying queue pair"))
		}
	}
	a.qps = nil
	a.qpMutex.Unlock()

	if err := a.regions.Clear(func(item cache.Item) error {
		if mr, ok := item.(*MemoryRegion); ok {
			return mr.Deregister()
		}
		return nil
	}); err != nil {
		errs = append(errs, errors.Wrap(err, "deregistering memory"))
	}
	a.updateMetrics()

	if a.cq != nil {
		if err := a.cq.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "destroying completion queue"))
		}
	}
	if a.pd != nil {
		if err := a.pd.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "deallocating protection domain"))
		}
	}
	if a.dev != nil {
		if err := a.dev.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "closing device"))
		}
	}

	if len(errs) > 0 {
		for _, err := range errs[1:] {
			a.log.Errorf("%s: %s", a.name, err)
		}
		return errors.Wrap(errs[0], a.name)
	}
	return nil
}
