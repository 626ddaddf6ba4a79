//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package cudagdr implements a data channel that moves GPU buffers between
// peers with RDMA verbs.
//
// A Context owns one Adapter per RDMA device and a polling loop that
// interleaves completion-queue polling with CUDA event polling. All adapter
// and event state is owned by the loop goroutine; other goroutines submit
// work through DeferToLoop or the Channel methods, which do so internally.
package cudagdr

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/daos-stack/gdr/common"
	"github.com/daos-stack/gdr/lib/atm"
	"github.com/daos-stack/gdr/lib/cuda"
	"github.com/daos-stack/gdr/lib/hardware"
	"github.com/daos-stack/gdr/lib/pollloop"
	"github.com/daos-stack/gdr/lib/verbs"
	"github.com/daos-stack/gdr/logging"
)

const maxConcurrentOpens = 8

type eventWait struct {
	ev cuda.Event
	cb Callback
}

// Context is the data channel engine.
type Context struct {
	log          logging.Logger
	cfg          *contextConfig
	id           atm.String
	lib          verbs.Lib
	unavailable  error
	adapters     []*Adapter
	gpuToAdapter []int
	pending      []eventWait
	metrics      *metrics
	descriptor   string
	loop         *pollloop.Loop
	closing      atm.Bool
	releaseOnce  sync.Once
	releaseErr   error

	failMutex sync.RWMutex
	failure   error
}

// NewContext creates a context and starts its polling loop. hints names the
// preferred adapter of each GPU index; an empty or unknown hint selects an
// adapter round-robin. If the verbs library is unavailable the context is
// still created, but CreateChannel fails.
func NewContext(log logging.Logger, hints []string, opts ...ContextOption) (*Context, error) {
	c, err := newContext(log, hints, opts...)
	if err != nil {
		return nil, err
	}

	c.loop.Start()
	return c, nil
}

// newContext creates a context whose loop has not been started.
func newContext(log logging.Logger, hints []string, opts ...ContextOption) (*Context, error) {
	cfg := defaultContextConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.id == "" {
		cfg.id = uuid.New().String()
	}

	c := &Context{
		log:     log,
		cfg:     cfg,
		metrics: newMetrics(cfg.id),
	}
	c.id.Store(cfg.id)
	c.loop = pollloop.New(log, c, pollloop.WithName("context "+cfg.id),
		pollloop.WithMaxIdleSleep(cfg.maxIdleSleep))

	if err := c.metrics.register(cfg.registerer); err != nil {
		return nil, err
	}

	if err := c.openAdapters(); err != nil {
		c.unavailable = err
		log.Noticef("context %s: RDMA unavailable, channels cannot be created: %s", c.ID(), err)
	}

	names := make([]string, 0, len(c.adapters))
	for _, a := range c.adapters {
		names = append(names, a.Name())
	}
	mapping, unmatched := hardware.MatchHints(hints, names, cfg.numGPUs)
	for _, hint := range unmatched {
		log.Noticef("context %s: no adapter named %q, using default", c.ID(), hint)
	}
	c.gpuToAdapter = mapping

	desc, err := domainDescriptor(c.lib)
	if err != nil {
		c.release()
		return nil, err
	}
	c.descriptor = desc

	c.SetID(cfg.id)
	return c, nil
}

func (c *Context) openAdapters() error {
	lib, err := c.cfg.loader()
	if err != nil {
		return FaultCapabilityUnavailable(err)
	}
	c.lib = lib

	infos, err := lib.Devices()
	if err != nil {
		return FaultCapabilityUnavailable(err)
	}
	if len(infos) == 0 {
		return FaultCapabilityUnavailable(verbs.FaultNoDevices())
	}

	opened := make([]*Adapter, len(infos))
	openErrs := make([]error, len(infos))
	var g errgroup.Group
	g.SetLimit(maxConcurrentOpens)
	for i, info := range infos {
		i, name := i, info.Name
		g.Go(func() error {
			opened[i], openErrs[i] = openAdapter(c.log, lib, name, adapterConfig{
				numSends:  c.cfg.numSends,
				numRecvs:  c.cfg.numRecvs,
				pollBatch: c.cfg.pollBatch,
				portNum:   c.cfg.portNum,
				gidIndex:  c.cfg.gidIndex,
				metrics:   c.metrics.forAdapter(name),
			})
			return nil
		})
	}
	g.Wait()

	for i, a := range opened {
		if openErrs[i] != nil {
			c.log.Errorf("context %s: skipping %s: %s", c.ID(), infos[i].Name, openErrs[i])
			continue
		}
		c.log.Infof("context %s: opened %s (lid %d, %d sends, %d recvs)", c.ID(), a.Name(),
			a.Address().LID, c.cfg.numSends, c.cfg.numRecvs)
		c.adapters = append(c.adapters, a)
	}
	if len(c.adapters) == 0 {
		return FaultCapabilityUnavailable(errors.Wrap(openErrs[0], "no device could be opened"))
	}
	c.log.Debugf("context %s: %s of %d usable", c.ID(),
		common.FormatCount("adapter", len(c.adapters)), len(infos))

	return nil
}

// domainDescriptor identifies the binding a context uses. Peers must have
// equal descriptors to be able to connect their channels.
func domainDescriptor(lib verbs.Lib) (string, error) {
	desc := struct {
		Binding    string
		APIVersion int
	}{Binding: "none"}
	if lib != nil {
		desc.Binding = lib.Name()
		desc.APIVersion = lib.APIVersion()
	}

	hash, err := hashstructure.Hash(desc, hashstructure.FormatV2, nil)
	if err != nil {
		return "", errors.Wrap(err, "hashing domain descriptor")
	}
	return fmt.Sprintf("cuda_gdr:%016x", hash), nil
}

// DomainDescriptor returns a string that peers compare before using a
// channel between them.
func (c *Context) DomainDescriptor() string {
	return c.descriptor
}

// ID returns the diagnostic identifier of the context.
func (c *Context) ID() string {
	return c.id.Load()
}

// SetID updates the diagnostic identifier of the context and its adapters.
// It is safe to call from any goroutine.
func (c *Context) SetID(id string) {
	c.id.Store(id)
	for i, a := range c.adapters {
		a.SetID(fmt.Sprintf("%s.nic_%d", id, i))
	}
}

// Unavailable returns why channels cannot be created, or nil.
func (c *Context) Unavailable() error {
	return c.unavailable
}

// NumAdapters returns the number of opened adapters.
func (c *Context) NumAdapters() int {
	return len(c.adapters)
}

// Adapter returns the adapter with the given index. The adapter must only
// be used from the polling loop, e.g. inside DeferToLoop.
func (c *Context) Adapter(idx int) (*Adapter, error) {
	if idx < 0 || idx >= len(c.adapters) {
		return nil, FaultInvalidAdapter(idx, len(c.adapters))
	}
	return c.adapters[idx], nil
}

// GPUToAdapterMapping returns the adapter index for each GPU index.
func (c *Context) GPUToAdapterMapping() []int {
	return append([]int{}, c.gpuToAdapter...)
}

// adapterFor returns the adapter index serving the buffer's GPU. Host
// buffers use the first adapter, as do all buffers when the context was
// created without a GPU count. A GPU beyond a non-empty mapping is an
// error.
func (c *Context) adapterFor(buf cuda.Buffer) (int, error) {
	switch {
	case len(c.adapters) == 0:
		return 0, c.unavailable
	case buf.OnHost():
		return 0, nil
	case len(c.gpuToAdapter) == 0:
		c.log.Debugf("context %s: no GPU map, %s uses adapter 0", c.ID(), buf)
		return 0, nil
	case buf.DeviceIdx >= len(c.gpuToAdapter):
		return 0, FaultUnmappedGPU(buf.DeviceIdx, len(c.gpuToAdapter))
	}
	return c.gpuToAdapter[buf.DeviceIdx], nil
}

// RegisterMemory registers buf with the adapter at adapterIdx. It is safe
// to call from any goroutine.
func (c *Context) RegisterMemory(adapterIdx int, buf cuda.Buffer) (*MemoryRegion, error) {
	a, err := c.Adapter(adapterIdx)
	if err != nil {
		return nil, err
	}
	return a.RegisterMemory(buf)
}

// DeferToLoop runs fn on the polling loop goroutine.
func (c *Context) DeferToLoop(fn func()) error {
	if err := c.loop.Defer(fn); err != nil {
		return FaultContextClosed().WithReason(err.Error())
	}
	return nil
}

// Failed returns the error that put the context into the failed state, or
// nil.
func (c *Context) Failed() error {
	c.failMutex.RLock()
	defer c.failMutex.RUnlock()

	return c.failure
}

// WaitForCudaEvent calls cb once ev has completed. It never blocks and is
// safe to call from any goroutine.
func (c *Context) WaitForCudaEvent(ev cuda.Event, cb Callback) {
	if cb == nil {
		cb = func(error) {}
	}
	if err := c.DeferToLoop(func() { c.waitForEvent(ev, cb) }); err != nil {
		cb(err)
	}
}

func (c *Context) waitForEvent(ev cuda.Event, cb Callback) {
	if err := c.Failed(); err != nil {
		cb(err)
		return
	}
	if ev == nil {
		cb(nil)
		return
	}

	c.pending = append(c.pending, eventWait{ev: ev, cb: cb})
	c.metrics.pendingEvents.Set(float64(len(c.pending)))
}

// pollEvents queries every pending event once, in registration order, and
// calls back the ones found complete in that order.
func (c *Context) pollEvents() bool {
	if len(c.pending) == 0 {
		return false
	}

	type fired struct {
		cb  Callback
		err error
	}
	var done []fired

	n := 0
	for _, w := range c.pending {
		complete, err := w.ev.Query()
		switch {
		case err != nil:
			done = append(done, fired{cb: w.cb, err: cuda.FaultEventQuery(err)})
		case complete:
			done = append(done, fired{cb: w.cb})
		default:
			c.pending[n] = w
			n++
		}
	}
	for i := n; i < len(c.pending); i++ {
		c.pending[i] = eventWait{}
	}
	c.pending = c.pending[:n]
	c.metrics.pendingEvents.Set(float64(len(c.pending)))

	for _, f := range done {
		if f.err != nil {
			c.log.Errorf("context %s: %s", c.ID(), f.err)
		}
		f.cb(f.err)
	}
	return len(done) > 0
}

// fail puts the context into the failed state: every adapter fails with
// err and every pending event wait is called back with it.
func (c *Context) fail(err error) {
	c.failMutex.Lock()
	if c.failure != nil {
		c.failMutex.Unlock()
		return
	}
	c.failure = err
	c.failMutex.Unlock()

	c.log.Errorf("context %s failed: %s", c.ID(), err)
	for _, a := range c.adapters {
		a.fail(err)
	}

	pending := c.pending
	c.pending = nil
	c.metrics.pendingEvents.Set(0)
	for _, w := range pending {
		w.cb(err)
	}
}

// PollOnce polls every adapter once and then every pending CUDA event
// once. It reports whether anything was completed.
func (c *Context) PollOnce() bool {
	worked := false
	for _, a := range c.adapters {
		if a.PollOnce() {
			worked = true
		}
		if err := a.Failed(); err != nil && c.Failed() == nil {
			c.fail(err)
		}
	}

	if c.pollEvents() {
		worked = true
	}
	return worked
}

// ReadyToClose reports whether no adapter holds any request and no CUDA
// event is waited on.
func (c *Context) ReadyToClose() bool {
	for _, a := range c.adapters {
		if !a.ReadyToClose() {
			return false
		}
	}
	return len(c.pending) == 0
}

// Close stops the context from accepting new channels. Outstanding work
// keeps being processed until Join.
func (c *Context) Close() {
	if c.closing.SetTrueCond() {
		c.log.Debugf("context %s: closing", c.ID())
	}
	c.loop.Close()
}

// IsClosed returns true once Close has been called.
func (c *Context) IsClosed() bool {
	return c.closing.IsTrue()
}

// Join waits until all outstanding work has completed and then releases
// every hardware resource. Join implies Close.
//
// A callback running on the polling loop cannot wait for the loop. Join
// called there only closes the context and returns an error; another
// goroutine must still call Join to release the resources.
func (c *Context) Join() error {
	c.Close()
	if err := c.loop.Join(); err != nil {
		return FaultContextClosed().WithReason(err.Error())
	}
	return c.release()
}

func (c *Context) release() error {
	c.releaseOnce.Do(func() {
		for _, a := range c.adapters {
			if err := a.release(); err != nil && c.releaseErr == nil {
				c.releaseErr = err
			}
		}
		if c.lib != nil {
			if err := c.lib.Close(); err != nil && c.releaseErr == nil {
				c.releaseErr = err
			}
		}
		c.metrics.unregister(c.cfg.registerer)
		c.log.Debugf("context %s: released", c.ID())
	})
	return c.releaseErr
}
