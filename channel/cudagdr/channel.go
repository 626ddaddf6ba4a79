//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cudagdr

import (
	"io"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/lib/atm"
	"github.com/daos-stack/gdr/lib/cuda"
	"github.com/daos-stack/gdr/lib/verbs"
)

// Connection is the control-plane connection a channel exchanges setup
// information over. Its wire format belongs to the transfer protocol.
type Connection interface {
	io.ReadWriteCloser
}

// Endpoint is the role of a channel in the connection handshake.
type Endpoint int

const (
	// EndpointListen is the accepting side.
	EndpointListen Endpoint = iota
	// EndpointConnect is the initiating side.
	EndpointConnect
)

func (e Endpoint) String() string {
	if e == EndpointConnect {
		return "connect"
	}
	return "listen"
}

// RemoteRegion identifies memory registered by the peer.
type RemoteRegion struct {
	Addr   uint64 `json:"addr"`
	Length uint64 `json:"length"`
	RKey   uint32 `json:"rkey"`
}

// RemoteRegionFor describes a local region to a peer.
func RemoteRegionFor(mr *MemoryRegion) RemoteRegion {
	return RemoteRegion{
		Addr:   uint64(mr.Addr()),
		Length: mr.Length(),
		RKey:   mr.RKey(),
	}
}

// Channel transfers GPU buffers to and from one peer. It holds one
// reliable-connection queue pair per adapter. All methods are safe to call
// from any goroutine; completion is always reported through the callback.
type Channel struct {
	ctx      *Context
	conn     Connection
	endpoint Endpoint
	qps      []verbs.QueuePair
	closed   atm.Bool
}

// CreateChannel creates a channel bound to conn.
func (c *Context) CreateChannel(conn Connection, ep Endpoint) (*Channel, error) {
	if c.IsClosed() {
		return nil, FaultContextClosed()
	}
	if c.unavailable != nil {
		return nil, c.unavailable
	}
	if err := c.Failed(); err != nil {
		return nil, err
	}

	ch := &Channel{
		ctx:      c,
		conn:     conn,
		endpoint: ep,
		qps:      make([]verbs.QueuePair, 0, len(c.adapters)),
	}
	for _, a := range c.adapters {
		qp, err := a.createQueuePair()
		if err != nil {
			return nil, err
		}
		ch.qps = append(ch.qps, qp)
	}

	c.log.Debugf("context %s: created %s channel with %d queue pairs", c.ID(), ep, len(ch.qps))
	return ch, nil
}

// Endpoint returns the channel's role.
func (ch *Channel) Endpoint() Endpoint {
	return ch.endpoint
}

// Connection returns the channel's control-plane connection.
func (ch *Channel) Connection() Connection {
	return ch.conn
}

// LocalSetup returns what the peer needs to connect to this channel, one
// entry per adapter.
func (ch *Channel) LocalSetup() []verbs.QueuePairSetup {
	setups := make([]verbs.QueuePairSetup, 0, len(ch.qps))
	for i, qp := range ch.qps {
		setups = append(setups, verbs.Setup(ch.ctx.adapters[i].Address(), qp))
	}
	return setups
}

// Connect connects every queue pair to the peer's matching queue pair.
func (ch *Channel) Connect(remote []verbs.QueuePairSetup) error {
	if ch.closed.IsTrue() {
		return FaultChannelClosed()
	}
	if len(remote) != len(ch.qps) {
		return FaultQueuePair("connect",
			errors.Errorf("peer has %d adapters, expected %d", len(remote), len(ch.qps)))
	}

	for i, qp := range ch.qps {
		if err := qp.Connect(ch.ctx.adapters[i].Address(), remote[i]); err != nil {
			return FaultQueuePair("connect", err)
		}
	}
	return nil
}

// Send sends buf once ev has completed.
func (ch *Channel) Send(buf cuda.Buffer, ev cuda.Event, cb Callback) {
	ch.submit(buf, ev, cb, func(a *Adapter, qp verbs.QueuePair, mr *MemoryRegion, cb Callback) {
		a.PostSend(qp, verbs.SendWR{Opcode: verbs.OpSend, SGList: mr.SGList()}, cb)
	})
}

// Recv receives into buf.
func (ch *Channel) Recv(buf cuda.Buffer, cb Callback) {
	ch.submit(buf, nil, cb, func(a *Adapter, qp verbs.QueuePair, mr *MemoryRegion, cb Callback) {
		a.PostRecv(qp, verbs.RecvWR{SGList: mr.SGList()}, cb)
	})
}

// Write writes buf into the peer's region once ev has completed.
func (ch *Channel) Write(buf cuda.Buffer, ev cuda.Event, remote RemoteRegion, cb Callback) {
	ch.submit(buf, ev, cb, func(a *Adapter, qp verbs.QueuePair, mr *MemoryRegion, cb Callback) {
		a.PostSend(qp, verbs.SendWR{
			Opcode:     verbs.OpRDMAWrite,
			SGList:     mr.SGList(),
			RemoteAddr: remote.Addr,
			RKey:       remote.RKey,
		}, cb)
	})
}

// Read reads the peer's region into buf.
func (ch *Channel) Read(buf cuda.Buffer, remote RemoteRegion, cb Callback) {
	ch.submit(buf, nil, cb, func(a *Adapter, qp verbs.QueuePair, mr *MemoryRegion, cb Callback) {
		a.PostSend(qp, verbs.SendWR{
			Opcode:     verbs.OpRDMARead,
			SGList:     mr.SGList(),
			RemoteAddr: remote.Addr,
			RKey:       remote.RKey,
		}, cb)
	})
}

type postFunc func(a *Adapter, qp verbs.QueuePair, mr *MemoryRegion, cb Callback)

// submit waits for ev on the loop, registers buf with the adapter serving
// its GPU and posts the work request.
func (ch *Channel) submit(buf cuda.Buffer, ev cuda.Event, cb Callback, post postFunc) {
	if cb == nil {
		cb = func(error) {}
	}
	if ch.closed.IsTrue() {
		cb(FaultChannelClosed())
		return
	}

	ch.ctx.WaitForCudaEvent(ev, func(err error) {
		if err != nil {
			cb(err)
			return
		}

		idx, err := ch.ctx.adapterFor(buf)
		if err != nil {
			cb(err)
			return
		}
		a := ch.ctx.adapters[idx]
		mr, err := a.RegisterMemory(buf)
		if err != nil {
			cb(err)
			return
		}
		post(a, ch.qps[idx], mr, cb)
	})
}

// Close closes the channel's connection. Work already submitted still
// completes; the queue pairs are destroyed when the context is joined.
func (ch *Channel) Close() error {
	if !ch.closed.SetTrueCond() {
		return nil
	}
	if ch.conn == nil {
		return nil
	}
	return ch.conn.Close()
}
