//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package loopback

import (
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/daos-stack/gdr/lib/verbs"
)

// Posted describes a work request that has been posted but not completed.
type Posted struct {
	WRID    uint64
	QPNum   uint32
	Recv    bool
	Opcode  verbs.Opcode
	ByteLen uint32
	qp      *QueuePair
}

// CompletionQueue is a software completion queue. Work requests posted to
// any queue pair attached to it stay outstanding until completed.
type CompletionQueue struct {
	sync.Mutex
	size        int
	auto        bool
	outstanding []Posted
	ready       []verbs.WorkCompletion
	overrun     bool
	polls       int
	closed      bool
}

// Outstanding returns the posted work requests in posting order.
func (c *CompletionQueue) Outstanding() []Posted {
	c.Lock()
	defer c.Unlock()

	return append([]Posted{}, c.outstanding...)
}

// NumOutstanding returns the number of posted work requests.
func (c *CompletionQueue) NumOutstanding() int {
	c.Lock()
	defer c.Unlock()

	return len(c.outstanding)
}

// NumPolls returns how many times Poll has been called.
func (c *CompletionQueue) NumPolls() int {
	c.Lock()
	defer c.Unlock()

	return c.polls
}

func (c *CompletionQueue) completeIdx(idx int, status verbs.WCStatus) {
	p := c.outstanding[idx]
	c.outstanding = append(c.outstanding[:idx], c.outstanding[idx+1:]...)
	p.qp.release(p.Recv)

	wc := verbs.WorkCompletion{
		WRID:   p.WRID,
		Status: status,
		QPNum:  p.QPNum,
	}
	if status.OK() {
		wc.ByteLen = p.ByteLen
	}
	c.ready = append(c.ready, wc)
}

// Complete makes the outstanding work request with the given id available
// to the next Poll with the given status.
func (c *CompletionQueue) Complete(wrID uint64, status verbs.WCStatus) error {
	c.Lock()
	defer c.Unlock()

	for i, p := range c.outstanding {
		if p.WRID == wrID {
			c.completeIdx(i, status)
			return nil
		}
	}
	return errors.Errorf("work request %d is not outstanding", wrID)
}

// CompleteNext completes the oldest outstanding work request and returns its
// id.
func (c *CompletionQueue) CompleteNext(status verbs.WCStatus) (uint64, error) {
	c.Lock()
	defer c.Unlock()

	if len(c.outstanding) == 0 {
		return 0, errors.New("no outstanding work requests")
	}
	wrID := c.outstanding[0].WRID
	c.completeIdx(0, status)
	return wrID, nil
}

// CompleteAll completes every outstanding work request in posting order.
func (c *CompletionQueue) CompleteAll(status verbs.WCStatus) int {
	c.Lock()
	defer c.Unlock()

	n := len(c.outstanding)
	for len(c.outstanding) > 0 {
		c.completeIdx(0, status)
	}
	return n
}

// Overrun makes every subsequent Poll fail.
func (c *CompletionQueue) Overrun() {
	c.Lock()
	defer c.Unlock()

	c.overrun = true
}

// Poll implements verbs.CompletionQueue.
func (c *CompletionQueue) Poll(wcs []verbs.WorkCompletion) (int, error) {
	c.Lock()
	defer c.Unlock()

	c.polls++
	if c.overrun {
		return 0, errors.Wrap(unix.EOVERFLOW, "completion queue overrun")
	}
	if c.auto {
		for len(c.outstanding) > 0 {
			c.completeIdx(0, verbs.WCSuccess)
		}
	}

	n := copy(wcs, c.ready)
	c.ready = c.ready[n:]
	return n, nil
}

func (c *CompletionQueue) post(p Posted) error {
	c.Lock()
	defer c.Unlock()

	if c.closed {
		return errors.Wrap(unix.EBADF, "completion queue closed")
	}
	if len(c.outstanding)+len(c.ready) >= c.size {
		c.overrun = true
	}
	c.outstanding = append(c.outstanding, p)
	return nil
}

// Close implements verbs.CompletionQueue.
func (c *CompletionQueue) Close() error {
	c.Lock()
	defer c.Unlock()

	c.closed = true
	return nil
}

// IsClosed returns true once Close has been called.
func (c *CompletionQueue) IsClosed() bool {
	c.Lock()
	defer c.Unlock()

	return c.closed
}

// QueuePair is a software queue pair. Work request limits from its QPCaps
// are enforced the way hardware does, by failing the post with ENOMEM.
type QueuePair struct {
	sync.Mutex
	cq       *CompletionQueue
	caps     verbs.QPCaps
	num      uint32
	psn      uint32
	sends    uint32
	recvs    uint32
	failNext syscall.Errno
	remote   *verbs.QueuePairSetup
	closed   bool
}

// Num implements verbs.QueuePair.
func (q *QueuePair) Num() uint32 {
	return q.num
}

// PSN implements verbs.QueuePair.
func (q *QueuePair) PSN() uint32 {
	return q.psn
}

// Remote returns the peer the queue pair was connected to, if any.
func (q *QueuePair) Remote() *verbs.QueuePairSetup {
	q.Lock()
	defer q.Unlock()

	return q.remote
}

// FailNextPost makes the next post on the queue pair fail with errno.
func (q *QueuePair) FailNextPost(errno syscall.Errno) {
	q.Lock()
	defer q.Unlock()

	q.failNext = errno
}

// Connect implements verbs.QueuePair.
func (q *QueuePair) Connect(local verbs.Address, remote verbs.QueuePairSetup) error {
	q.Lock()
	defer q.Unlock()

	if remote.QPNum == 0 {
		return errors.Wrap(unix.EINVAL, "remote queue pair number is zero")
	}
	q.remote = &remote
	return nil
}

func sgLen(sgl []verbs.SGE) (n uint32) {
	for _, sge := range sgl {
		n += sge.Length
	}
	return
}

func (q *QueuePair) reserve(recv bool) error {
	q.Lock()
	defer q.Unlock()

	if q.closed {
		return errors.Wrap(unix.EBADF, "queue pair closed")
	}
	if q.failNext != 0 {
		errno := q.failNext
		q.failNext = 0
		return errno
	}
	if recv {
		if q.recvs >= q.caps.MaxRecvWR {
			return unix.ENOMEM
		}
		q.recvs++
		return nil
	}
	if q.sends >= q.caps.MaxSendWR {
		return unix.ENOMEM
	}
	q.sends++
	return nil
}

func (q *QueuePair) release(recv bool) {
	q.Lock()
	defer q.Unlock()

	if recv {
		q.recvs--
		return
	}
	q.sends--
}

// PostSend implements verbs.QueuePair.
func (q *QueuePair) PostSend(wrID uint64, wr *verbs.SendWR) error {
	if err := q.reserve(false); err != nil {
		return err
	}
	err := q.cq.post(Posted{
		WRID:    wrID,
		QPNum:   q.num,
		Opcode:  wr.Opcode,
		ByteLen: sgLen(wr.SGList),
		qp:      q,
	})
	if err != nil {
		q.release(false)
	}
	return err
}

// PostRecv implements verbs.QueuePair.
func (q *QueuePair) PostRecv(wrID uint64, wr *verbs.RecvWR) error {
	if err := q.reserve(true); err != nil {
		return err
	}
	err := q.cq.post(Posted{
		WRID:    wrID,
		QPNum:   q.num,
		Recv:    true,
		ByteLen: sgLen(wr.SGList),
		qp:      q,
	})
	if err != nil {
		q.release(true)
	}
	return err
}

// Close implements verbs.QueuePair.
func (q *QueuePair) Close() error {
	q.Lock()
	defer q.Unlock()

	q.closed = true
	return nil
}

// IsClosed returns true once Close has been called.
func (q *QueuePair) IsClosed() bool {
	q.Lock()
	defer q.Unlock()

	return q.closed
}
