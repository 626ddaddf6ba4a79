//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package loopback

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/daos-stack/gdr/common/test"
	"github.com/daos-stack/gdr/lib/verbs"
)

type testRig struct {
	dev *Device
	pd  *ProtectionDomain
	cq  *CompletionQueue
	qp  *QueuePair
}

func newTestRig(t *testing.T, lib *Lib, caps verbs.QPCaps, cqSize int) *testRig {
	t.Helper()

	vdev, err := lib.OpenDevice("lo_0")
	if err != nil {
		t.Fatal(err)
	}
	vpd, err := vdev.AllocPD()
	if err != nil {
		t.Fatal(err)
	}
	vcq, err := vdev.CreateCQ(cqSize)
	if err != nil {
		t.Fatal(err)
	}
	vqp, err := vpd.CreateQueuePair(vcq, caps)
	if err != nil {
		t.Fatal(err)
	}

	return &testRig{
		dev: vdev.(*Device),
		pd:  vpd.(*ProtectionDomain),
		cq:  vcq.(*CompletionQueue),
		qp:  vqp.(*QueuePair),
	}
}

func poll(t *testing.T, cq verbs.CompletionQueue) []verbs.WorkCompletion {
	t.Helper()

	wcs := make([]verbs.WorkCompletion, 16)
	n, err := cq.Poll(wcs)
	if err != nil {
		t.Fatal(err)
	}
	return wcs[:n]
}

func TestLoopback_Devices(t *testing.T) {
	for name, tc := range map[string]struct {
		opts     []Option
		expNames []string
	}{
		"default": {
			expNames: []string{"lo_0"},
		},
		"several": {
			opts:     []Option{WithDevices("mlx5_0", "mlx5_1")},
			expNames: []string{"mlx5_0", "mlx5_1"},
		},
		"none": {
			opts:     []Option{WithDevices()},
			expNames: []string{},
		},
	} {
		t.Run(name, func(t *testing.T) {
			lib := NewLib(tc.opts...)

			infos, err := lib.Devices()
			if err != nil {
				t.Fatal(err)
			}
			names := []string{}
			for _, info := range infos {
				names = append(names, info.Name)
			}
			if diff := cmp.Diff(tc.expNames, names); diff != "" {
				t.Fatalf("unexpected devices (-want, +got):\n%s\n", diff)
			}
		})
	}
}

func TestLoopback_OpenDevice(t *testing.T) {
	openErr := errors.New("open failed")
	lib := NewLib(WithDevices("lo_0", "lo_1"), WithOpenError("lo_1", openErr))

	dev, err := lib.OpenDevice("lo_0")
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, lib.Opened("lo_0"), dev.(*Device), "opened device")

	_, err = lib.OpenDevice("lo_1")
	test.CmpErr(t, openErr, err)

	_, err = lib.OpenDevice("missing")
	test.CmpErr(t, unix.ENODEV, err)

	test.CmpErr(t, nil, dev.Close())
	test.CmpErr(t, unix.EBADF, dev.Close())
}

func TestLoopback_QueryAddress(t *testing.T) {
	lib := NewLib(WithDevices("lo_0", "lo_1"))
	dev, err := lib.OpenDevice("lo_1")
	if err != nil {
		t.Fatal(err)
	}

	addr, err := dev.QueryAddress(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, uint16(2), addr.LID, "lid")
	test.AssertEqual(t, uint8(3), addr.GIDIndex, "gid index")
	test.AssertEqual(t, byte(2), addr.GID[15], "gid suffix")
}

func TestLoopback_RegisterMemory(t *testing.T) {
	rig := newTestRig(t, NewLib(), verbs.QPCaps{MaxSendWR: 1, MaxRecvWR: 1}, 2)

	mr, err := rig.pd.RegisterMemory(0x1000, 4096, verbs.AccessLocalWrite|verbs.AccessRemoteRead)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, uintptr(0x1000), mr.Addr(), "addr")
	test.AssertEqual(t, uint64(4096), mr.Length(), "length")
	test.AssertTrue(t, mr.LKey() != mr.RKey(), "lkey and rkey should differ")
	test.AssertEqual(t, 1, rig.pd.NumRegistrations(), "registrations")

	regErr := errors.New("pin failed")
	rig.pd.FailNextRegistration(regErr)
	_, err = rig.pd.RegisterMemory(0x2000, 4096, verbs.AccessLocalWrite)
	test.CmpErr(t, regErr, err)
	test.AssertEqual(t, 1, rig.pd.NumRegistrations(), "registrations after failure")

	_, err = rig.pd.RegisterMemory(0x2000, 0, verbs.AccessLocalWrite)
	test.CmpErr(t, unix.EINVAL, err)

	test.CmpErr(t, unix.EBUSY, rig.pd.Close())
	test.CmpErr(t, nil, mr.Deregister())
	test.CmpErr(t, unix.EINVAL, mr.Deregister())
	test.AssertEqual(t, 0, rig.pd.NumLiveRegions(), "live regions")
	test.CmpErr(t, nil, rig.pd.Close())
	test.AssertTrue(t, rig.pd.IsClosed(), "pd closed")
}

func TestLoopback_PostAndComplete(t *testing.T) {
	rig := newTestRig(t, NewLib(), verbs.QPCaps{MaxSendWR: 2, MaxRecvWR: 1}, 3)
	sgl := []verbs.SGE{{Addr: 0x1000, Length: 64, LKey: 1}}

	if err := rig.qp.PostSend(1, &verbs.SendWR{Opcode: verbs.OpSend, SGList: sgl}); err != nil {
		t.Fatal(err)
	}
	if err := rig.qp.PostSend(2, &verbs.SendWR{Opcode: verbs.OpRDMAWrite, SGList: sgl}); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, unix.ENOMEM, rig.qp.PostSend(3, &verbs.SendWR{SGList: sgl}))
	if err := rig.qp.PostRecv(4, &verbs.RecvWR{SGList: sgl}); err != nil {
		t.Fatal(err)
	}
	test.CmpErr(t, unix.ENOMEM, rig.qp.PostRecv(5, &verbs.RecvWR{SGList: sgl}))

	expPosted := []Posted{
		{WRID: 1, QPNum: rig.qp.Num(), Opcode: verbs.OpSend, ByteLen: 64},
		{WRID: 2, QPNum: rig.qp.Num(), Opcode: verbs.OpRDMAWrite, ByteLen: 64},
		{WRID: 4, QPNum: rig.qp.Num(), Recv: true, ByteLen: 64},
	}
	if diff := cmp.Diff(expPosted, rig.cq.Outstanding(), cmpopts.IgnoreUnexported(Posted{})); diff != "" {
		t.Fatalf("unexpected outstanding (-want, +got):\n%s\n", diff)
	}

	test.AssertEqual(t, 0, len(poll(t, rig.cq)), "nothing completed yet")

	if err := rig.cq.Complete(2, verbs.WCRemAccessErr); err != nil {
		t.Fatal(err)
	}
	wrID, err := rig.cq.CompleteNext(verbs.WCSuccess)
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, uint64(1), wrID, "oldest outstanding")

	expWCs := []verbs.WorkCompletion{
		{WRID: 2, Status: verbs.WCRemAccessErr, QPNum: rig.qp.Num()},
		{WRID: 1, Status: verbs.WCSuccess, ByteLen: 64, QPNum: rig.qp.Num()},
	}
	if diff := cmp.Diff(expWCs, poll(t, rig.cq)); diff != "" {
		t.Fatalf("unexpected completions (-want, +got):\n%s\n", diff)
	}

	// completion released the send capacity
	if err := rig.qp.PostSend(6, &verbs.SendWR{SGList: sgl}); err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 2, rig.cq.CompleteAll(verbs.WCSuccess), "completed")
	test.AssertEqual(t, 2, len(poll(t, rig.cq)), "polled")

	test.CmpErr(t, errors.New("not outstanding"), rig.cq.Complete(42, verbs.WCSuccess))
	_, err = rig.cq.CompleteNext(verbs.WCSuccess)
	test.CmpErr(t, errors.New("no outstanding"), err)
}

func TestLoopback_FailNextPost(t *testing.T) {
	rig := newTestRig(t, NewLib(), verbs.QPCaps{MaxSendWR: 1, MaxRecvWR: 1}, 2)

	rig.qp.FailNextPost(unix.EAGAIN)
	err := rig.qp.PostSend(1, &verbs.SendWR{})
	errno, ok := verbs.Errno(err)
	test.AssertTrue(t, ok, "expected errno")
	test.AssertEqual(t, unix.EAGAIN, errno, "")

	// failed post must not consume capacity
	test.CmpErr(t, nil, rig.qp.PostSend(2, &verbs.SendWR{}))
}

func TestLoopback_Overrun(t *testing.T) {
	rig := newTestRig(t, NewLib(), verbs.QPCaps{MaxSendWR: 4, MaxRecvWR: 4}, 1)

	test.CmpErr(t, nil, rig.qp.PostSend(1, &verbs.SendWR{}))
	test.CmpErr(t, nil, rig.qp.PostSend(2, &verbs.SendWR{}))

	_, err := rig.cq.Poll(make([]verbs.WorkCompletion, 4))
	test.CmpErr(t, unix.EOVERFLOW, err)
}

func TestLoopback_AutoComplete(t *testing.T) {
	rig := newTestRig(t, NewLib(WithAutoComplete()), verbs.QPCaps{MaxSendWR: 2, MaxRecvWR: 2}, 4)

	test.CmpErr(t, nil, rig.qp.PostRecv(1, &verbs.RecvWR{}))
	test.CmpErr(t, nil, rig.qp.PostSend(2, &verbs.SendWR{}))

	wcs := poll(t, rig.cq)
	test.AssertEqual(t, 2, len(wcs), "completions")
	test.AssertEqual(t, uint64(1), wcs[0].WRID, "first completion")
	test.AssertEqual(t, 0, rig.cq.NumOutstanding(), "outstanding")
	test.AssertEqual(t, 1, rig.cq.NumPolls(), "polls")
}

func TestLoopback_Connect(t *testing.T) {
	rig := newTestRig(t, NewLib(), verbs.QPCaps{MaxSendWR: 1, MaxRecvWR: 1}, 2)
	addr, err := rig.dev.QueryAddress(1, 0)
	if err != nil {
		t.Fatal(err)
	}

	test.CmpErr(t, unix.EINVAL, rig.qp.Connect(addr, verbs.QueuePairSetup{}))

	remote := verbs.Setup(addr, rig.qp)
	test.CmpErr(t, nil, rig.qp.Connect(addr, remote))
	if diff := cmp.Diff(&remote, rig.qp.Remote()); diff != "" {
		t.Fatalf("unexpected remote (-want, +got):\n%s\n", diff)
	}
}
