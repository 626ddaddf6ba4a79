//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cuda

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/daos-stack/gdr/common/test"
	"github.com/daos-stack/gdr/fault"
	"github.com/daos-stack/gdr/fault/code"
)

func TestCuda_Buffer_String(t *testing.T) {
	for name, tc := range map[string]struct {
		buf    Buffer
		expStr string
		expOn  bool
	}{
		"device": {
			buf:    Buffer{Ptr: 0x7f0000001000, Length: 4096, DeviceIdx: 1},
			expStr: "gpu1:0x7f0000001000[4096]",
		},
		"host": {
			buf:    Buffer{Ptr: 0x1000, Length: 8, DeviceIdx: -1},
			expStr: "host:0x1000[8]",
			expOn:  true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			test.AssertEqual(t, tc.expStr, tc.buf.String(), "")
			test.AssertEqual(t, tc.expOn, tc.buf.OnHost(), "")
		})
	}
}

func TestCuda_MockEvent(t *testing.T) {
	ev := NewMockEvent()

	done, err := ev.Query()
	test.CmpErr(t, nil, err)
	test.AssertFalse(t, done, "should not be done")

	ev.Complete()
	done, err = ev.Query()
	test.CmpErr(t, nil, err)
	test.AssertTrue(t, done, "should be done")

	queryErr := errors.New("illegal address")
	ev.Fail(queryErr)
	_, err = ev.Query()
	test.CmpErr(t, queryErr, err)

	test.AssertEqual(t, 3, ev.Queries(), "queries")
}

func TestCuda_MockLib(t *testing.T) {
	for name, tc := range map[string]struct {
		cfg       *MockLibConfig
		expCount  int
		expErr    error
		expBusID  string
		expDone   bool
		expRecErr error
	}{
		"nil config": {},
		"two devices": {
			cfg: &MockLibConfig{
				BusIDs:       []string{"0000:3b:00.0", "0000:86:00.0"},
				AutoComplete: true,
			},
			expCount: 2,
			expBusID: "0000:86:00.0",
			expDone:  true,
		},
		"count failure": {
			cfg:    &MockLibConfig{CountErr: errors.New("no driver")},
			expErr: errors.New("no driver"),
		},
		"record failure": {
			cfg:       &MockLibConfig{RecordErr: errors.New("bad stream")},
			expRecErr: errors.New("bad stream"),
		},
	} {
		t.Run(name, func(t *testing.T) {
			lib := NewMockLib(tc.cfg)

			count, err := lib.DeviceCount()
			test.CmpErr(t, tc.expErr, err)
			test.AssertEqual(t, tc.expCount, count, "device count")

			if tc.expBusID != "" {
				busID, err := lib.PCIBusID(count - 1)
				test.CmpErr(t, nil, err)
				test.AssertEqual(t, tc.expBusID, busID, "bus id")
			}
			_, err = lib.PCIBusID(count)
			test.CmpErr(t, errors.New("invalid device ordinal"), err)

			ev, err := lib.RecordEvent(0, 0)
			test.CmpErr(t, tc.expRecErr, err)
			if tc.expRecErr != nil {
				return
			}
			done, err := ev.Query()
			test.CmpErr(t, nil, err)
			test.AssertEqual(t, tc.expDone, done, "event done")
			test.AssertEqual(t, 1, len(lib.Events()), "recorded events")
		})
	}
}

func TestCuda_FaultEventQuery(t *testing.T) {
	f := FaultEventQuery(errors.New("launch failure"))
	test.AssertTrue(t, fault.HasCode(f, code.CudaEventFailed), "expected event fault code")
	test.AssertEqual(t, "CUDA event query failed: launch failure", f.Description, "")
}
