//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cudagdr

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/daos-stack/gdr/common/test"
	"github.com/daos-stack/gdr/lib/cuda"
	"github.com/daos-stack/gdr/lib/verbs"
	"github.com/daos-stack/gdr/lib/verbs/loopback"
	"github.com/daos-stack/gdr/logging"
)

func findFamily(t *testing.T, reg prometheus.Gatherer, name string) *dto.MetricFamily {
	t.Helper()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestMetrics_Slots(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	reg := prometheus.NewPedanticRegistry()
	c := newTestContext(t, log, loopback.NewLib(), nil, WithRegisterer(reg),
		WithNumSends(2), WithNumRecvs(1))
	defer joinTestContext(t, c)

	a, qp := testQueuePair(t, c, 0)
	for tag := 1; tag <= 3; tag++ {
		a.PostSend(qp, taggedSend(tag), nil)
	}
	a.PostRecv(qp, taggedRecv(1), nil)

	m := c.metrics
	test.AssertEqual(t, 2.0, testutil.ToFloat64(m.sendSlots.WithLabelValues("lo_0")), "send slots")
	test.AssertEqual(t, 1.0, testutil.ToFloat64(m.recvSlots.WithLabelValues("lo_0")), "recv slots")
	test.AssertEqual(t, 1.0, testutil.ToFloat64(m.waiting.WithLabelValues("lo_0", "send")), "waiting sends")
	test.AssertEqual(t, 0.0, testutil.ToFloat64(m.waiting.WithLabelValues("lo_0", "recv")), "waiting recvs")

	cq := testCQ(t, c, 0)
	if _, err := cq.CompleteNext(verbs.WCSuccess); err != nil {
		t.Fatal(err)
	}
	if _, err := cq.CompleteNext(verbs.WCRemAccessErr); err != nil {
		t.Fatal(err)
	}
	step(c, 1)

	test.AssertEqual(t, 0.0, testutil.ToFloat64(m.waiting.WithLabelValues("lo_0", "send")), "waiting sends")

	mf := findFamily(t, reg, "gdr_adapter_completions_total")
	got := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		test.AssertEqual(t, "test", labelValue(metric, "context"), "context label")
		got[labelValue(metric, "status")] = metric.GetCounter().GetValue()
	}
	want := map[string]float64{
		"success":             1,
		"remote access error": 1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected completions (-want, +got):\n%s\n", diff)
	}
}

func TestMetrics_RegionsAndEvents(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	reg := prometheus.NewPedanticRegistry()
	lib := loopback.NewLib(loopback.WithDevices("mlx5_0", "mlx5_1"))
	c := newTestContext(t, log, lib, nil, WithRegisterer(reg))
	defer joinTestContext(t, c)

	for _, ptr := range []uintptr{0x1000, 0x2000, 0x1000} {
		if _, err := c.RegisterMemory(1, cuda.Buffer{Ptr: ptr, Length: 512}); err != nil {
			t.Fatal(err)
		}
	}
	events := []*cuda.MockEvent{cuda.NewMockEvent(), cuda.NewMockEvent()}
	defer func() {
		for _, ev := range events {
			ev.Complete()
		}
	}()
	for _, ev := range events {
		c.WaitForCudaEvent(ev, nil)
	}
	step(c, 1)

	mf := findFamily(t, reg, "gdr_adapter_memory_regions")
	got := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		got[labelValue(metric, "adapter")] = metric.GetGauge().GetValue()
	}
	if diff := cmp.Diff(map[string]float64{"mlx5_0": 0, "mlx5_1": 2}, got); diff != "" {
		t.Fatalf("unexpected regions (-want, +got):\n%s\n", diff)
	}

	exp := `
# HELP gdr_pending_cuda_events Number of CUDA events waited on.
# TYPE gdr_pending_cuda_events gauge
gdr_pending_cuda_events{context="test"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(exp), "gdr_pending_cuda_events"); err != nil {
		t.Fatal(err)
	}
}

func TestMetrics_Register(t *testing.T) {
	log, buf := logging.NewTestLogger(t.Name())
	defer test.ShowBufferOnFailure(t, buf)

	reg := prometheus.NewRegistry()
	c1 := newTestContext(t, log, loopback.NewLib(), nil, WithRegisterer(reg))

	// a second context with the same id collides
	_, err := newContext(log, nil, WithLoader(loopback.NewLib().Loader()), WithID("test"),
		WithRegisterer(reg))
	test.CmpErr(t, errors.New("registering metrics"), err)

	c2 := newTestContext(t, log, loopback.NewLib(), nil, WithRegisterer(reg), WithID("other"))

	mf := findFamily(t, reg, "gdr_pending_cuda_events")
	ids := []string{}
	for _, metric := range mf.GetMetric() {
		ids = append(ids, labelValue(metric, "context"))
	}
	sort.Strings(ids)
	if diff := cmp.Diff([]string{"other", "test"}, ids); diff != "" {
		t.Fatalf("unexpected contexts (-want, +got):\n%s\n", diff)
	}

	if err := c1.Join(); err != nil {
		t.Fatal(err)
	}
	if err := c2.Join(); err != nil {
		t.Fatal(err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	test.AssertEqual(t, 0, len(mfs), "metrics unregistered")
}
