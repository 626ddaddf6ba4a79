//
// (C) Copyright 2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package cudagdr

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gdr"

type metrics struct {
	sendSlots     *prometheus.GaugeVec
	recvSlots     *prometheus.GaugeVec
	waiting       *prometheus.GaugeVec
	regions       *prometheus.GaugeVec
	completions   *prometheus.CounterVec
	pendingEvents prometheus.Gauge
}

func newMetrics(ctxID string) *metrics {
	constLabels := prometheus.Labels{"context": ctxID}

	return &metrics{
		sendSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "adapter",
			Name:        "send_slots_in_use",
			Help:        "Number of sends posted to the adapter.",
			ConstLabels: constLabels,
		}, []string{"adapter"}),
		recvSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "adapter",
			Name:        "recv_slots_in_use",
			Help:        "Number of receives posted to the adapter.",
			ConstLabels: constLabels,
		}, []string{"adapter"}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "adapter",
			Name:        "waiting_requests",
			Help:        "Number of requests queued for a free slot.",
			ConstLabels: constLabels,
		}, []string{"adapter", "kind"}),
		regions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "adapter",
			Name:        "memory_regions",
			Help:        "Number of cached memory registrations.",
			ConstLabels: constLabels,
		}, []string{"adapter"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "adapter",
			Name:        "completions_total",
			Help:        "Number of work completions processed.",
			ConstLabels: constLabels,
		}, []string{"adapter", "status"}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "pending_cuda_events",
			Help:        "Number of CUDA events waited on.",
			ConstLabels: constLabels,
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sendSlots,
		m.recvSlots,
		m.waiting,
		m.regions,
		m.completions,
		m.pendingEvents,
	}
}

func (m *metrics) register(r prometheus.Registerer) error {
	if r == nil {
		return nil
	}

	registered := make([]prometheus.Collector, 0, len(m.collectors()))
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			for _, rc := range registered {
				r.Unregister(rc)
			}
			return errors.Wrap(err, "registering metrics")
		}
		registered = append(registered, c)
	}
	return nil
}

func (m *metrics) unregister(r prometheus.Registerer) {
	if r == nil {
		return
	}
	for _, c := range m.collectors() {
		r.Unregister(c)
	}
}

// adapterMetrics are the metrics of one adapter.
type adapterMetrics struct {
	sendSlots    prometheus.Gauge
	recvSlots    prometheus.Gauge
	waitingSends prometheus.Gauge
	waitingRecvs prometheus.Gauge
	regions      prometheus.Gauge
	completions  *prometheus.CounterVec
}

func (m *metrics) forAdapter(name string) *adapterMetrics {
	return &adapterMetrics{
		sendSlots:    m.sendSlots.WithLabelValues(name),
		recvSlots:    m.recvSlots.WithLabelValues(name),
		waitingSends: m.waiting.WithLabelValues(name, kindSend.String()),
		waitingRecvs: m.waiting.WithLabelValues(name, kindRecv.String()),
		regions:      m.regions.WithLabelValues(name),
		completions:  m.completions.MustCurryWith(prometheus.Labels{"adapter": name}),
	}
}
