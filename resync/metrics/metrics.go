// Package metrics is the default Metrics sink for the resync engine,
// backed by prometheus/client_golang (spec §6).
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maxjustus/garage/resync"
)

// Prometheus implements resync.Metrics. Its metrics are registered, under
// their fixed names, on whatever Registerer is passed to NewPrometheus.
type Prometheus struct {
	resyncCounter      prometheus.Counter
	resyncErrorCounter prometheus.Counter
	resyncRecvCounter  prometheus.Counter
	resyncSendCounter  *prometheus.CounterVec
	resyncDuration     prometheus.Histogram
}

// NewPrometheus registers the resync metric family on reg and returns a
// resync.Metrics implementation backed by it.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		resyncCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resync_counter",
			Help: "Number of resync iterations that invoked resync_block.",
		}),
		resyncErrorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resync_error_counter",
			Help: "Number of resync_block invocations that failed.",
		}),
		resyncRecvCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resync_recv_counter",
			Help: "Number of blocks fetched from a peer during resync.",
		}),
		resyncSendCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resync_send_counter",
			Help: "Number of blocks offloaded to a peer during resync, by destination node.",
		}, []string{"to"}),
		resyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resync_duration",
			Help:    "Duration of resync_block invocations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(p.resyncCounter, p.resyncErrorCounter, p.resyncRecvCounter, p.resyncSendCounter, p.resyncDuration)
	return p
}

var _ resync.Metrics = (*Prometheus)(nil)

func (p *Prometheus) IncResyncCounter()      { p.resyncCounter.Inc() }
func (p *Prometheus) IncResyncErrorCounter() { p.resyncErrorCounter.Inc() }
func (p *Prometheus) IncResyncRecvCounter()  { p.resyncRecvCounter.Inc() }

func (p *Prometheus) IncResyncSendCounter(to resync.NodeID) {
	p.resyncSendCounter.WithLabelValues(string(to)).Inc()
}

func (p *Prometheus) ObserveResyncDuration(d time.Duration) {
	p.resyncDuration.Observe(d.Seconds())
}
