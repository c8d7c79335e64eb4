package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit delivery.
type Metrics struct {
	Emitted      prometheus.Counter
	Dropped      prometheus.Counter
	SinkFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounter(prometheus.CounterOpts{
			Name: "attestor_audit_events_emitted_total",
			Help: "Audit events accepted by the publisher",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "attestor_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
		SinkFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "attestor_audit_sink_failures_total",
			Help: "Audit batches a sink failed to write",
		}),
	}
}

func (m *Metrics) incEmitted() {
	if m != nil {
		m.Emitted.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) incSinkFailures() {
	if m != nil {
		m.SinkFailures.Inc()
	}
}
