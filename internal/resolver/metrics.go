package resolver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"attestor/pkg/platform/circuit"
)

// Metrics provides observability for fact resolution.
type Metrics struct {
	// Connector call latency by connector, attempts included
	CallLatency *prometheus.HistogramVec

	// Connector call outcomes by connector and category ("ok" on success)
	CallOutcome *prometheus.CounterVec

	// Current breaker state per connector: 0 closed, 1 open, 2 half-open
	BreakerState *prometheus.GaugeVec

	// Breaker transitions by connector and target state
	BreakerTransitions *prometheus.CounterVec

	// Resolutions cut short by the request deadline
	ResolutionTimeouts prometheus.Counter
}

// NewMetrics registers resolver metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attestor_connector_call_duration_seconds",
			Help:    "Duration of connector calls including retries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"connector"}),

		CallOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_connector_calls_total",
			Help: "Connector calls by outcome category",
		}, []string{"connector", "outcome"}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "attestor_connector_breaker_state",
			Help: "Circuit breaker state per connector (0 closed, 1 open, 2 half-open)",
		}, []string{"connector"}),

		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_connector_breaker_transitions_total",
			Help: "Circuit breaker transitions per connector by target state",
		}, []string{"connector", "to"}),

		ResolutionTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "attestor_resolution_timeouts_total",
			Help: "Fact resolutions that hit the request deadline",
		}),
	}
}

func (m *Metrics) observeCall(connectorName, outcome string, d time.Duration) {
	if m != nil {
		m.CallLatency.WithLabelValues(connectorName).Observe(d.Seconds())
		m.CallOutcome.WithLabelValues(connectorName, outcome).Inc()
	}
}

func (m *Metrics) observeBreaker(connectorName string, to circuit.State) {
	if m != nil {
		m.BreakerState.WithLabelValues(connectorName).Set(float64(to))
		m.BreakerTransitions.WithLabelValues(connectorName, to.String()).Inc()
	}
}

func (m *Metrics) incrementTimeouts() {
	if m != nil {
		m.ResolutionTimeouts.Inc()
	}
}
