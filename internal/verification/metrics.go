package verification

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification pipeline.
type Metrics struct {
	// Verdicts by outcome, jurisdiction and whether the default applied
	VerdictOutcome *prometheus.CounterVec

	// Requests rejected before evaluation, by failure kind
	Rejections *prometheus.CounterVec

	// End-to-end latency of Verify, resolution included
	VerifyLatency prometheus.Histogram

	// Credential checks by result ("valid" or the failure reason)
	CredentialChecks *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VerdictOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_verdicts_total",
			Help: "Verdicts issued by outcome and jurisdiction",
		}, []string{"outcome", "jurisdiction", "default"}),

		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_verification_rejections_total",
			Help: "Verification requests rejected by failure kind",
		}, []string{"kind"}),

		VerifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestor_verify_duration_seconds",
			Help:    "Duration of full verification including fact resolution",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		CredentialChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_credential_checks_total",
			Help: "Credential verifications by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) incrementOutcome(outcome, jurisdiction string, isDefault bool) {
	if m != nil {
		m.VerdictOutcome.WithLabelValues(outcome, jurisdiction, strconv.FormatBool(isDefault)).Inc()
	}
}

func (m *Metrics) incrementRejection(kind Kind) {
	if m != nil {
		m.Rejections.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) observeVerify(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) incrementCheck(result string) {
	if m != nil {
		m.CredentialChecks.WithLabelValues(result).Inc()
	}
}
