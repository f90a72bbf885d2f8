package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks watermark issuance. A nil receiver is a no-op so tests can
// run without a registry.
type Metrics struct {
	Issued *prometheus.CounterVec
}

// New creates a new Metrics instance with all canary metrics registered.
func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contactguard_canary_issued_total",
			Help: "Watermark issuance calls by result",
		}, []string{"result"}), // result: "issued", "reused"
	}
}

// IncrementIssued records one issuance call outcome.
func (m *Metrics) IncrementIssued(result string) {
	if m != nil {
		m.Issued.WithLabelValues(result).Inc()
	}
}
