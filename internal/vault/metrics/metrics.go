package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts vault crypto outcomes. A nil receiver is a no-op so tests
// can run without a registry.
type Metrics struct {
	DecryptFailures prometheus.Counter
}

// New creates a new Metrics instance with all vault metrics registered.
func New() *Metrics {
	return &Metrics{
		DecryptFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contactguard_vault_decrypt_failures_total",
			Help: "Stored values that failed authentication and degraded to absent",
		}),
	}
}

// IncrementDecryptFailure records one decryption failure.
func (m *Metrics) IncrementDecryptFailure() {
	if m != nil {
		m.DecryptFailures.Inc()
	}
}
