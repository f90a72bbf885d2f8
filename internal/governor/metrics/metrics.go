package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the submission governor.
type Metrics struct {
	// Rejections by gate ("quota" or "rate")
	Rejections *prometheus.CounterVec

	// Admitted submissions per window check
	Admitted prometheus.Counter
}

// New creates a new Metrics instance with all governor metrics registered.
func New() *Metrics {
	return &Metrics{
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contactguard_governor_rejections_total",
			Help: "Total submissions refused by gate",
		}, []string{"gate"}), // gate: "quota", "rate"

		Admitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contactguard_governor_admitted_total",
			Help: "Total submissions admitted through the rate window",
		}),
	}
}

// IncrementRejection records a refused submission.
func (m *Metrics) IncrementRejection(gate string) {
	if m != nil {
		m.Rejections.WithLabelValues(gate).Inc()
	}
}

// IncrementAdmitted records an admitted submission.
func (m *Metrics) IncrementAdmitted() {
	if m != nil {
		m.Admitted.Inc()
	}
}
