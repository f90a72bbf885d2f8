package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the free-text resolver.
type Metrics struct {
	// Resolution outcomes by path taken
	ResolveOutcome *prometheus.CounterVec

	// Overall resolution latency
	ResolveLatency prometheus.Histogram
}

// New creates a new Metrics instance with all resolver metrics registered.
func New() *Metrics {
	return &Metrics{
		ResolveOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contactguard_resolver_outcomes_total",
			Help: "Total resolution outcomes by path",
		}, []string{"path"}), // path: "registry_id", "equality", "fuzzy", "unrecognized", "rejected"

		ResolveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "contactguard_resolver_duration_seconds",
			Help:    "Duration of a full resolution including fuzzy fallback",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementOutcome records which path produced the resolution result.
func (m *Metrics) IncrementOutcome(path string) {
	if m != nil {
		m.ResolveOutcome.WithLabelValues(path).Inc()
	}
}

// ObserveResolveLatency records the total resolution duration.
func (m *Metrics) ObserveResolveLatency(d time.Duration) {
	if m != nil {
		m.ResolveLatency.Observe(d.Seconds())
	}
}
