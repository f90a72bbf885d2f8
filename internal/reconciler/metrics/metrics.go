package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the contact reconciler.
type Metrics struct {
	// Reconcile outcomes
	Outcomes *prometheus.CounterVec

	// Full reconcile latency including the transaction
	ReconcileLatency prometheus.Histogram

	// Bulk loader row outcomes by mode and result
	BulkRows *prometheus.CounterVec
}

// New creates a new Metrics instance with all reconciler metrics registered.
func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contactguard_reconcile_outcomes_total",
			Help: "Total reconcile outcomes by result",
		}, []string{"outcome"}), // outcome: "created", "enriched", "confirmed", "collision", "quota", "locked", "rejected"

		ReconcileLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "contactguard_reconcile_duration_seconds",
			Help:    "Duration of a full reconcile transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		BulkRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contactguard_bulk_rows_total",
			Help: "Total bulk loader rows by mode and result",
		}, []string{"mode", "result"}), // mode: "full", "contacts_only"; result: "accepted", "rejected"
	}
}

// IncrementOutcome records one reconcile result.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveReconcileLatency records the duration of a reconcile.
func (m *Metrics) ObserveReconcileLatency(d time.Duration) {
	if m != nil {
		m.ReconcileLatency.Observe(d.Seconds())
	}
}

// IncrementBulkRow records one bulk loader row result.
func (m *Metrics) IncrementBulkRow(mode, result string) {
	if m != nil {
		m.BulkRows.WithLabelValues(mode, result).Inc()
	}
}
