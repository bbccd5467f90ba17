// Package metrics provides observability for the issuance pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the issuance services
type Metrics struct {
	// Jobs consumed by type and final status
	JobsProcessed *prometheus.CounterVec

	// Individual credential items by outcome
	ItemsProcessed *prometheus.CounterVec

	// Anchor attempts by ledger and outcome
	AnchorAttempts *prometheus.CounterVec

	// End-to-end batch processing latency
	JobDuration *prometheus.HistogramVec

	// Ledger gateway call latency by ledger and operation
	LedgerLatency *prometheus.HistogramVec

	// Jobs currently being processed
	JobsInFlight prometheus.Gauge
}

// New creates a new Metrics instance with all pipeline metrics registered
func New() *Metrics {
	return &Metrics{
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "issuance_jobs_processed_total",
			Help: "Total jobs processed by type and final status",
		}, []string{"job_type", "status"}),

		ItemsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "issuance_items_processed_total",
			Help: "Total credential items processed by outcome",
		}, []string{"outcome"}), // outcome: "issued", "skipped", "failed"

		AnchorAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "issuance_anchor_attempts_total",
			Help: "Total anchor attempts by ledger and outcome",
		}, []string{"ledger", "outcome"}), // outcome: "confirmed", "failed", "exhausted"

		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "issuance_job_duration_seconds",
			Help:    "Duration of job processing by job type",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"job_type"}),

		LedgerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "issuance_ledger_call_duration_seconds",
			Help:    "Duration of ledger gateway calls by ledger and operation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"ledger", "operation"}), // operation: "mint", "transfer", "anchor"

		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "issuance_jobs_in_flight",
			Help: "Number of jobs currently being processed",
		}),
	}
}

// ObserveJob records one finished job
func (m *Metrics) ObserveJob(jobType, status string, d time.Duration) {
	if m != nil {
		m.JobsProcessed.WithLabelValues(jobType, status).Inc()
		m.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
	}
}

// ObserveItem records one processed credential item
func (m *Metrics) ObserveItem(outcome string) {
	if m != nil {
		m.ItemsProcessed.WithLabelValues(outcome).Inc()
	}
}

// ObserveAnchor records one anchor attempt
func (m *Metrics) ObserveAnchor(ledger, outcome string) {
	if m != nil {
		m.AnchorAttempts.WithLabelValues(ledger, outcome).Inc()
	}
}

// ObserveLedgerCall records the latency of a gateway call
func (m *Metrics) ObserveLedgerCall(ledger, operation string, d time.Duration) {
	if m != nil {
		m.LedgerLatency.WithLabelValues(ledger, operation).Observe(d.Seconds())
	}
}
