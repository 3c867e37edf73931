// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Admission metrics
	AdmissionDecisions *prometheus.CounterVec
	EmergencyApprovals prometheus.Counter
	DayTradesUsed      prometheus.Gauge
	DayTradesRemaining prometheus.Gauge

	// Allocation metrics
	BatchRunsTotal     prometheus.Counter
	BatchApprovals     prometheus.Counter
	BatchRejections    *prometheus.CounterVec
	PendingAllocations prometheus.Gauge

	// Event bus metrics
	EventsPublished *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec

	// Persistence metrics
	WriteErrors    *prometheus.CounterVec
	WriteDuration  *prometheus.HistogramVec
	SchemaDegraded prometheus.Gauge
	Revalidations  *prometheus.CounterVec
	NotifyFailures prometheus.Counter

	// Health metrics
	LastSuccessfulWrite prometheus.Gauge
	LastBatchRun        prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "daytrade_core"
	}

	return &Metrics{
		// Admission metrics
		AdmissionDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Total number of admission decisions by verdict",
		}, []string{"verdict"}),
		EmergencyApprovals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "emergency_approvals_total",
			Help:      "Total number of emergency stop-loss exits approved",
		}),
		DayTradesUsed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "day_trades_used",
			Help:      "Day trades consumed in the current rolling week",
		}),
		DayTradesRemaining: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "day_trades_remaining",
			Help:      "Day trade slots remaining in the current rolling week",
		}),

		// Allocation metrics
		BatchRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "batch_runs_total",
			Help:      "Total number of weekly batch allocation runs",
		}),
		BatchApprovals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "batch_approvals_total",
			Help:      "Total number of requests approved by batch allocation",
		}),
		BatchRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "batch_rejections_total",
			Help:      "Total number of requests rejected by batch allocation",
		}, []string{"reason"}),
		PendingAllocations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "pending_requests",
			Help:      "Current number of requests queued for batch allocation",
		}),

		// Event bus metrics
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published by topic",
		}, []string{"topic"}),
		HandlerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "handler_errors_total",
			Help:      "Total number of event handler errors by topic",
		}, []string{"topic"}),

		// Persistence metrics
		WriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_errors_total",
			Help:      "Total number of write errors by error class",
		}, []string{"kind"}),
		WriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_duration_seconds",
			Help:      "Write operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		SchemaDegraded: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "schema_degraded",
			Help:      "1 when the store is running with a schema mismatch, 0 otherwise",
		}),
		Revalidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "schema_revalidations_total",
			Help:      "Total number of schema revalidation attempts by outcome",
		}, []string{"outcome"}),
		NotifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "notify_failures_total",
			Help:      "Total number of failed pg_notify publications",
		}),

		// Health metrics
		LastSuccessfulWrite: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_write_timestamp",
			Help:      "Unix timestamp of last successful database write",
		}),
		LastBatchRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_batch_run_timestamp",
			Help:      "Unix timestamp of last weekly batch allocation run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordDecision increments the admission decision counter.
func RecordDecision(verdict string) {
	DefaultMetrics.AdmissionDecisions.WithLabelValues(verdict).Inc()
}

// RecordEmergencyApproval increments the emergency approval counter.
func RecordEmergencyApproval() {
	DefaultMetrics.EmergencyApprovals.Inc()
	DefaultMetrics.AdmissionDecisions.WithLabelValues("emergency").Inc()
}

// UpdateSlotUsage updates the week slot usage gauges.
func UpdateSlotUsage(used, remaining int) {
	DefaultMetrics.DayTradesUsed.Set(float64(used))
	DefaultMetrics.DayTradesRemaining.Set(float64(remaining))
}

// RecordBatchRun records a weekly batch allocation run.
func RecordBatchRun(approved, rejected int) {
	DefaultMetrics.BatchRunsTotal.Inc()
	DefaultMetrics.BatchApprovals.Add(float64(approved))
	if rejected > 0 {
		DefaultMetrics.BatchRejections.WithLabelValues("not_in_top_n").Add(float64(rejected))
	}
}

// UpdatePendingAllocations updates the pending queue gauge.
func UpdatePendingAllocations(n int) {
	DefaultMetrics.PendingAllocations.Set(float64(n))
}

// RecordEventPublished increments the published-events counter.
func RecordEventPublished(topic string) {
	DefaultMetrics.EventsPublished.WithLabelValues(topic).Inc()
}

// RecordHandlerError increments the handler error counter.
func RecordHandlerError(topic string) {
	DefaultMetrics.HandlerErrors.WithLabelValues(topic).Inc()
}

// RecordWriteError records a classified write error.
func RecordWriteError(kind string) {
	DefaultMetrics.WriteErrors.WithLabelValues(kind).Inc()
}

// RecordWrite records write latency and health.
func RecordWrite(operation string, seconds float64, err error) {
	DefaultMetrics.WriteDuration.WithLabelValues(operation).Observe(seconds)
	if err == nil {
		DefaultMetrics.LastSuccessfulWrite.SetToCurrentTime()
	}
}

// SetSchemaDegraded updates the degraded-mode gauge.
func SetSchemaDegraded(degraded bool) {
	if degraded {
		DefaultMetrics.SchemaDegraded.Set(1)
	} else {
		DefaultMetrics.SchemaDegraded.Set(0)
	}
}

// RecordRevalidation records a schema revalidation attempt.
func RecordRevalidation(outcome string) {
	DefaultMetrics.Revalidations.WithLabelValues(outcome).Inc()
}
