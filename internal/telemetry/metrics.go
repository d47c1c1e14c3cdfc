// Package telemetry registers the Prometheus metrics of the signing service
// against the default registry. They are served by the /metrics route.
//
// HTTP metrics use c.FullPath() as the path label so short ids and access
// keys never become label values.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// SignatureOperationsTotal counts state machine operations by outcome.
	// The outcome label is "success" or the stable error code.
	SignatureOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signature_operations_total",
			Help: "Signature request operations, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	AuditEventsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_appended_total",
			Help: "Audit ledger events appended, by event type.",
		},
		[]string{"event_type"},
	)

	AuditAppendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_append_failures_total",
			Help: "Audit ledger appends that failed and were logged instead of returned.",
		},
		[]string{"event_type"},
	)

	// IntegrityChecksTotal counts verifier runs; result is "valid" or "tampered"
	IntegrityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_checks_total",
			Help: "Audit trail integrity verifications, by result.",
		},
		[]string{"result"},
	)

	TSARequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsa_request_duration_seconds",
			Help:    "Latency of timestamp authority round trips, by outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Signing link notifications, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	ExpiredRequestsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expired_requests_swept_total",
			Help: "Pending signature requests removed by the expiry sweep.",
		},
	)
)

// BackgroundJobsTotal counts worker jobs; kind is "async" or "scheduled"
var BackgroundJobsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "background_jobs_total",
		Help: "Background worker jobs run, by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)
