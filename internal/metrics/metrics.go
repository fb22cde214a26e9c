// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fincomply",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fincomply",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// Message submissions by outcome (ok, or the error kind)
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fincomply",
			Subsystem: "orchestrator",
			Name:      "submissions_total",
			Help:      "Total message submissions by outcome",
		},
		[]string{"outcome"},
	)

	ThreadsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fincomply",
			Subsystem: "orchestrator",
			Name:      "threads_created_total",
			Help:      "Total threads created by mode",
		},
		[]string{"mode"},
	)

	// Upstream RAG calls
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fincomply",
			Subsystem: "rag",
			Name:      "call_duration_seconds",
			Help:      "RAG service call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation", "status"},
	)

	FeedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fincomply",
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Open thread feed WebSocket connections",
		},
	)
)

// RecordRequest records an HTTP request.
func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

// RecordSubmission records the outcome of a message submission.
func RecordSubmission(outcome string) {
	SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordThreadCreated records a new thread.
func RecordThreadCreated(mode string) {
	ThreadsCreatedTotal.WithLabelValues(mode).Inc()
}

// RecordUpstream records a RAG call.
func RecordUpstream(operation, status string, durationSec float64) {
	UpstreamDuration.WithLabelValues(operation, status).Observe(durationSec)
}
