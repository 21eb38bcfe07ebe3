// Package metrics provides Prometheus metrics for the filings monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "filings_monitor"
)

// Pipeline metrics
var (
	// EventsTotal counts processed events by outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Filing events processed, by outcome",
		},
		[]string{"outcome"},
	)

	// AlertsTotal counts committed alerts.
	AlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_total",
			Help:      "Alerts committed for dispatch",
		},
	)

	// BatchDuration tracks how long one batch takes end to end.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Batch processing latency in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
)

// Classifier metrics
var (
	// ClassifierAttemptsTotal counts model calls by result.
	ClassifierAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "attempts_total",
			Help:      "Model calls by result (ok, schema_invalid, backend_unavailable, timeout)",
		},
		[]string{"result"},
	)

	// ClassificationDuration tracks single model call latency.
	ClassificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "call_duration_seconds",
			Help:      "Model call latency in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)
)

// Source and dispatch metrics
var (
	// FetchErrorsTotal counts filing source failures per issuer.
	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_errors_total",
			Help:      "Filing fetch failures by issuer",
		},
		[]string{"issuer"},
	)

	// DispatchTotal counts alert deliveries by channel and result.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Alert deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)
)
