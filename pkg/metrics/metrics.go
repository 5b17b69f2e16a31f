// Package metrics provides Prometheus metrics for the snapshot service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sr_event"

var (
	// RebuildsTotal tracks rebuild and refresh runs by kind and final status
	RebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "runs_total",
			Help:      "Total number of rebuild runs by kind and status",
		},
		[]string{"kind", "status"},
	)

	// RebuildDuration tracks rebuild duration in seconds
	RebuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "duration_seconds",
			Help:      "Duration of rebuild runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind"},
	)

	// RebuildRecords tracks merge outcomes (updated, added, deleted, unreachable, failed)
	RebuildRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "records_total",
			Help:      "Total number of records affected by rebuilds, by outcome",
		},
		[]string{"outcome"},
	)

	// RebuildsRejected tracks rebuilds rejected by the in-flight guard
	RebuildsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "rejected_total",
			Help:      "Total number of rebuilds rejected because another rebuild was in flight",
		},
	)

	// SnapshotRows tracks the row count of the last published snapshot
	SnapshotRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "rows",
			Help:      "Number of rows in the last published snapshot",
		},
	)

	// SnapshotOperations tracks snapshot store reads and writes
	SnapshotOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "operations_total",
			Help:      "Total number of snapshot store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// RosterPagesFetched tracks roster pages fetched by outcome
	RosterPagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "roster",
			Name:      "pages_total",
			Help:      "Total number of roster pages fetched by outcome",
		},
		[]string{"outcome"},
	)

	// RosterScans tracks finished event rosters by stop reason
	RosterScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "roster",
			Name:      "scans_total",
			Help:      "Total number of event rosters scanned by stop reason",
		},
		[]string{"stop_reason"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// HTTPRetries tracks outbound request retries by reason
	HTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "retries_total",
			Help:      "Total number of outbound request retries by reason",
		},
		[]string{"reason"},
	)

	// CircuitBreakerState tracks the upstream circuit breaker state (0 closed, 1 half-open, 2 open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerTransitions tracks circuit breaker state transitions
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordRebuild records a finished rebuild or refresh
func RecordRebuild(kind, status string, durationSeconds float64) {
	RebuildsTotal.WithLabelValues(kind, status).Inc()
	RebuildDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordCounts records merge outcome counts
func RecordCounts(updated, added, deleted, unreachable, failed int) {
	RebuildRecords.WithLabelValues("updated").Add(float64(updated))
	RebuildRecords.WithLabelValues("added").Add(float64(added))
	RebuildRecords.WithLabelValues("deleted").Add(float64(deleted))
	RebuildRecords.WithLabelValues("unreachable").Add(float64(unreachable))
	RebuildRecords.WithLabelValues("failed").Add(float64(failed))
}

// RecordSnapshotOperation records a snapshot store operation
func RecordSnapshotOperation(backend, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SnapshotOperations.WithLabelValues(backend, operation, status).Inc()
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
