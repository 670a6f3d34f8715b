// Package metrics provides Prometheus metrics for the annotation store.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the annotation store
type Metrics struct {
	// Store operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Validation metrics
	ValidateDuration     prometheus.Histogram
	ElementsValidated    prometheus.Counter
	ElementsSkipped      prometheus.Counter

	// Element store metrics
	ElementsWrittenTotal prometheus.Counter
	ElementsDeletedTotal prometheus.Counter

	// Version metrics
	VersionQueriesTotal prometheus.Counter
	RevertsTotal        prometheus.Counter
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide metrics instance, registering it on first use
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = newMetrics()
	})
	return defaultMetrics
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotation_store_operations_total",
			Help: "Total number of annotation store operations",
		},
		[]string{"operation", "status"},
	)

	m.OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annotation_store_operation_duration_seconds",
			Help:    "Duration of annotation store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.ValidateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "annotation_store_validate_duration_seconds",
			Help:    "Duration of annotation validation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.ElementsValidated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_store_elements_validated_total",
			Help: "Total number of elements individually validated",
		},
	)

	m.ElementsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_store_elements_skipped_total",
			Help: "Total number of elements skipped by the similarity fast path",
		},
	)

	m.ElementsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_store_elements_written_total",
			Help: "Total number of elements written to the element store",
		},
	)

	m.ElementsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_store_elements_deleted_total",
			Help: "Total number of elements hard-deleted from the element store",
		},
	)

	m.VersionQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_store_version_queries_total",
			Help: "Total number of version history queries",
		},
	)

	m.RevertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "annotation_store_reverts_total",
			Help: "Total number of version reverts",
		},
	)

	return m
}

// RecordOperation records a store operation with its status
func (m *Metrics) RecordOperation(operation string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
