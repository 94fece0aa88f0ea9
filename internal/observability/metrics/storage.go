package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics contains Prometheus metrics for blob store and key-value store operations.
// It implements Recorder: operations prefixed "blob_" or "kv_" are split into backend and op labels.
type StorageMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewStorageMetrics creates and registers the storage collectors
func NewStorageMetrics(registry *prometheus.Registry) (*StorageMetrics, error) {
	m := &StorageMetrics{registry: registry}
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_storage_operations_total",
			Help: "Total number of storage operations partitioned by store, operation and status.",
		},
		[]string{"store", "operation", "status"},
	)
	m.OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_storage_errors_total",
			Help: "Total number of storage errors partitioned by store, operation and error category.",
		},
		[]string{"store", "operation", "error_type"},
	)
	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reid_storage_operation_duration_seconds",
			Help:    "Time spent in storage operations.",
			Buckets: fastBuckets,
		},
		[]string{"store", "operation"},
	)
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register storage metrics: %w", err)
	}
	return m, nil
}

// splitOperation maps "blob_put" to ("blob", "put")
func splitOperation(operation string) (store, op string) {
	store, op, ok := strings.Cut(operation, "_")
	if !ok {
		return "other", operation
	}
	return store, op
}

// RecordOperation implements Recorder
func (m *StorageMetrics) RecordOperation(operation, status string) {
	store, op := splitOperation(operation)
	m.OperationsTotal.WithLabelValues(store, op, status).Inc()
}

// RecordDuration implements Recorder
func (m *StorageMetrics) RecordDuration(operation string, seconds float64) {
	store, op := splitOperation(operation)
	m.OperationDuration.WithLabelValues(store, op).Observe(seconds)
}

// RecordError implements Recorder
func (m *StorageMetrics) RecordError(operation, errorType string) {
	store, op := splitOperation(operation)
	m.OperationErrors.WithLabelValues(store, op, sanitizeLabel(errorType)).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *StorageMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationErrors.Describe(ch)
	m.OperationDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *StorageMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationErrors.Collect(ch)
	m.OperationDuration.Collect(ch)
}
