// Package observability wires the Prometheus collectors of every subsystem onto one registry.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/wildlife-reid/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Pipeline *metrics.PipelineMetrics
	Retrain  *metrics.RetrainMetrics
	Storage  *metrics.StorageMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors plus every subsystem collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	retrainMetrics, err := metrics.NewRetrainMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrain metrics: %w", err)
	}

	storageMetrics, err := metrics.NewStorageMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage metrics: %w", err)
	}

	log.Debug("metrics registry initialised")

	return &Metrics{
		registry: registry,
		Pipeline: pipelineMetrics,
		Retrain:  retrainMetrics,
		Storage:  storageMetrics,
	}, nil
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
