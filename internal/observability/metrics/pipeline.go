package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the prediction pipeline.
// It implements Recorder; operation names map to the stage label.
type PipelineMetrics struct {
	PredictionsTotal  *prometheus.CounterVec
	PredictionErrors  *prometheus.CounterVec
	DetectionsTotal   *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	ModelLoadTotal    *prometheus.CounterVec
	ImagesProcessed   prometheus.Counter
	ActivePredictions prometheus.Gauge

	registry *prometheus.Registry
}

// NewPipelineMetrics creates and registers the pipeline collectors
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_pipeline_operations_total",
			Help: "Total number of pipeline stage operations partitioned by stage and status.",
		},
		[]string{"stage", "status"},
	)
	m.PredictionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_pipeline_errors_total",
			Help: "Total number of pipeline errors partitioned by stage and error category.",
		},
		[]string{"stage", "error_type"},
	)
	m.DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_detections_total",
			Help: "Total number of detection candidates partitioned by species.",
		},
		[]string{"species"},
	)
	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reid_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: fastBuckets,
		},
		[]string{"stage"},
	)
	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_model_load_total",
			Help: "Total number of model and classifier loads partitioned by model and status.",
		},
		[]string{"model", "status"},
	)
	m.ImagesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reid_images_processed_total",
			Help: "Total number of input images run through the pipeline.",
		},
	)
	m.ActivePredictions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reid_active_predictions",
			Help: "Number of prediction calls currently running.",
		},
	)
}

// RecordOperation implements Recorder
func (m *PipelineMetrics) RecordOperation(operation, status string) {
	m.PredictionsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder
func (m *PipelineMetrics) RecordDuration(operation string, seconds float64) {
	m.StageDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *PipelineMetrics) RecordError(operation, errorType string) {
	m.PredictionErrors.WithLabelValues(operation, sanitizeLabel(errorType)).Inc()
}

// RecordDetection counts one candidate for species; the undetected sentinel is counted too
func (m *PipelineMetrics) RecordDetection(species string) {
	m.DetectionsTotal.WithLabelValues(sanitizeLabel(species)).Inc()
}

// RecordImage counts one processed input image
func (m *PipelineMetrics) RecordImage() {
	m.ImagesProcessed.Inc()
}

// RecordModelLoad records a model or classifier load outcome
func (m *PipelineMetrics) RecordModelLoad(model string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.ModelLoadTotal.WithLabelValues(model, status).Inc()
}

// TrackActive increments the active gauge and returns the matching decrement
func (m *PipelineMetrics) TrackActive() func() {
	m.ActivePredictions.Inc()
	return m.ActivePredictions.Dec
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.PredictionsTotal.Describe(ch)
	m.PredictionErrors.Describe(ch)
	m.DetectionsTotal.Describe(ch)
	m.StageDuration.Describe(ch)
	m.ModelLoadTotal.Describe(ch)
	ch <- m.ImagesProcessed.Desc()
	ch <- m.ActivePredictions.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.PredictionsTotal.Collect(ch)
	m.PredictionErrors.Collect(ch)
	m.DetectionsTotal.Collect(ch)
	m.StageDuration.Collect(ch)
	m.ModelLoadTotal.Collect(ch)
	ch <- m.ImagesProcessed
	ch <- m.ActivePredictions
}

// sanitizeLabel keeps label values short and free of characters that break dashboards
func sanitizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.NewReplacer(" ", "_", "\n", "_", "\"", "").Replace(v)
	if len(v) > 64 {
		v = v[:64]
	}
	return v
}
