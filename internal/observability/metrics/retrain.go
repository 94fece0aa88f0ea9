package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RetrainMetrics contains Prometheus metrics for retraining jobs and classifier fits.
type RetrainMetrics struct {
	JobsTotal       *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	FitDuration     *prometheus.HistogramVec
	CVAccuracy      *prometheus.GaugeVec
	TrainingSamples *prometheus.GaugeVec
	Individuals     *prometheus.GaugeVec
	PromotedTotal   prometheus.Counter
	OperationsTotal *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRetrainMetrics creates and registers the retrain collectors
func NewRetrainMetrics(registry *prometheus.Registry) (*RetrainMetrics, error) {
	m := &RetrainMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register retrain metrics: %w", err)
	}
	return m, nil
}

func (m *RetrainMetrics) initMetrics() {
	m.JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_retrain_jobs_total",
			Help: "Total number of retrain jobs partitioned by terminal status.",
		},
		[]string{"status"},
	)
	m.JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reid_retrain_job_duration_seconds",
			Help:    "Wall time of retrain jobs from start to terminal status.",
			Buckets: slowBuckets,
		},
	)
	m.FitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reid_classifier_fit_duration_seconds",
			Help:    "Time spent searching and fitting one species classifier.",
			Buckets: slowBuckets,
		},
		[]string{"species"},
	)
	m.CVAccuracy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reid_classifier_cv_accuracy",
			Help: "Mean cross-validated accuracy of the most recently fitted classifier per species.",
		},
		[]string{"species"},
	)
	m.TrainingSamples = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reid_classifier_training_examples",
			Help: "Number of training examples used by the most recent fit per species.",
		},
		[]string{"species"},
	)
	m.Individuals = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reid_classifier_individuals",
			Help: "Number of distinct individuals known to the most recent fit per species.",
		},
		[]string{"species"},
	)
	m.PromotedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reid_promoted_annotations_total",
			Help: "Total number of accepted crops copied into durable training data.",
		},
	)
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_retrain_operations_total",
			Help: "Total number of retrain operations partitioned by operation and status.",
		},
		[]string{"operation", "status"},
	)
	m.ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reid_retrain_errors_total",
			Help: "Total number of retrain errors partitioned by operation and error category.",
		},
		[]string{"operation", "error_type"},
	)
}

// RecordJob records a job reaching a terminal status
func (m *RetrainMetrics) RecordJob(status string, seconds float64) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.Observe(seconds)
}

// RecordFit records the outcome of one species fit
func (m *RetrainMetrics) RecordFit(species string, seconds, accuracy float64, examples, individuals int) {
	m.FitDuration.WithLabelValues(species).Observe(seconds)
	m.CVAccuracy.WithLabelValues(species).Set(accuracy)
	m.TrainingSamples.WithLabelValues(species).Set(float64(examples))
	m.Individuals.WithLabelValues(species).Set(float64(individuals))
}

// RecordPromoted counts promoted annotations
func (m *RetrainMetrics) RecordPromoted(n int) {
	m.PromotedTotal.Add(float64(n))
}

// RecordOperation implements Recorder
func (m *RetrainMetrics) RecordOperation(operation, status string) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder. Species fits are recorded through RecordFit instead.
func (m *RetrainMetrics) RecordDuration(operation string, seconds float64) {
	if operation == OpRetrainJob {
		m.JobDuration.Observe(seconds)
	}
}

// RecordError implements Recorder
func (m *RetrainMetrics) RecordError(operation, errorType string) {
	m.ErrorsTotal.WithLabelValues(operation, sanitizeLabel(errorType)).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *RetrainMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.JobsTotal.Describe(ch)
	ch <- m.JobDuration.Desc()
	m.FitDuration.Describe(ch)
	m.CVAccuracy.Describe(ch)
	m.TrainingSamples.Describe(ch)
	m.Individuals.Describe(ch)
	ch <- m.PromotedTotal.Desc()
	m.OperationsTotal.Describe(ch)
	m.ErrorsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *RetrainMetrics) Collect(ch chan<- prometheus.Metric) {
	m.JobsTotal.Collect(ch)
	ch <- m.JobDuration
	m.FitDuration.Collect(ch)
	m.CVAccuracy.Collect(ch)
	m.TrainingSamples.Collect(ch)
	m.Individuals.Collect(ch)
	ch <- m.PromotedTotal
	m.OperationsTotal.Collect(ch)
	m.ErrorsTotal.Collect(ch)
}
