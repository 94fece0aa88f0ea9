// Package metrics provides Prometheus metrics for the re-identification pipeline.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this abstraction rather than on Prometheus collectors.
type Recorder interface {
	// RecordOperation records an operation (e.g. "blob_put", "detect") with its status ("success", "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence categorised by errorType (usually an error category).
	RecordError(operation, errorType string)
}

// NopRecorder discards everything
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string)     {}
