package metrics

import (
	"maps"
	"sync"
)

// TestRecorder captures recorded metrics in memory for assertions in tests.
type TestRecorder struct {
	mu         sync.RWMutex
	operations map[string]map[string]int // operation -> status -> count
	durations  map[string][]float64
	errors     map[string]map[string]int // operation -> errorType -> count
}

// NewTestRecorder creates an empty recorder
func NewTestRecorder() *TestRecorder {
	return &TestRecorder{
		operations: make(map[string]map[string]int),
		durations:  make(map[string][]float64),
		errors:     make(map[string]map[string]int),
	}
}

func (r *TestRecorder) RecordOperation(operation, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.operations[operation] == nil {
		r.operations[operation] = make(map[string]int)
	}
	r.operations[operation][status]++
}

func (r *TestRecorder) RecordDuration(operation string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] = append(r.durations[operation], seconds)
}

func (r *TestRecorder) RecordError(operation, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.errors[operation] == nil {
		r.errors[operation] = make(map[string]int)
	}
	r.errors[operation][errorType]++
}

// GetOperationCount returns how often operation was recorded with status
func (r *TestRecorder) GetOperationCount(operation, status string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operations[operation][status]
}

// GetDurations returns a copy of the durations recorded for operation
func (r *TestRecorder) GetDurations(operation string) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]float64(nil), r.durations[operation]...)
}

// GetErrorCount returns how often operation failed with errorType
func (r *TestRecorder) GetErrorCount(operation, errorType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errors[operation][errorType]
}

// GetAllOperations returns a deep copy of every recorded operation
func (r *TestRecorder) GetAllOperations() map[string]map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]map[string]int, len(r.operations))
	for op, statuses := range r.operations {
		result[op] = maps.Clone(statuses)
	}
	return result
}

// Reset clears everything recorded so far
func (r *TestRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.operations)
	clear(r.durations)
	clear(r.errors)
}
