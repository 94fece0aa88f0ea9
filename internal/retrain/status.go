// Package retrain runs the asynchronous classifier retraining workflow: job state, the event log,
// the worker that re-fits per-species classifiers, and the helpers that feed backbone refreshes.
package retrain

import (
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

var (
	pkgLogger logger.Logger
	logOnce   sync.Once
)

// GetLogger returns the retrain package logger
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		pkgLogger = logger.Global().Module("retrain")
	})
	return pkgLogger
}

// Status is the lifecycle state of a collection's retrain job
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusCreated    Status = "created"
	StatusStarted    Status = "started"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
)

var transitions = map[Status][]Status{
	StatusNotStarted: {StatusCreated},
	StatusCreated:    {StatusStarted},
	StatusStarted:    {StatusCompleted, StatusAborted},
	StatusCompleted:  {StatusCreated},
	StatusAborted:    {StatusCreated},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InFlight reports whether a job in this status still has work ahead of it
func (s Status) InFlight() bool {
	return s == StatusCreated || s == StatusStarted
}

// Sentinel errors, matched with errors.Is
var (
	ErrJobInFlight       = errors.NewStd("retrain job already in flight")
	ErrInvalidTransition = errors.NewStd("invalid retrain job transition")
	ErrStaleGeneration   = errors.NewStd("retrain job was superseded by a newer request")
)

// Job is the single live retrain record of a collection
type Job struct {
	CollectionID   string  `json:"collection_id"`
	CreatedAt      float64 `json:"created_at"`
	Status         Status  `json:"status"`
	Generation     int64   `json:"generation"`
	AbortRequested bool    `json:"abort_requested,omitempty"`
	HeartbeatAt    float64 `json:"heartbeat_at,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Stale reports whether a started job has not sent a heartbeat within timeout
func (j Job) Stale(now time.Time, timeout time.Duration) bool {
	if j.Status != StatusStarted || timeout <= 0 {
		return false
	}
	last := j.HeartbeatAt
	if last == 0 {
		last = j.CreatedAt
	}
	return now.Sub(fromUnix(last)) > timeout
}

// Event is one line of a job's progress log
type Event struct {
	CollectionID string  `json:"collection_id"`
	CreatedAt    float64 `json:"created_at"`
	Message      string  `json:"message"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnix(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}

func transitionError(from, to Status, collectionID string) error {
	return errors.New(ErrInvalidTransition).
		Component("retrain").
		Category(errors.CategoryState).
		Collection(collectionID).
		Context("from", string(from)).
		Context("to", string(to)).
		Build()
}

func staleError(collectionID string, want, got int64) error {
	return errors.New(ErrStaleGeneration).
		Component("retrain").
		Category(errors.CategoryConflict).
		Collection(collectionID).
		Context("generation", want).
		Context("current_generation", got).
		Build()
}
