package retrain

import (
	"context"
	"time"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/kvstore"
)

// JobsTable holds one record per collection
const JobsTable = "retrain:jobs"

// EventList returns the name of a collection's event log
func EventList(collectionID string) string {
	return "retrain:logs:" + collectionID
}

// JobStore persists jobs and event logs
type JobStore struct {
	kv  kvstore.Store
	now func() time.Time
}

// NewJobStore creates a job store on kv
func NewJobStore(kv kvstore.Store) *JobStore {
	return &JobStore{kv: kv, now: time.Now}
}

// Get returns the collection's job, or a NotStarted job when none exists
func (s *JobStore) Get(ctx context.Context, collectionID string) (Job, error) {
	job, err := kvstore.GetJSON[Job](ctx, s.kv, JobsTable, collectionID)
	if errors.IsNotFound(err) {
		return Job{CollectionID: collectionID, Status: StatusNotStarted}, nil
	}
	return job, err
}

// List returns every job record sorted by collection id
func (s *JobStore) List(ctx context.Context) ([]Job, error) {
	return kvstore.ValuesJSON[Job](ctx, s.kv, JobsTable)
}

// Update applies fn to the job inside a transaction. A missing record is passed as NotStarted.
func (s *JobStore) Update(ctx context.Context, collectionID string, fn func(*Job) error) (Job, error) {
	var out Job
	err := kvstore.UpdateJSON(ctx, s.kv, JobsTable, collectionID, func(j *Job, exists bool) error {
		if !exists {
			*j = Job{CollectionID: collectionID, Status: StatusNotStarted}
		}
		if err := fn(j); err != nil {
			return err
		}
		out = *j
		return nil
	})
	return out, err
}

// CompareAndSet applies fn only while the record still belongs to generation
func (s *JobStore) CompareAndSet(ctx context.Context, collectionID string, generation int64, fn func(*Job) error) (Job, error) {
	return s.Update(ctx, collectionID, func(j *Job) error {
		if j.Generation != generation {
			return staleError(collectionID, generation, j.Generation)
		}
		return fn(j)
	})
}

// Log appends a message to the collection's event log
func (s *JobStore) Log(ctx context.Context, collectionID, message string) error {
	return kvstore.PushJSON(ctx, s.kv, EventList(collectionID), Event{
		CollectionID: collectionID,
		CreatedAt:    unixSeconds(s.now()),
		Message:      message,
	})
}

// Events returns the collection's event log in chronological order
func (s *JobStore) Events(ctx context.Context, collectionID string) ([]Event, error) {
	return kvstore.RangeJSON[Event](ctx, s.kv, EventList(collectionID))
}

// TruncateEvents clears the collection's event log
func (s *JobStore) TruncateEvents(ctx context.Context, collectionID string) error {
	return s.kv.Truncate(ctx, EventList(collectionID))
}

// Touch refreshes the heartbeat of a started job owned by generation. Other states are left alone.
func (s *JobStore) Touch(ctx context.Context, collectionID string, generation int64) error {
	now := unixSeconds(s.now())
	return kvstore.UpdateJSON(ctx, s.kv, JobsTable, collectionID, func(j *Job, exists bool) error {
		if !exists || j.Status != StatusStarted || j.Generation != generation {
			return kvstore.ErrSkip
		}
		j.HeartbeatAt = now
		return nil
	})
}

