package retrain

import (
	"context"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

// Dispatcher hands a freshly created job to whatever runs it
type Dispatcher interface {
	Dispatch(ctx context.Context, collectionID string, generation int64) error
}

// Orchestrator is the request side of retraining: it owns job creation, abort and status reads
type Orchestrator struct {
	jobs       *JobStore
	dispatcher Dispatcher
}

// NewOrchestrator creates an orchestrator. A nil dispatcher leaves created jobs for a polling worker.
func NewOrchestrator(jobs *JobStore, dispatcher Dispatcher) *Orchestrator {
	return &Orchestrator{jobs: jobs, dispatcher: dispatcher}
}

// Request creates a new job for the collection and returns without waiting for it
func (o *Orchestrator) Request(ctx context.Context, collectionID string) (Job, error) {
	now := unixSeconds(o.jobs.now())
	job, err := o.jobs.Update(ctx, collectionID, func(j *Job) error {
		if j.Status.InFlight() {
			return errors.New(ErrJobInFlight).
				Component("retrain").
				Category(errors.CategoryConflict).
				Collection(collectionID).
				Context("status", string(j.Status)).
				Build()
		}
		if !CanTransition(j.Status, StatusCreated) {
			return transitionError(j.Status, StatusCreated, collectionID)
		}
		*j = Job{
			CollectionID: collectionID,
			CreatedAt:    now,
			Status:       StatusCreated,
			Generation:   j.Generation + 1,
		}
		return nil
	})
	if err != nil {
		return Job{}, err
	}

	if err := o.jobs.TruncateEvents(ctx, collectionID); err != nil {
		GetLogger().Warn("failed to clear retrain event log",
			logger.String("collection_id", collectionID),
			logger.Error(err))
	}

	GetLogger().Info("retrain job created",
		logger.String("collection_id", collectionID),
		logger.Int64("generation", job.Generation))

	if o.dispatcher == nil {
		return job, nil
	}
	if err := o.dispatcher.Dispatch(ctx, collectionID, job.Generation); err != nil {
		msg := err.Error()
		// unschedulable jobs end aborted
		failed, cerr := o.jobs.CompareAndSet(context.WithoutCancel(ctx), collectionID, job.Generation, func(j *Job) error {
			j.Status = StatusAborted
			j.Error = msg
			return nil
		})
		if cerr != nil {
			return Job{}, errors.Join(err, cerr)
		}
		_ = o.jobs.Log(context.WithoutCancel(ctx), collectionID, "Retraining could not be scheduled: "+msg)
		return failed, err
	}
	return job, nil
}

// Abort stops a created or started job. Terminal jobs cannot be aborted.
func (o *Orchestrator) Abort(ctx context.Context, collectionID string) (Job, error) {
	job, err := o.jobs.Update(ctx, collectionID, func(j *Job) error {
		switch j.Status {
		case StatusStarted:
			j.Status = StatusAborted
		case StatusCreated:
			j.AbortRequested = true
		default:
			return transitionError(j.Status, StatusAborted, collectionID)
		}
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	GetLogger().Info("retrain abort requested",
		logger.String("collection_id", collectionID),
		logger.String("status", string(job.Status)))
	return job, nil
}

// Clear resets a finished job to NotStarted and empties its log. The generation is kept for fencing.
func (o *Orchestrator) Clear(ctx context.Context, collectionID string) error {
	_, err := o.jobs.Update(ctx, collectionID, func(j *Job) error {
		if j.Status.InFlight() {
			return errors.New(ErrJobInFlight).
				Component("retrain").
				Category(errors.CategoryConflict).
				Collection(collectionID).
				Build()
		}
		*j = Job{CollectionID: collectionID, Status: StatusNotStarted, Generation: j.Generation}
		return nil
	})
	if err != nil {
		return err
	}
	return o.jobs.TruncateEvents(ctx, collectionID)
}

// Status returns the current job, NotStarted when the collection was never retrained
func (o *Orchestrator) Status(ctx context.Context, collectionID string) (Job, error) {
	return o.jobs.Get(ctx, collectionID)
}

// Events returns the job's progress log, oldest first
func (o *Orchestrator) Events(ctx context.Context, collectionID string) ([]Event, error) {
	return o.jobs.Events(ctx, collectionID)
}
