package retrain

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/wildlife-reid/internal/jobqueue"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

// Runner executes one job generation
type Runner interface {
	Run(ctx context.Context, collectionID string, generation int64) error
}

// Enqueuer is the part of the job queue used for dispatch
type Enqueuer interface {
	Enqueue(action jobqueue.Action, key string, config jobqueue.RetryConfig) (string, error)
}

// QueueDispatcher runs jobs on an in-process job queue, one active job per collection
type QueueDispatcher struct {
	queue  Enqueuer
	runner Runner
}

// NewQueueDispatcher creates a dispatcher feeding runner through queue
func NewQueueDispatcher(queue Enqueuer, runner Runner) *QueueDispatcher {
	return &QueueDispatcher{queue: queue, runner: runner}
}

// Dispatch enqueues the job without retries. A failed run has already settled the job as Aborted.
func (d *QueueDispatcher) Dispatch(_ context.Context, collectionID string, generation int64) error {
	action := jobqueue.ActionFunc{
		Name: fmt.Sprintf("retrain %s (generation %d)", collectionID, generation),
		Fn: func(ctx context.Context) error {
			return d.runner.Run(ctx, collectionID, generation)
		},
	}
	_, err := d.queue.Enqueue(action, collectionID, jobqueue.GetDefaultRetryConfig(false))
	return err
}

// Poller feeds Created jobs found in the store to a dispatcher. It backs the standalone worker,
// which shares the store with a serve process that does not run jobs itself.
type Poller struct {
	jobs       *JobStore
	dispatcher Dispatcher
	interval   time.Duration
	seen       map[string]int64
}

// NewPoller creates a poller checking the store every interval
func NewPoller(jobs *JobStore, dispatcher Dispatcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{jobs: jobs, dispatcher: dispatcher, interval: interval, seen: make(map[string]int64)}
}

// Run polls until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.Poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll dispatches every Created job not dispatched before and returns how many it handed over
func (p *Poller) Poll(ctx context.Context) int {
	jobs, err := p.jobs.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			GetLogger().Warn("failed to list retrain jobs", logger.Error(err))
		}
		return 0
	}
	n := 0
	for _, job := range jobs {
		if job.Status != StatusCreated || p.seen[job.CollectionID] >= job.Generation {
			continue
		}
		if err := p.dispatcher.Dispatch(ctx, job.CollectionID, job.Generation); err != nil {
			GetLogger().Warn("failed to dispatch retrain job",
				logger.String("collection_id", job.CollectionID),
				logger.Int64("generation", job.Generation),
				logger.Error(err))
			continue
		}
		p.seen[job.CollectionID] = job.Generation
		n++
	}
	return n
}
