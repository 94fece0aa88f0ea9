package jobqueue

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/wildlife-reid/internal/errors"
	"github.com/tphakala/wildlife-reid/internal/logger"
)

// Options configures a JobQueue
type Options struct {
	MaxJobs            int           // pending and running jobs accepted at once
	MaxArchivedJobs    int           // finished jobs kept for inspection
	Workers            int           // jobs executed concurrently
	JobTimeout         time.Duration // per attempt
	ProcessingInterval time.Duration // how often due retries are picked up
	LogAllSuccesses    bool
}

// DefaultOptions returns the queue defaults
func DefaultOptions() Options {
	return Options{
		MaxJobs:            100,
		MaxArchivedJobs:    100,
		Workers:            1,
		JobTimeout:         2 * time.Hour,
		ProcessingInterval: time.Second,
	}
}

// JobQueue manages a queue of jobs that can be retried
type JobQueue struct {
	jobs          []*Job
	archivedJobs  []*Job
	mu            sync.Mutex
	stats         JobStats
	jobCounter    int
	runningJobs   sync.WaitGroup
	isRunning     bool
	running       int
	opts          Options
	wake          chan struct{}
	processCancel context.CancelFunc
	processDone   chan struct{}
}

// New creates a job queue. Zero option fields take their defaults.
func New(opts Options) *JobQueue {
	def := DefaultOptions()
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = def.MaxJobs
	}
	if opts.MaxArchivedJobs <= 0 {
		opts.MaxArchivedJobs = def.MaxArchivedJobs
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = def.JobTimeout
	}
	if opts.ProcessingInterval <= 0 {
		opts.ProcessingInterval = def.ProcessingInterval
	}
	return &JobQueue{
		opts:  opts,
		wake:  make(chan struct{}, 1),
		stats: JobStats{ActionStats: make(map[string]ActionStats)},
	}
}

// Start starts processing jobs until ctx is cancelled or Stop is called
func (q *JobQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return
	}
	q.isRunning = true

	processCtx, cancel := context.WithCancel(ctx)
	q.processCancel = cancel
	q.processDone = make(chan struct{})
	go q.processJobs(processCtx, q.processDone)
}

// Stop stops the job queue processing
func (q *JobQueue) Stop() error {
	return q.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout cancels running jobs and waits for them to return
func (q *JobQueue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.processCancel()
	processDone := q.processDone
	q.mu.Unlock()

	c := make(chan struct{})
	go func() {
		<-processDone
		q.runningJobs.Wait()
		close(c)
	}()

	select {
	case <-c:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for jobs to complete after %v", timeout)
	}
}

// Enqueue adds a job. A non-empty key is rejected while another pending or running job
// holds the same key.
func (q *JobQueue) Enqueue(action Action, key string, config RetryConfig) (string, error) {
	if action == nil {
		return "", ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return "", ErrQueueStopped
	}

	name := action.Description()
	if len(q.jobs) >= q.opts.MaxJobs {
		q.stats.RejectedJobs++
		stats := q.stats.ActionStats[name]
		stats.Description = name
		stats.Rejected++
		q.stats.ActionStats[name] = stats
		return "", errors.New(fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.opts.MaxJobs)).
			Component("jobqueue").
			Category(errors.CategoryJobQueue).
			Build()
	}
	if key != "" && q.activeLocked(key) {
		return "", errors.Newf("a job for %q is already queued", key).
			Component("jobqueue").
			Category(errors.CategoryConflict).
			Build()
	}

	maxAttempts := 1
	if config.Enabled {
		maxAttempts = config.MaxRetries + 1
	}

	q.jobCounter++
	now := time.Now()
	job := &Job{
		ID:          fmt.Sprintf("job-%d", q.jobCounter),
		Key:         key,
		Action:      action,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		NextRetryAt: now,
		Status:      JobStatusPending,
		Config:      config,
	}
	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++

	stats := q.stats.ActionStats[name]
	stats.Description = name
	q.stats.ActionStats[name] = stats

	GetLogger().Debug("job enqueued",
		logger.String("job_id", job.ID),
		logger.String("action", name),
		logger.String("key", key))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job.ID, nil
}

// Active reports whether a pending, running or retrying job holds key
func (q *JobQueue) Active(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeLocked(key)
}

func (q *JobQueue) activeLocked(key string) bool {
	for _, j := range q.jobs {
		if j.Key == key && isActive(j.Status) {
			return true
		}
	}
	return false
}

func isActive(s JobStatus) bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusRetrying
}

// Get returns a snapshot of a queued or archived job
func (q *JobQueue) Get(id string) (JobSnapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, list := range [][]*Job{q.jobs, q.archivedJobs} {
		for _, j := range list {
			if j.ID == id {
				return j.snapshot(), nil
			}
		}
	}
	return JobSnapshot{}, ErrJobNotFound
}

func (q *JobQueue) processJobs(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(q.opts.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			GetLogger().Debug("job queue processing stopped", logger.Error(ctx.Err()))
			q.cancelPending()
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.cleanupStaleJobs()
		q.processDueJobs(ctx)
	}
}

// cancelPending marks jobs that never started as cancelled
func (q *JobQueue) cancelPending() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.Status == JobStatusPending || j.Status == JobStatusRetrying {
			j.Status = JobStatusCancelled
		}
	}
}

// cleanupStaleJobs moves finished jobs to the archive
func (q *JobQueue) cleanupStaleJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := q.jobs[:0]
	var stale []*Job
	for _, job := range q.jobs {
		switch job.Status {
		case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
			stale = append(stale, job)
		default:
			active = append(active, job)
		}
	}
	clear(q.jobs[len(active):])
	q.jobs = active

	q.archivedJobs = append(q.archivedJobs, stale...)
	q.stats.StaleJobs += len(stale)
	if excess := len(q.archivedJobs) - q.opts.MaxArchivedJobs; excess > 0 {
		q.archivedJobs = slices.Delete(q.archivedJobs, 0, excess)
	}
	q.stats.ArchivedJobs = len(q.archivedJobs)
}

// calculateBackoffDelay calculates the delay before the next retry attempt
func calculateBackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attemptNum))

	// jitter of +-10%
	jitterFactor := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	backoff *= jitterFactor

	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

// processDueJobs starts due jobs while worker slots are free
func (q *JobQueue) processDueJobs(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	q.mu.Lock()
	now := time.Now()
	var due []*Job
	for _, job := range q.jobs {
		if q.running+len(due) >= q.opts.Workers {
			break
		}
		if (job.Status == JobStatusPending || job.Status == JobStatusRetrying) && !job.NextRetryAt.After(now) {
			job.Status = JobStatusRunning
			job.Attempts++
			due = append(due, job)
		}
	}
	q.running += len(due)
	for range due {
		q.runningJobs.Add(1)
	}
	q.mu.Unlock()

	for _, job := range due {
		go func(j *Job) {
			defer q.runningJobs.Done()
			q.executeJob(ctx, j)
		}(job)
	}
}

// executeJob runs one attempt and records the outcome
func (q *JobQueue) executeJob(ctx context.Context, job *Job) {
	name := job.Action.Description()
	if job.Attempts > 1 {
		GetLogger().Info("retrying job",
			logger.String("job_id", job.ID),
			logger.String("action", name),
			logger.Int("attempt", job.Attempts),
			logger.Int("max_attempts", job.MaxAttempts))
	}

	execCtx, cancel := context.WithTimeout(ctx, q.opts.JobTimeout)
	defer cancel()

	start := time.Now()
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("job execution panicked: %v", r)
			}
		}()
		result <- job.Action.Execute(execCtx)
	}()

	var err error
	finished := true
	select {
	case err = <-result:
	case <-execCtx.Done():
		finished = false
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("job execution timed out after %v: %w", q.opts.JobTimeout, execCtx.Err())
		} else {
			err = fmt.Errorf("job execution was cancelled: %w", execCtx.Err())
		}
	}
	elapsed := time.Since(start)

	q.finish(job, name, err, elapsed)

	// the worker slot stays taken until the action actually returns
	if !finished {
		<-result
	}
	q.mu.Lock()
	q.running--
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *JobQueue) finish(job *Job, name string, err error, elapsed time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.RetryAttempts++
	stats := q.stats.ActionStats[name]
	stats.Description = name
	stats.Attempted++
	if job.Attempts > 1 {
		stats.Retried++
	}
	stats.LastExecutionTime = time.Now()
	stats.recordDuration(elapsed, stats.Attempted)

	log := GetLogger().With(
		logger.String("job_id", job.ID),
		logger.String("action", name),
		logger.Int("attempt", job.Attempts))

	if err != nil {
		job.LastError = err
		stats.LastFailedTime = time.Now()
		stats.LastErrorMessage = truncate(err.Error())

		if job.Attempts >= job.MaxAttempts || ctxDone(err) {
			job.Status = JobStatusFailed
			q.stats.FailedJobs++
			stats.Failed++
			log.Warn("job failed", logger.Error(err))
		} else {
			job.Status = JobStatusRetrying
			delay := calculateBackoffDelay(job.Config, job.Attempts)
			job.NextRetryAt = time.Now().Add(delay)
			log.Warn("job failed, will retry",
				logger.Duration("delay", delay),
				logger.Error(err))
		}
	} else {
		job.Status = JobStatusCompleted
		q.stats.SuccessfulJobs++
		stats.Successful++
		stats.LastSuccessfulTime = time.Now()
		if job.Attempts > 1 || q.opts.LogAllSuccesses {
			log.Info("job succeeded", logger.Duration("elapsed", elapsed))
		}
	}
	q.stats.ActionStats[name] = stats
}

func ctxDone(err error) bool {
	return errors.Is(err, context.Canceled)
}

// GetStats returns a snapshot of the current job statistics
func (q *JobQueue) GetStats() JobStatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	actionStats := make(map[string]ActionStats, len(q.stats.ActionStats))
	for k, v := range q.stats.ActionStats {
		actionStats[k] = v
	}

	pending := 0
	for _, j := range q.jobs {
		if j.Status == JobStatusPending || j.Status == JobStatusRetrying {
			pending++
		}
	}

	return JobStatsSnapshot{
		TotalJobs:        q.stats.TotalJobs,
		SuccessfulJobs:   q.stats.SuccessfulJobs,
		FailedJobs:       q.stats.FailedJobs,
		StaleJobs:        q.stats.StaleJobs,
		ArchivedJobs:     q.stats.ArchivedJobs,
		RejectedJobs:     q.stats.RejectedJobs,
		RetryAttempts:    q.stats.RetryAttempts,
		PendingJobs:      pending,
		RunningJobs:      q.running,
		MaxQueueSize:     q.opts.MaxJobs,
		QueueUtilization: float64(len(q.jobs)) / float64(q.opts.MaxJobs) * 100,
		ActionStats:      actionStats,
	}
}

// GetDefaultRetryConfig returns a default retry configuration
func GetDefaultRetryConfig(enabled bool) RetryConfig {
	if !enabled {
		return RetryConfig{Enabled: false}
	}
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   5,
		InitialDelay: 30 * time.Second,
		MaxDelay:     1 * time.Hour,
		Multiplier:   2.0,
	}
}

// ProcessImmediately runs one cleanup and dispatch cycle without waiting for the ticker
func (q *JobQueue) ProcessImmediately(ctx context.Context) {
	q.cleanupStaleJobs()
	q.processDueJobs(ctx)
}
