package retrain

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/wildlife-reid/internal/logger"
)

// heartbeat keeps a started job's HeartbeatAt fresh. A ticker refreshes it in the background
// and checkpoints between steps may refresh it early, at most once per interval.
type heartbeat struct {
	jobs         *JobStore
	collectionID string
	generation   int64
	interval     time.Duration
	limiter      *rate.Limiter
}

func newHeartbeat(jobs *JobStore, collectionID string, generation int64, interval time.Duration) *heartbeat {
	return &heartbeat{
		jobs:         jobs,
		collectionID: collectionID,
		generation:   generation,
		interval:     interval,
		limiter:      rate.NewLimiter(rate.Every(interval), 1),
	}
}

// checkpoint refreshes the heartbeat unless one was written recently
func (h *heartbeat) checkpoint(ctx context.Context) {
	if h.limiter.Allow() {
		h.touch(ctx)
	}
}

func (h *heartbeat) touch(ctx context.Context) {
	if err := h.jobs.Touch(ctx, h.collectionID, h.generation); err != nil && ctx.Err() == nil {
		GetLogger().Warn("heartbeat write failed",
			logger.String("collection_id", h.collectionID),
			logger.Int64("generation", h.generation),
			logger.Error(err))
	}
}

// run ticks until ctx is done
func (h *heartbeat) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkpoint(ctx)
		}
	}
}
