package worker

import (
	"context"
	"log/slog"
	"time"
)

// Puller polls the remote endpoint for updated records and applies the
// queued records to local entities.
type Puller interface {
	EnqueueAll(ctx context.Context) error
	DrainQueue(ctx context.Context) int
	QueueSignal() <-chan struct{}
}

// PullCoordinator polls the remote endpoint on a fixed interval and drains
// the transient pull queue whenever records arrive. Polling and draining
// share one loop so a slow drain naturally delays the next poll.
type PullCoordinator struct {
	puller   Puller
	interval time.Duration
}

// NewPullCoordinator creates a coordinator that polls for updated remote
// records on the given interval.
func NewPullCoordinator(puller Puller, interval time.Duration) *PullCoordinator {
	return &PullCoordinator{
		puller:   puller,
		interval: interval,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
func (c *PullCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "pull-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Poll immediately on start, then on each tick
	c.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "pull-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		case <-c.puller.QueueSignal():
			c.drainOnce(ctx)
		}
	}
}

func (c *PullCoordinator) pollOnce(ctx context.Context) {
	if err := c.puller.EnqueueAll(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("pull poll cycle failed",
			"component", "worker",
			"worker", "pull-coordinator",
			"action", "pull_cycle_failed",
			"error", err,
		)
	}
	// Records enqueued during the poll are drained in the same cycle so a
	// quiet signal channel cannot strand them.
	c.drainOnce(ctx)
}

func (c *PullCoordinator) drainOnce(ctx context.Context) {
	n := c.puller.DrainQueue(ctx)
	if n > 0 {
		slog.Info("pull queue drained",
			"component", "worker",
			"worker", "pull-coordinator",
			"action", "queue_drained",
			"processed", n,
		)
	}
}
