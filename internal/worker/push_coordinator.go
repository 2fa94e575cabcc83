// Package worker contains the background coordinators that drive the sync
// engine on schedules: push delivery, pull polling, delete reconciliation,
// and database snapshots. Each coordinator owns a ticker loop and stops
// when its context is cancelled.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Pusher drives queued local changes to the remote endpoint.
// This interface allows testing with mock implementations.
type Pusher interface {
	ProcessAll(ctx context.Context) error
}

// PushCoordinator runs the push worker on a fixed interval.
type PushCoordinator struct {
	pusher   Pusher
	interval time.Duration
}

// NewPushCoordinator creates a coordinator that processes the push queue
// on the given interval.
func NewPushCoordinator(pusher Pusher, interval time.Duration) *PushCoordinator {
	return &PushCoordinator{
		pusher:   pusher,
		interval: interval,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
func (c *PushCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "push-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Process immediately on start, then on each tick
	c.processOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "push-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.processOnce(ctx)
		}
	}
}

func (c *PushCoordinator) processOnce(ctx context.Context) {
	if err := c.pusher.ProcessAll(ctx); err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log as error
		}
		slog.Error("push cycle failed",
			"component", "worker",
			"worker", "push-coordinator",
			"action", "push_cycle_failed",
			"error", err,
		)
	}
}
