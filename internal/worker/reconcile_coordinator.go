package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/apisync/internal/mapping"
)

// Reconciler detects remote records that have disappeared and reports the
// orphaned local links.
type Reconciler interface {
	Reconcile(ctx context.Context, m *mapping.Mapping, purge bool) ([]string, error)
}

// MappingSource enumerates the pull-enabled mappings eligible for delete
// reconciliation.
type MappingSource interface {
	PullMappings() []*mapping.Mapping
}

// ReconcileCoordinator runs delete reconciliation for every pull mapping
// on a fixed interval. Reconciliation is a full remote scan, so the
// interval is typically much longer than push or pull.
type ReconcileCoordinator struct {
	reconciler Reconciler
	mappings   MappingSource
	interval   time.Duration
	purge      bool
}

// NewReconcileCoordinator creates a coordinator that reconciles remote
// deletions on the given interval. When purge is true, orphaned links are
// removed rather than only reported.
func NewReconcileCoordinator(r Reconciler, mappings MappingSource, interval time.Duration, purge bool) *ReconcileCoordinator {
	return &ReconcileCoordinator{
		reconciler: r,
		mappings:   mappings,
		interval:   interval,
		purge:      purge,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
// Unlike the push and pull coordinators there is no immediate first run;
// a full remote scan at every process start would hammer the endpoint.
func (c *ReconcileCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "reconcile-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "reconcile-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.reconcileAll(ctx)
		}
	}
}

func (c *ReconcileCoordinator) reconcileAll(ctx context.Context) {
	var orphans, failed int
	for _, m := range c.mappings.PullMappings() {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log summary
		}
		ids, err := c.reconciler.Reconcile(ctx, m, c.purge)
		if err != nil {
			slog.Warn("delete reconciliation failed",
				"component", "worker",
				"worker", "reconcile-coordinator",
				"action", "reconcile_failed",
				"mapping", m.ID,
				"error", err,
			)
			failed++
			continue
		}
		orphans += len(ids)
	}

	if orphans > 0 || failed > 0 {
		slog.Info("delete reconciliation cycle completed",
			"component", "worker",
			"worker", "reconcile-coordinator",
			"action", "cycle_complete",
			"orphans", orphans,
			"failed", failed,
		)
	}
}
