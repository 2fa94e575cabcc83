package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/apisync/internal/snapshot"
)

// SnapshotStore represents a database that can generate point-in-time
// snapshot files.
type SnapshotStore interface {
	GenerateSnapshot(ctx context.Context) error
	GetSnapshotPath(ctx context.Context) (string, error)
}

// SnapshotCoordinator generates periodic snapshots of the sync database
// and uploads them to S3 when configured.
type SnapshotCoordinator struct {
	store    SnapshotStore
	uploader snapshot.Uploader
	interval time.Duration
}

// NewSnapshotCoordinator creates a coordinator that snapshots the sync
// database on the given interval. The uploader parameter is optional; if
// nil, no S3 upload is attempted.
func NewSnapshotCoordinator(store SnapshotStore, interval time.Duration, uploader snapshot.Uploader) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		store:    store,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the coordinator loop.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Generate a snapshot immediately on start
	c.generateSnapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.generateSnapshot(ctx)
		}
	}
}

// generateSnapshot produces one snapshot of the sync database.
// Returns true if successful, false if failed.
func (c *SnapshotCoordinator) generateSnapshot(ctx context.Context) bool {
	slog.Info("snapshot generation started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "snapshot_start",
	)

	if err := c.store.GenerateSnapshot(ctx); err != nil {
		if ctx.Err() != nil {
			return false // Graceful shutdown, don't log as error
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"error", err,
		)
		return false
	}

	// Upload to S3 if configured (non-fatal on failure)
	if c.uploader != nil {
		c.uploadSnapshot(ctx)
	}

	return true
}

// uploadSnapshot uploads the generated snapshot to S3.
// Upload failures are logged as warnings but are NOT fatal since the local
// snapshot remains valid.
func (c *SnapshotCoordinator) uploadSnapshot(ctx context.Context) {
	path, err := c.store.GetSnapshotPath(ctx)
	if err != nil {
		slog.Warn("failed to get snapshot path for upload",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_upload_failed",
			"error", err,
		)
		return
	}

	if err := c.uploader.Upload(ctx, path); err != nil {
		slog.Warn("snapshot upload to S3 failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_upload_failed",
			"error", err,
		)
		return
	}

	slog.Info("snapshot uploaded to S3",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "snapshot_uploaded",
	)
}
