package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/store"
)

// TrackEntity enqueues push work for a local entity lifecycle event.
// Every push-enabled mapping covering the entity's type and bundle whose
// triggers include op gets a queue item; re-tracking an already-queued
// entity merges instead of duplicating.
func (w *PushWorker) TrackEntity(ctx context.Context, localType, bundle, localID string, op mapping.Operation) error {
	for _, m := range w.mappings.PushMappings() {
		if m.LocalType != localType {
			continue
		}
		if m.LocalBundle != "" && bundle != "" && m.LocalBundle != bundle {
			continue
		}
		if !m.PushTriggers.Fires(op) {
			continue
		}

		item := store.QueueItem{
			Name:     m.ID,
			EntityID: localID,
			Op:       op,
		}
		if obj, err := w.objects.GetByLocal(ctx, m.ID, localType, localID); err == nil {
			item.MappedObjectID = obj.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := w.queue.Enqueue(ctx, item); err != nil {
			return err
		}
		slog.Debug("tracked entity event",
			"component", "push",
			"mapping", m.ID,
			"entity_id", localID,
			"op", string(op),
		)
	}
	return nil
}
