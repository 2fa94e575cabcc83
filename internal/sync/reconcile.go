package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/identity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
	"github.com/hyperengineering/apisync/internal/store"
)

// DeleteReconciler detects orphans: local links whose remote counterpart
// no longer exists. Deletion is inferred purely from non-presence in a
// current listing; no remote tombstone support is needed.
type DeleteReconciler struct {
	client   odata.Client
	objects  store.MappedObjects
	states   store.MappingStates
	entities entity.Store

	// DeleteLocalEntities controls whether Reconcile cascades orphan
	// purges onto the linked local entities, or removes only the link
	// rows.
	DeleteLocalEntities bool

	now func() time.Time
}

// NewDeleteReconciler wires a reconciler from its collaborators.
func NewDeleteReconciler(client odata.Client, objects store.MappedObjects, states store.MappingStates, entities entity.Store) *DeleteReconciler {
	return &DeleteReconciler{
		client:   client,
		objects:  objects,
		states:   states,
		entities: entities,
		now:      time.Now,
	}
}

// OrphanedLocalIDs returns the mapped-object row IDs of every local
// link with no remote counterpart.
//
// The diff streams: the local (identity, row id) pairs seed a candidate
// set, then a narrow key-fields-only query drains all remote pages and
// strikes each derived identity from the set. Whatever survives is the
// orphan set, regardless of how the remote result was paginated.
func (r *DeleteReconciler) OrphanedLocalIDs(ctx context.Context, m *mapping.Mapping) ([]string, error) {
	pairs, err := r.objects.ListIDPairs(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	candidates := make(map[string]string, len(pairs))
	for _, p := range pairs {
		candidates[p.RemoteID] = p.MappedObjectID
	}

	q := odata.NewSelectQuery(m.RemoteObjectType)
	q.AddFields(m.KeyFieldNames()...)
	q.AddRawFilter(m.PullWhereClause)

	page, err := r.client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("existence query: %w", err)
	}
	for {
		for _, rec := range page.Records() {
			remoteID, derr := identity.Derive(rec, m)
			if derr != nil {
				// A record the identity cannot be derived from cannot
				// clear any candidate; treating it as absent would
				// fabricate orphans, so the whole pass aborts.
				return nil, derr
			}
			delete(candidates, remoteID)
		}
		if page.Done() {
			break
		}
		page, err = r.client.QueryMore(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("existence query more: %w", err)
		}
	}

	orphans := make([]string, 0, len(candidates))
	for _, objID := range candidates {
		orphans = append(orphans, objID)
	}
	sort.Strings(orphans)
	return orphans, nil
}

// Reconcile finds orphans for one mapping and, when purge is set,
// removes their link rows (and local entities per policy). The
// mapping's last-delete timestamp advances on success.
func (r *DeleteReconciler) Reconcile(ctx context.Context, m *mapping.Mapping, purge bool) ([]string, error) {
	orphans, err := r.OrphanedLocalIDs(ctx, m)
	if err != nil {
		return nil, err
	}

	for _, objID := range orphans {
		slog.Info("orphaned local link detected",
			"component", "reconcile",
			"mapping", m.ID,
			"mapped_object_id", objID,
			"purged", purge,
		)
		if !purge {
			continue
		}
		if err := r.purgeOrphan(ctx, m, objID); err != nil {
			return orphans, err
		}
	}

	if err := r.states.SetLastDelete(ctx, m.ID, r.now()); err != nil {
		return orphans, err
	}
	return orphans, nil
}

func (r *DeleteReconciler) purgeOrphan(ctx context.Context, m *mapping.Mapping, objID string) error {
	if r.DeleteLocalEntities {
		// Resolve the linked entity before the link row disappears.
		obj, err := r.objects.GetByID(ctx, objID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if obj.LocalID != "" {
			e, err := r.entities.Load(ctx, obj.LocalType, obj.LocalID)
			if err == nil {
				if derr := r.entities.Delete(ctx, e); derr != nil {
					return derr
				}
			} else if !errors.Is(err, entity.ErrNotFound) {
				return err
			}
		}
	}
	if err := r.objects.Delete(ctx, objID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}
