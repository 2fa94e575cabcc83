package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/fieldmap"
	"github.com/hyperengineering/apisync/internal/identity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
	"github.com/hyperengineering/apisync/internal/store"
)

// PushWorker drains the durable push queue, reconciling local changes
// into the remote store mapping by mapping.
type PushWorker struct {
	client    odata.Client
	mappings  *mapping.Set
	objects   store.MappedObjects
	queue     store.PushQueue
	states    store.MappingStates
	entities  entity.Store
	registry  *fieldmap.Registry
	hooks     *Hooks
	processor BatchProcessor

	globalCap int
	leaseTime time.Duration
	now       func() time.Time
}

// PushOption configures a PushWorker.
type PushOption func(*PushWorker)

// WithGlobalPushCap overrides the cross-mapping item cap per invocation.
func WithGlobalPushCap(n int) PushOption {
	return func(w *PushWorker) {
		if n > 0 {
			w.globalCap = n
		}
	}
}

// WithLeaseTime overrides the queue claim lease duration.
func WithLeaseTime(d time.Duration) PushOption {
	return func(w *PushWorker) {
		if d > 0 {
			w.leaseTime = d
		}
	}
}

// WithBatchProcessor replaces the default per-item processing strategy.
func WithBatchProcessor(p BatchProcessor) PushOption {
	return func(w *PushWorker) { w.processor = p }
}

// WithPushClock overrides the worker's clock. For tests.
func WithPushClock(now func() time.Time) PushOption {
	return func(w *PushWorker) { w.now = now }
}

// NewPushWorker wires a push worker from its collaborators.
func NewPushWorker(
	client odata.Client,
	mappings *mapping.Set,
	objects store.MappedObjects,
	queue store.PushQueue,
	states store.MappingStates,
	entities entity.Store,
	registry *fieldmap.Registry,
	hooks *Hooks,
	opts ...PushOption,
) *PushWorker {
	w := &PushWorker{
		client:    client,
		mappings:  mappings,
		objects:   objects,
		queue:     queue,
		states:    states,
		entities:  entities,
		registry:  registry,
		hooks:     hooks,
		globalCap: DefaultGlobalPushCap,
		leaseTime: DefaultLeaseTime,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.processor == nil {
		w.processor = w
	}
	return w
}

// ProcessAll runs one push invocation: every push-enabled mapping in
// weight order, each respecting its own cadence and batch limit, all
// bounded by the global cap.
func (w *PushWorker) ProcessAll(ctx context.Context) error {
	var total int
	for _, m := range w.mappings.PushMappings() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if total >= w.globalCap {
			break
		}
		due, err := w.pushDue(ctx, m)
		if err != nil {
			return err
		}
		if !due {
			continue
		}
		n, err := w.ProcessMapping(ctx, m, w.globalCap-total)
		total += n
		if err != nil {
			if errors.Is(err, ErrSuspend) {
				slog.Warn("push suspended for mapping",
					"component", "push",
					"mapping", m.ID,
					"error", err,
				)
				continue
			}
			return err
		}
	}
	return nil
}

// pushDue reports whether the mapping's push cadence has elapsed.
func (w *PushWorker) pushDue(ctx context.Context, m *mapping.Mapping) (bool, error) {
	if m.PushFrequency <= 0 {
		return true, nil
	}
	st, err := w.states.Get(ctx, m.ID)
	if err != nil {
		return false, err
	}
	return !w.now().Before(st.LastPushTime.Add(m.PushInterval())), nil
}

// ProcessMapping claims and processes one mapping's queue up to the
// given remaining global budget. Returns the number of items handed to
// the processor.
func (w *PushWorker) ProcessMapping(ctx context.Context, m *mapping.Mapping, remaining int) (int, error) {
	limit := m.PushLimit
	if limit <= 0 {
		limit = DefaultPushLimit
	}
	if limit > remaining {
		limit = remaining
	}
	failLimit := m.PushRetries
	if failLimit <= 0 {
		failLimit = DefaultPushRetries
	}

	var processed int
	for processed < limit {
		items, err := w.queue.ClaimItems(ctx, m.ID, limit-processed, failLimit, w.leaseTime)
		if err != nil {
			return processed, fmt.Errorf("claim items for %s: %w", m.ID, err)
		}
		if len(items) == 0 {
			break
		}

		err = w.processor.ProcessBatch(ctx, m, items)
		switch {
		case err == nil:
			processed += len(items)
		case errors.Is(err, ErrRequeue):
			w.releaseBatch(ctx, items)
			continue
		case errors.Is(err, ErrSuspend):
			w.releaseBatch(ctx, items)
			return processed, err
		default:
			// Unknown batch failure: leave the batch claimed so the
			// leases expire naturally instead of hot-looping.
			slog.Error("push batch failed",
				"component", "push",
				"mapping", m.ID,
				"items", len(items),
				"error", err,
			)
			return processed, nil
		}
	}

	if err := w.states.SetLastPush(ctx, m.ID, w.now()); err != nil {
		return processed, err
	}
	return processed, nil
}

func (w *PushWorker) releaseBatch(ctx context.Context, items []store.QueueItem) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	if err := w.queue.Release(ctx, ids...); err != nil {
		slog.Error("release batch failed", "component", "push", "error", err)
	}
}

// ProcessBatch is the default strategy: items one by one, per-item
// failure accounting, suspension on systemic transport failure.
func (w *PushWorker) ProcessBatch(ctx context.Context, m *mapping.Mapping, items []store.QueueItem) error {
	for i, item := range items {
		err := w.pushItem(ctx, m, item)
		switch {
		case err == nil:
			if derr := w.queue.DeleteItem(ctx, item.ID); derr != nil {
				return derr
			}
		case errors.Is(err, ErrEntityGone):
			slog.Warn("queue item references missing entity, dropping",
				"component", "push",
				"mapping", m.ID,
				"entity_id", item.EntityID,
				"op", string(item.Op),
			)
			if derr := w.queue.DeleteItem(ctx, item.ID); derr != nil {
				return derr
			}
		case isSystemic(err):
			// Auth or network outage: no point hammering the rest of
			// this mapping's queue. Release what is left, current item
			// included, without failure accounting.
			w.releaseBatch(ctx, items[i:])
			return fmt.Errorf("%w: %s", ErrSuspend, err)
		default:
			slog.Error("push item failed",
				"component", "push",
				"mapping", m.ID,
				"entity_id", item.EntityID,
				"op", string(item.Op),
				"failures", item.Failures+1,
				"error", err,
			)
			if ferr := w.queue.Fail(ctx, item.ID); ferr != nil {
				return ferr
			}
		}
	}
	return nil
}

// isSystemic reports whether an error indicates a remote-side or
// transport outage rather than a problem with the individual item.
func isSystemic(err error) bool {
	var re *odata.RequestError
	if errors.As(err, &re) {
		return re.StatusCode >= 500 || re.StatusCode == 401 || re.StatusCode == 429
	}
	// Anything without a status code is transport-level.
	return odata.IsTransient(err)
}

// pushItem reconciles one queue item into the remote store.
func (w *PushWorker) pushItem(ctx context.Context, m *mapping.Mapping, item store.QueueItem) error {
	obj, err := w.objects.GetByLocal(ctx, m.ID, m.LocalType, item.EntityID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if item.Op == mapping.OperationDelete {
		return w.pushDelete(ctx, m, item, obj)
	}

	e, err := w.entities.Load(ctx, m.LocalType, item.EntityID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return ErrEntityGone
		}
		return err
	}

	// Identity presence is the sole create-vs-update discriminant.
	action := store.ActionPushCreate
	if obj != nil && obj.RemoteID != "" {
		action = store.ActionPushUpdate
	}

	params, err := w.buildParams(ctx, m, e)
	if err != nil {
		return err
	}
	w.hooks.mutatePushParams(ctx, m, e, params)

	if obj == nil {
		obj = &store.MappedObject{
			LocalType: m.LocalType,
			LocalID:   item.EntityID,
			MappingID: m.ID,
		}
	}

	switch action {
	case store.ActionPushUpdate:
		if err := w.client.Update(ctx, recordPath(m, obj.RemoteID), params); err != nil {
			return fmt.Errorf("remote update: %w", err)
		}
	default:
		rec, err := w.client.Create(ctx, m.RemoteObjectType, params)
		if err != nil {
			return fmt.Errorf("remote create: %w", err)
		}
		remoteID, err := identity.Derive(rec, m)
		if err != nil {
			return fmt.Errorf("derive identity from created record: %w", err)
		}
		obj.RemoteID = remoteID
	}

	obj.EntityUpdated = e.Changed
	obj.LastSyncAction = action
	obj.LastSyncStatus = store.StatusSuccess
	if err := w.objects.Save(ctx, obj); err != nil {
		return fmt.Errorf("save mapped object: %w", err)
	}

	slog.Info("pushed entity",
		"component", "push",
		"mapping", m.ID,
		"entity_id", item.EntityID,
		"remote_id", obj.RemoteID,
		"action", string(action),
	)
	return nil
}

// pushDelete removes the remote counterpart and the link row. A link
// that never synced, or a remote record already gone, is not an error.
func (w *PushWorker) pushDelete(ctx context.Context, m *mapping.Mapping, item store.QueueItem, obj *store.MappedObject) error {
	if obj == nil || obj.RemoteID == "" {
		slog.Info("delete for unsynced entity, nothing to do",
			"component", "push",
			"mapping", m.ID,
			"entity_id", item.EntityID,
		)
		return nil
	}
	if err := w.client.Delete(ctx, recordPath(m, obj.RemoteID)); err != nil && !errors.Is(err, odata.ErrNotFound) {
		return fmt.Errorf("remote delete: %w", err)
	}
	if err := w.objects.Delete(ctx, obj.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	slog.Info("pushed delete",
		"component", "push",
		"mapping", m.ID,
		"entity_id", item.EntityID,
		"remote_id", obj.RemoteID,
	)
	return nil
}

// buildParams assembles the outbound payload from every push-enabled
// field mapping. A field plugin error here aborts the push: the queue
// layer handles retry.
func (w *PushWorker) buildParams(ctx context.Context, m *mapping.Mapping, e *entity.Entity) (map[string]any, error) {
	params := make(map[string]any)
	for _, fm := range m.PushFields() {
		plugin, known := w.registry.Get(fm.Plugin)
		if !known {
			slog.Warn("unknown field plugin, skipping field",
				"component", "push",
				"mapping", m.ID,
				"plugin", fm.Plugin,
				"remote_field", fm.RemoteField,
			)
			continue
		}
		if !plugin.Push(fm) {
			continue
		}
		v, err := plugin.PushValue(ctx, e, fm, m)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fm.RemoteField, err)
		}
		if v == nil {
			continue
		}
		params[fm.RemoteField] = v
	}
	return params, nil
}
