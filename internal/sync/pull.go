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

// PullWorker produces pull work by polling the remote store per mapping
// window, and consumes it by applying records to local entities through
// the create/update decision machine.
type PullWorker struct {
	client   odata.Client
	mappings *mapping.Set
	objects  store.MappedObjects
	states   store.MappingStates
	entities entity.Store
	registry *fieldmap.Registry
	hooks    *Hooks
	queue    *PullQueue

	backlogMax int
	now        func() time.Time
}

// PullOption configures a PullWorker.
type PullOption func(*PullWorker)

// WithBacklogMax overrides the backpressure threshold.
func WithBacklogMax(n int) PullOption {
	return func(w *PullWorker) {
		if n > 0 {
			w.backlogMax = n
		}
	}
}

// WithPullClock overrides the worker's clock. For tests.
func WithPullClock(now func() time.Time) PullOption {
	return func(w *PullWorker) { w.now = now }
}

// NewPullWorker wires a pull worker from its collaborators.
func NewPullWorker(
	client odata.Client,
	mappings *mapping.Set,
	objects store.MappedObjects,
	states store.MappingStates,
	entities entity.Store,
	registry *fieldmap.Registry,
	hooks *Hooks,
	queue *PullQueue,
	opts ...PullOption,
) *PullWorker {
	w := &PullWorker{
		client:     client,
		mappings:   mappings,
		objects:    objects,
		states:     states,
		entities:   entities,
		registry:   registry,
		hooks:      hooks,
		queue:      queue,
		backlogMax: DefaultPullBacklogMax,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Queue returns the transient pull queue, for external producers such
// as the single-record refresh endpoint.
func (w *PullWorker) Queue() *PullQueue { return w.queue }

// QueueSignal returns a channel that receives a value when records are
// waiting in the pull queue.
func (w *PullWorker) QueueSignal() <-chan struct{} { return w.queue.Wait() }

// EnqueueAll runs one poll cycle over every pull-enabled mapping,
// skipping mappings whose cadence has not elapsed.
func (w *PullWorker) EnqueueAll(ctx context.Context) error {
	for _, m := range w.mappings.PullMappings() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		due, err := w.pullDue(ctx, m)
		if err != nil {
			return err
		}
		if !due {
			continue
		}
		if err := w.EnqueueUpdatedRecords(ctx, m, time.Time{}, time.Time{}, false); err != nil {
			// Transport failure aborts this mapping's cycle without
			// touching its watermark; other mappings still poll.
			slog.Error("pull enqueue cycle failed",
				"component", "pull",
				"mapping", m.ID,
				"error", err,
			)
		}
	}
	return nil
}

func (w *PullWorker) pullDue(ctx context.Context, m *mapping.Mapping) (bool, error) {
	if m.PullFrequency <= 0 {
		return true, nil
	}
	st, err := w.states.Get(ctx, m.ID)
	if err != nil {
		return false, err
	}
	return !w.now().Before(st.LastPullTime.Add(m.PullInterval())), nil
}

// EnqueueUpdatedRecords builds the windowed pull query for one mapping,
// drains every result page into the pull queue, and advances the
// mapping's watermark to the maximum trigger date seen — only after the
// full drain succeeds, so a partial failure re-delivers rather than
// skips.
//
// An explicit start/stop forces that window; otherwise the window opens
// at the stored watermark. When the queue backlog already exceeds the
// backpressure threshold the cycle is skipped entirely.
func (w *PullWorker) EnqueueUpdatedRecords(ctx context.Context, m *mapping.Mapping, start, stop time.Time, forcePull bool) error {
	if w.queue.Len() >= w.backlogMax {
		slog.Warn("pull queue backlog over threshold, skipping enqueue",
			"component", "pull",
			"mapping", m.ID,
			"backlog", w.queue.Len(),
		)
		return nil
	}

	if start.IsZero() {
		st, err := w.states.Get(ctx, m.ID)
		if err != nil {
			return err
		}
		start = st.LastPullTime
	}

	q := w.buildPullQuery(m, start, stop)
	page, err := w.client.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("pull query: %w", err)
	}

	var maxSeen time.Time
	var drained int
	for {
		for _, rec := range page.Records() {
			w.queue.Enqueue(PullItem{MappingID: m.ID, Record: rec, ForcePull: forcePull})
			drained++
			if raw, ok := rec.Value(m.PullTriggerDateField); ok {
				if td, terr := fieldmap.ParseTime(raw); terr == nil && td.After(maxSeen) {
					maxSeen = td
				}
			}
		}
		if page.Done() {
			break
		}
		page, err = w.client.QueryMore(ctx, page)
		if err != nil {
			return fmt.Errorf("pull query more: %w", err)
		}
	}

	if drained > 0 {
		slog.Info("enqueued updated records",
			"component", "pull",
			"mapping", m.ID,
			"records", drained,
		)
	}
	if !maxSeen.IsZero() {
		if err := w.states.SetLastPull(ctx, m.ID, maxSeen); err != nil {
			return err
		}
	}
	return nil
}

// buildPullQuery selects every pull-enabled field plus key and trigger
// date fields, windowed on the trigger date.
func (w *PullWorker) buildPullQuery(m *mapping.Mapping, start, stop time.Time) *odata.SelectQuery {
	q := odata.NewSelectQuery(m.RemoteObjectType)
	q.AddFields(m.PullFieldNames()...)
	if !start.IsZero() {
		q.AddCondition(m.PullTriggerDateField, odata.OpGreaterThan, start.UTC())
	}
	if !stop.IsZero() {
		q.AddCondition(m.PullTriggerDateField, odata.OpLessThan, stop.UTC())
	}
	q.AddRawFilter(m.PullWhereClause)
	q.OrderBy(m.PullTriggerDateField, "asc")
	return q
}

// DrainQueue consumes the pull queue until empty. Item-level failures
// are logged and do not stop the drain.
func (w *PullWorker) DrainQueue(ctx context.Context) int {
	var processed int
	for {
		if ctx.Err() != nil {
			return processed
		}
		item, ok := w.queue.TryDequeue()
		if !ok {
			return processed
		}
		if err := w.ProcessItem(ctx, item); err != nil {
			slog.Error("pull item failed",
				"component", "pull",
				"mapping", item.MappingID,
				"error", err,
			)
		}
		processed++
	}
}

// ProcessItem applies one remote record locally: update when the
// identity already links a local entity, create otherwise.
func (w *PullWorker) ProcessItem(ctx context.Context, item PullItem) error {
	m, ok := w.mappings.Get(item.MappingID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMapping, item.MappingID)
	}

	remoteID, err := identity.Derive(item.Record, m)
	if err != nil {
		// Configuration defect; retrying cannot help.
		return err
	}

	obj, err := w.objects.GetByRemote(ctx, m.ID, remoteID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if obj != nil {
		return w.pullUpdate(ctx, m, item, obj, remoteID)
	}
	return w.pullCreate(ctx, m, item, remoteID)
}

// pullUpdate applies a record onto an already-linked local entity,
// arbitrating by timestamp unless a force-pull overrides.
func (w *PullWorker) pullUpdate(ctx context.Context, m *mapping.Mapping, item PullItem, obj *store.MappedObject, remoteID string) error {
	e, err := w.entities.Load(ctx, m.LocalType, obj.LocalID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			// Integrity anomaly: the link outlived its entity. Logged,
			// dropped, never retried automatically.
			slog.Error("mapped object references missing local entity",
				"component", "pull",
				"mapping", m.ID,
				"entity_id", obj.LocalID,
				"remote_id", remoteID,
			)
			return nil
		}
		return err
	}

	remoteTime, remoteKnown := w.triggerTime(m, item.Record)
	localTime := e.Changed
	if localTime.IsZero() {
		localTime = obj.EntityUpdated
	}

	proceed := item.ForcePull || obj.ForcePull || !remoteKnown || remoteTime.After(localTime)
	if !proceed {
		slog.Debug("remote not newer, skipping pull",
			"component", "pull",
			"mapping", m.ID,
			"remote_id", remoteID,
		)
		return nil
	}
	if w.hooks.vetoPull(ctx, m, item.Record, e) {
		return nil
	}
	return w.applyAndStamp(ctx, m, item.Record, e, obj, remoteID)
}

// pullCreate builds a local stub and its link row, then applies the
// record unconditionally: new records always pull fully.
func (w *PullWorker) pullCreate(ctx context.Context, m *mapping.Mapping, item PullItem, remoteID string) error {
	e := entity.NewEntity(m.LocalType, m.LocalBundle)
	obj := &store.MappedObject{
		LocalType: m.LocalType,
		MappingID: m.ID,
		RemoteID:  remoteID,
	}
	if w.hooks.vetoPull(ctx, m, item.Record, e) {
		return nil
	}
	return w.applyAndStamp(ctx, m, item.Record, e, obj, remoteID)
}

// triggerTime parses the record's trigger date field. Absent or
// unparseable values report unknown, which forces the update through.
func (w *PullWorker) triggerTime(m *mapping.Mapping, rec odata.Record) (time.Time, bool) {
	raw, ok := rec.Value(m.PullTriggerDateField)
	if !ok || raw == nil {
		return time.Time{}, false
	}
	t, err := fieldmap.ParseTime(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// applyAndStamp runs field application, saves the entity, then saves the
// link row with pull metadata.
func (w *PullWorker) applyAndStamp(ctx context.Context, m *mapping.Mapping, rec odata.Record, e *entity.Entity, obj *store.MappedObject, remoteID string) error {
	results := w.applyFields(ctx, m, rec, e)
	for _, res := range results {
		if res.Err != nil {
			// Per-field soft failure: schema drift on one field must
			// not block the rest of the record.
			slog.Warn("field pull failed",
				"component", "pull",
				"mapping", m.ID,
				"remote_field", res.Field.RemoteField,
				"remote_id", remoteID,
				"error", res.Err,
			)
		}
	}

	if err := w.entities.Save(ctx, e); err != nil {
		return fmt.Errorf("save local entity: %w", err)
	}

	if obj.LocalID == "" {
		obj.LocalID = e.ID
	}
	if obj.RemoteID == "" {
		// Hash-derived identities are not carried by any single field;
		// stamp the derived value now.
		obj.RemoteID = remoteID
	}
	obj.EntityUpdated = e.Changed
	obj.LastSyncAction = store.ActionPull
	obj.LastSyncStatus = store.StatusSuccess
	obj.ForcePull = false
	if err := w.objects.Save(ctx, obj); err != nil {
		return fmt.Errorf("save mapped object: %w", err)
	}

	slog.Info("pulled record",
		"component", "pull",
		"mapping", m.ID,
		"entity_id", obj.LocalID,
		"remote_id", remoteID,
	)
	return nil
}

// applyFields computes and assigns every pull-enabled field, collecting
// per-field results instead of aborting on the first failure.
func (w *PullWorker) applyFields(ctx context.Context, m *mapping.Mapping, rec odata.Record, e *entity.Entity) []fieldmap.FieldResult {
	var results []fieldmap.FieldResult
	for _, fm := range m.PullFields() {
		plugin, known := w.registry.Get(fm.Plugin)
		if !known || !plugin.Pull(fm) {
			continue
		}
		res, err := plugin.PullValue(ctx, rec, e, fm, m)
		fr := fieldmap.FieldResult{Field: fm, Value: res.Value, Applied: res.Applied, Err: err}
		results = append(results, fr)
		if err != nil || res.Applied {
			continue
		}
		if aerr := w.assignField(ctx, m, fm, e, res.Value); aerr != nil {
			results[len(results)-1].Err = aerr
		}
	}
	return results
}

// assignField writes a pulled value onto the entity, supporting one
// level of relationship traversal via a field:subfield selector.
func (w *PullWorker) assignField(ctx context.Context, m *mapping.Mapping, fm mapping.FieldMapping, e *entity.Entity, value any) error {
	field, subfield := entity.SplitSelector(fm.LocalField)
	if subfield == "" {
		e.Set(field, value)
		return nil
	}

	// Traversal needs the referenced mapping to know the target type.
	refMapping, ok := w.mappings.Get(fm.ReferencedMapping)
	if !ok {
		return fmt.Errorf("selector %q needs a referenced mapping", fm.LocalField)
	}
	refID, ok := e.Get(field)
	if !ok || refID == nil {
		return nil
	}
	ref, err := w.entities.Load(ctx, refMapping.LocalType, odata.Stringify(refID))
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil
		}
		return err
	}
	ref.Set(subfield, value)
	// The related entity saves independently of the primary record.
	return w.entities.Save(ctx, ref)
}
