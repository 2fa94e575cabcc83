// Package sync implements the reconciliation engine: the push and pull
// workers, the transient pull queue, and the delete reconciler. All
// collaborators arrive via constructors; nothing here reaches for
// ambient state.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
	"github.com/hyperengineering/apisync/internal/store"
)

var (
	// ErrEntityGone marks a queue item whose local entity no longer
	// exists. Non-retryable: the item is deleted outright instead of
	// counting a failure.
	ErrEntityGone = errors.New("referenced local entity not found")

	// ErrSuspend signals a systemic transient failure (auth or network
	// outage). The batch's leases are released and the rest of the
	// mapping's queue is abandoned for this run.
	ErrSuspend = errors.New("suspend queue processing")

	// ErrRequeue signals that the batch's leases should be released and
	// the claim retried immediately.
	ErrRequeue = errors.New("requeue batch")

	// ErrUnknownMapping is returned when a work item references a
	// mapping that is not loaded.
	ErrUnknownMapping = errors.New("unknown mapping")
)

// Defaults applied when a mapping leaves the corresponding knob unset.
const (
	DefaultPushLimit   = 50
	DefaultPushRetries = 10
	DefaultLeaseTime   = 5 * time.Minute

	// DefaultGlobalPushCap bounds total items pushed across all
	// mappings in one invocation.
	DefaultGlobalPushCap = 1000

	// DefaultPullBacklogMax is the backpressure threshold: when the
	// pull queue already holds this many items, an enqueue cycle is
	// skipped entirely.
	DefaultPullBacklogMax = 10000
)

// PullItem is one transient unit of pull work: a remote record awaiting
// local application.
type PullItem struct {
	MappingID string
	Record    odata.Record
	ForcePull bool
}

// BatchProcessor is the pluggable strategy handed a claimed batch of
// push queue items. Returning ErrRequeue releases the batch and claims
// again; ErrSuspend releases the batch and abandons the mapping for this
// run; any other error leaves the batch claimed to expire naturally.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, m *mapping.Mapping, items []store.QueueItem) error
}

// PushParamsMutator adjusts an outbound payload before transmission.
type PushParamsMutator func(ctx context.Context, m *mapping.Mapping, e *entity.Entity, params map[string]any)

// PullVeto can cancel an inbound record application. Returning true
// vetoes the pull regardless of timestamp arbitration.
type PullVeto func(ctx context.Context, m *mapping.Mapping, rec odata.Record, e *entity.Entity) bool

// Hooks is the engine's extension point registry.
type Hooks struct {
	mutators []PushParamsMutator
	vetoes   []PullVeto
}

// AddPushParamsMutator registers an outbound payload mutator.
func (h *Hooks) AddPushParamsMutator(f PushParamsMutator) {
	h.mutators = append(h.mutators, f)
}

// AddPullVeto registers a pre-pull veto.
func (h *Hooks) AddPullVeto(f PullVeto) {
	h.vetoes = append(h.vetoes, f)
}

func (h *Hooks) mutatePushParams(ctx context.Context, m *mapping.Mapping, e *entity.Entity, params map[string]any) {
	if h == nil {
		return
	}
	for _, f := range h.mutators {
		f(ctx, m, e, params)
	}
}

func (h *Hooks) vetoPull(ctx context.Context, m *mapping.Mapping, rec odata.Record, e *entity.Entity) bool {
	if h == nil {
		return false
	}
	for _, f := range h.vetoes {
		if f(ctx, m, rec, e) {
			return true
		}
	}
	return false
}

// recordPath builds the remote resource path addressing one record by
// its canonical identity.
func recordPath(m *mapping.Mapping, remoteID string) string {
	return m.RemoteObjectType + "('" + remoteID + "')"
}
