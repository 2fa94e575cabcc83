package store

import (
	"context"
	"time"

	"github.com/hyperengineering/apisync/internal/mapping"
)

// SyncStatus records the outcome of the most recent sync of a mapped
// object.
type SyncStatus string

const (
	StatusSuccess SyncStatus = "success"
	StatusFail    SyncStatus = "fail"
)

// SyncAction records which operation last touched a mapped object.
type SyncAction string

const (
	ActionPushCreate SyncAction = "push_create"
	ActionPushUpdate SyncAction = "push_update"
	ActionPushDelete SyncAction = "push_delete"
	ActionPull       SyncAction = "pull"
)

// MappedObject is the durable link between a local entity instance and
// its remote identity under one mapping.
type MappedObject struct {
	ID             string
	LocalType      string
	LocalID        string
	MappingID      string
	RemoteID       string
	ForcePull      bool
	LastSyncStatus SyncStatus
	LastSyncAction SyncAction

	// EntityUpdated tracks the local entity's own last-changed time at
	// the moment of the last push; pull conflict arbitration compares
	// against it when the entity itself is unavailable.
	EntityUpdated time.Time

	Created time.Time
	Changed time.Time
}

// Revision is one entry of a mapped object's bounded sync history.
type Revision struct {
	ID             string
	MappedObjectID string
	RemoteID       string
	LastSyncStatus SyncStatus
	LastSyncAction SyncAction
	EntityUpdated  time.Time
	Created        time.Time
}

// IDPair is one (remote identity, mapped object row) pair, the unit of
// the orphan-detection diff.
type IDPair struct {
	RemoteID       string
	MappedObjectID string
}

// QueueItem is one durable push work item. Items are unique per
// (name, entity id): re-enqueueing merges instead of duplicating.
type QueueItem struct {
	ID             string
	Name           string
	EntityID       string
	Op             mapping.Operation
	MappedObjectID string
	Failures       int

	// Expire is the lease expiry; zero while unleased. A claimed item
	// whose lease lapses becomes claimable again.
	Expire time.Time

	Created time.Time
	Updated time.Time
}

// Leased reports whether the item holds an unexpired lease at now.
func (i QueueItem) Leased(now time.Time) bool {
	return !i.Expire.IsZero() && i.Expire.After(now)
}

// MappingState is the environment-local runtime state of one mapping.
type MappingState struct {
	MappingID      string
	LastPullTime   time.Time
	LastPushTime   time.Time
	LastDeleteTime time.Time
}

// MappedObjects is the persistence surface for link records.
type MappedObjects interface {
	GetByID(ctx context.Context, id string) (*MappedObject, error)
	GetByLocal(ctx context.Context, mappingID, localType, localID string) (*MappedObject, error)
	GetByRemote(ctx context.Context, mappingID, remoteID string) (*MappedObject, error)
	Save(ctx context.Context, obj *MappedObject) error
	Delete(ctx context.Context, id string) error
	DeleteByMapping(ctx context.Context, mappingID string) (int64, error)
	ListIDPairs(ctx context.Context, mappingID string) ([]IDPair, error)
	Revisions(ctx context.Context, mappedObjectID string) ([]Revision, error)
}

// PushQueue is the durable lease-based work queue.
type PushQueue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	ClaimItems(ctx context.Context, name string, n, failLimit int, leaseTime time.Duration) ([]QueueItem, error)
	Release(ctx context.Context, ids ...string) error
	Fail(ctx context.Context, id string) error
	DeleteItem(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string) error
	GetItem(ctx context.Context, id string) (QueueItem, error)
	GetItemByEntity(ctx context.Context, name, entityID string) (QueueItem, error)
	Len(ctx context.Context, name string) (int, error)
	TotalLen(ctx context.Context) (int, error)
	FailedLen(ctx context.Context, name string, failLimit int) (int, error)
}

// MappingStates persists per-mapping watermarks.
type MappingStates interface {
	Get(ctx context.Context, mappingID string) (*MappingState, error)
	SetLastPull(ctx context.Context, mappingID string, t time.Time) error
	SetLastPush(ctx context.Context, mappingID string, t time.Time) error
	SetLastDelete(ctx context.Context, mappingID string, t time.Time) error
}
