package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/fieldmap"
	"github.com/hyperengineering/apisync/internal/localstore"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
	"github.com/hyperengineering/apisync/internal/store"
)

// mockClient stubs the remote store. Unset hooks behave as an empty,
// healthy endpoint.
type mockClient struct {
	queryFn     func(ctx context.Context, q *odata.SelectQuery) (*odata.QueryResult, error)
	queryMoreFn func(ctx context.Context, prev *odata.QueryResult) (*odata.QueryResult, error)
	createFn    func(ctx context.Context, objectType string, fields map[string]any) (odata.Record, error)
	updateFn    func(ctx context.Context, path string, fields map[string]any) error
	deleteFn    func(ctx context.Context, path string) error
}

var _ odata.Client = (*mockClient)(nil)

func (c *mockClient) Query(ctx context.Context, q *odata.SelectQuery) (*odata.QueryResult, error) {
	if c.queryFn != nil {
		return c.queryFn(ctx, q)
	}
	return odata.NewQueryResult(nil, 0, ""), nil
}

func (c *mockClient) QueryMore(ctx context.Context, prev *odata.QueryResult) (*odata.QueryResult, error) {
	if c.queryMoreFn != nil {
		return c.queryMoreFn(ctx, prev)
	}
	return nil, odata.ErrNoMorePages
}

func (c *mockClient) Describe(ctx context.Context, objectType string) (*odata.ObjectDescription, error) {
	return &odata.ObjectDescription{Name: objectType}, nil
}

func (c *mockClient) Create(ctx context.Context, objectType string, fields map[string]any) (odata.Record, error) {
	if c.createFn != nil {
		return c.createFn(ctx, objectType, fields)
	}
	return odata.Record{}, nil
}

func (c *mockClient) Read(ctx context.Context, path string) (odata.Record, error) {
	return nil, odata.ErrNotFound
}

func (c *mockClient) Update(ctx context.Context, path string, fields map[string]any) error {
	if c.updateFn != nil {
		return c.updateFn(ctx, path, fields)
	}
	return nil
}

func (c *mockClient) Delete(ctx context.Context, path string) error {
	if c.deleteFn != nil {
		return c.deleteFn(ctx, path)
	}
	return nil
}

// contactsMapping is the shared fixture: a direct-key mapping with one
// synced value field and a pull-only trigger date.
func contactsMapping() *mapping.Mapping {
	return &mapping.Mapping{
		ID:                   "contacts",
		LocalType:            "node",
		LocalBundle:          "contact",
		RemoteObjectType:     "Contact",
		PushTriggers:         mapping.Triggers{Create: true, Update: true, Delete: true},
		PullTriggers:         mapping.Triggers{Create: true, Update: true},
		PullTriggerDateField: "Modified",
		FieldMappings: []mapping.FieldMapping{
			{ID: 1, Plugin: "properties", LocalField: mapping.IdentityField, RemoteField: "ContactNumber", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync, IsKey: true},
			{ID: 2, Plugin: "properties", LocalField: "title", RemoteField: "Name", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync},
			{ID: 3, Plugin: "properties", LocalField: "modified", RemoteField: "Modified", RemoteFieldType: mapping.TypeDateTimeOffset, Direction: mapping.DirectionRemoteToLocal},
		},
	}
}

// harness wires a real sync database and entity store around a stubbed
// remote client.
type harness struct {
	db       *store.SQLiteStore
	entities *localstore.Store
	set      *mapping.Set
	client   *mockClient
	registry *fieldmap.Registry
	hooks    *Hooks
}

func newHarness(t *testing.T, mappings ...*mapping.Mapping) *harness {
	t.Helper()
	if len(mappings) == 0 {
		mappings = []*mapping.Mapping{contactsMapping()}
	}

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	set, err := mapping.NewSet(mappings)
	if err != nil {
		t.Fatal(err)
	}

	entities := localstore.New(db.DB())
	h := &harness{
		db:       db,
		entities: entities,
		set:      set,
		client:   &mockClient{},
		hooks:    &Hooks{},
	}
	h.registry = fieldmap.NewRegistry(fieldmap.Env{
		Entities: entities,
		Links:    db,
		Mappings: set,
	})
	return h
}

func (h *harness) pushWorker(opts ...PushOption) *PushWorker {
	return NewPushWorker(h.client, h.set, h.db, h.db, h.db, h.entities, h.registry, h.hooks, opts...)
}

func (h *harness) pullWorker(opts ...PullOption) *PullWorker {
	return NewPullWorker(h.client, h.set, h.db, h.db, h.entities, h.registry, h.hooks, NewPullQueue(), opts...)
}

func (h *harness) reconciler() *DeleteReconciler {
	return NewDeleteReconciler(h.client, h.db, h.db, h.entities)
}

// saveEntity persists a local contact and returns it.
func (h *harness) saveEntity(t *testing.T, title string) *entity.Entity {
	t.Helper()
	e := entity.NewEntity("node", "contact")
	e.Set("title", title)
	if err := h.entities.Save(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

// link records an existing local/remote pairing.
func (h *harness) link(t *testing.T, m *mapping.Mapping, localID, remoteID string) *store.MappedObject {
	t.Helper()
	obj := &store.MappedObject{
		LocalType: m.LocalType,
		LocalID:   localID,
		MappingID: m.ID,
		RemoteID:  remoteID,
	}
	if err := h.db.Save(context.Background(), obj); err != nil {
		t.Fatal(err)
	}
	return obj
}

func page(records []odata.Record, nextLink string) *odata.QueryResult {
	return odata.NewQueryResult(records, len(records), nextLink)
}
