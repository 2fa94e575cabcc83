package main

import (
	"fmt"
	"time"

	"github.com/hyperengineering/apisync/internal/config"
	"github.com/hyperengineering/apisync/internal/fieldmap"
	"github.com/hyperengineering/apisync/internal/localstore"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
	"github.com/hyperengineering/apisync/internal/store"
	"github.com/hyperengineering/apisync/internal/sync"
)

// engine bundles the wired sync collaborators shared by the server and
// the one-shot subcommands.
type engine struct {
	store      *store.SQLiteStore
	mappings   *mapping.Set
	client     odata.Client
	registry   *fieldmap.Registry
	push       *sync.PushWorker
	pull       *sync.PullWorker
	reconciler *sync.DeleteReconciler
}

// newEngine opens the sync database, loads the mapping definitions and
// wires the workers. Callers own the returned store and must Close it.
func newEngine(cfg *config.Config) (*engine, error) {
	db, err := store.NewSQLiteStore(cfg.Database.Path,
		store.WithRevisionLimit(cfg.Database.RevisionLimit))
	if err != nil {
		return nil, fmt.Errorf("open sync database: %w", err)
	}

	mappings, err := mapping.LoadDir(cfg.Mappings.Dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	client := odata.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token,
		odata.WithTimeout(time.Duration(cfg.Remote.Timeout)),
		odata.WithRetries(uint64(cfg.Remote.MaxRetries), time.Duration(cfg.Remote.RetryBackoff)),
	)

	entities := localstore.New(db.DB())

	registry := fieldmap.NewRegistry(fieldmap.Env{
		Entities: entities,
		Links:    db,
		Mappings: mappings,
	})

	hooks := &sync.Hooks{}

	push := sync.NewPushWorker(client, mappings, db, db, db, entities, registry, hooks,
		sync.WithGlobalPushCap(cfg.Sync.GlobalPushCap),
		sync.WithLeaseTime(time.Duration(cfg.Sync.LeaseTime)),
	)

	pull := sync.NewPullWorker(client, mappings, db, db, entities, registry, hooks,
		sync.NewPullQueue(),
		sync.WithBacklogMax(cfg.Sync.PullBacklogMax),
	)

	reconciler := sync.NewDeleteReconciler(client, db, db, entities)
	reconciler.DeleteLocalEntities = cfg.Sync.CascadeDelete

	return &engine{
		store:      db,
		mappings:   mappings,
		client:     client,
		registry:   registry,
		push:       push,
		pull:       pull,
		reconciler: reconciler,
	}, nil
}

// Close releases the engine's database handle.
func (e *engine) Close() error {
	return e.store.Close()
}
