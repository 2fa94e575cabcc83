// Package localstore is a SQLite-backed implementation of the generic
// local entity store. It backs standalone deployments and the test
// harness; a CMS-backed implementation can replace it without touching
// the sync engine.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/odata"
)

// Store persists entities in the shared sync database.
type Store struct {
	db *sql.DB
}

var _ entity.Store = (*Store)(nil)

// New wraps an open database handle. Migrations must already have run.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load fetches one entity by type and id.
func (s *Store) Load(ctx context.Context, entityType, id string) (*entity.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, bundle, fields, created, changed
		FROM local_entities WHERE type = ? AND id = ?
	`, entityType, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	return e, err
}

// LoadByProperties returns entities of entityType whose fields all equal
// the given values. Comparison is on the stringified value, matching the
// loose typing of the JSON field bag.
func (s *Store) LoadByProperties(ctx context.Context, entityType string, props map[string]any) ([]*entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, bundle, fields, created, changed
		FROM local_entities WHERE type = ?
	`, entityType)
	if err != nil {
		return nil, fmt.Errorf("load by properties: %w", err)
	}
	defer rows.Close()

	var out []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		if matches(e, props) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func matches(e *entity.Entity, props map[string]any) bool {
	for k, want := range props {
		got, ok := e.Get(k)
		if !ok {
			return false
		}
		if odata.Stringify(got) != odata.Stringify(want) {
			return false
		}
	}
	return true
}

// Save persists the entity, assigning an ID to new stubs and advancing
// the changed timestamp.
func (s *Store) Save(ctx context.Context, e *entity.Entity) error {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Created.IsZero() {
		e.Created = now
	}
	e.Changed = now

	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("encode entity fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO local_entities (id, type, bundle, fields, created, changed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bundle = excluded.bundle,
			fields = excluded.fields,
			changed = excluded.changed
	`, e.ID, e.Type, e.Bundle, string(fields),
		e.Created.Format(time.RFC3339Nano), e.Changed.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save entity: %w", err)
	}
	e.New = false
	return nil
}

// Delete removes the given entities. Missing rows are ignored.
func (s *Store) Delete(ctx context.Context, entities ...*entity.Entity) error {
	for _, e := range entities {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM local_entities WHERE type = ? AND id = ?
		`, e.Type, e.ID); err != nil {
			return fmt.Errorf("delete entity %s/%s: %w", e.Type, e.ID, err)
		}
	}
	return nil
}

func scanEntity(row interface{ Scan(...any) error }) (*entity.Entity, error) {
	var e entity.Entity
	var fields, created, changed string
	if err := row.Scan(&e.ID, &e.Type, &e.Bundle, &fields, &created, &changed); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
		return nil, fmt.Errorf("decode entity fields: %w", err)
	}
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		e.Created = t
	}
	if t, err := time.Parse(time.RFC3339Nano, changed); err == nil {
		e.Changed = t
	}
	return &e, nil
}
