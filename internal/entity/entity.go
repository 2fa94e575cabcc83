// Package entity is the generic keyed object model for the local side of
// the sync. The engine only needs CRUD plus equality-filtered lookup, so
// the CMS behind it stays abstract.
package entity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a load misses.
var ErrNotFound = errors.New("entity not found")

// Entity is a local record: a typed, bundled bag of named field values.
type Entity struct {
	Type    string
	Bundle  string
	ID      string
	Fields  map[string]any
	Created time.Time
	Changed time.Time

	// New marks a stub that has never been saved.
	New bool
}

// NewEntity creates an unsaved stub of the given type and bundle.
func NewEntity(entityType, bundle string) *Entity {
	return &Entity{
		Type:   entityType,
		Bundle: bundle,
		Fields: make(map[string]any),
		New:    true,
	}
}

// Get returns the named field value and whether it is set.
func (e *Entity) Get(field string) (any, bool) {
	v, ok := e.Fields[field]
	return v, ok
}

// Set assigns the named field value.
func (e *Entity) Set(field string, value any) {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[field] = value
}

// SplitSelector splits a "field:subfield" selector into its parts. The
// second return is empty for plain selectors. Only one level of
// traversal is supported.
func SplitSelector(selector string) (field, subfield string) {
	if i := strings.Index(selector, ":"); i >= 0 {
		return selector[:i], selector[i+1:]
	}
	return selector, ""
}

// Store is keyed CRUD plus equality-filtered lookup over local entities.
type Store interface {
	// Load fetches one entity; ErrNotFound when absent.
	Load(ctx context.Context, entityType, id string) (*Entity, error)

	// LoadByProperties returns entities of entityType whose fields all
	// equal the given values.
	LoadByProperties(ctx context.Context, entityType string, props map[string]any) ([]*Entity, error)

	// Save persists the entity, assigning an ID to new stubs and
	// advancing the changed timestamp.
	Save(ctx context.Context, e *Entity) error

	// Delete removes the given entities.
	Delete(ctx context.Context, entities ...*Entity) error
}
