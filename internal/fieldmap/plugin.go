// Package fieldmap implements the per-field value transforms between
// local entities and remote records. Each transform is a plugin selected
// by the field mapping's type discriminator; a registry maps
// discriminator to plugin, with the broken placeholder as fallback.
package fieldmap

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

var (
	// ErrFieldMissing means the remote payload does not carry the field
	// this mapping pulls from. A per-field soft failure: callers log and
	// continue with the remaining fields.
	ErrFieldMissing = errors.New("remote field missing from payload")

	// ErrBroken is returned by the broken placeholder plugin.
	ErrBroken = errors.New("field mapping plugin is broken")
)

// LinkResolver resolves soft references through the mapped-object link
// table. "Not yet synced" is reported as ok=false, never as an error.
type LinkResolver interface {
	// RemoteID returns the remote identity linked to a local entity
	// under a mapping.
	RemoteID(ctx context.Context, mappingID, localID string) (remoteID string, ok bool, err error)

	// LocalID returns the local entity linked to a remote identity
	// under a mapping.
	LocalID(ctx context.Context, mappingID, remoteID string) (localID string, ok bool, err error)
}

// Env carries the collaborators plugins need. Injected at registry
// construction so plugin instances stay stateless per call.
type Env struct {
	Entities entity.Store
	Links    LinkResolver
	Mappings *mapping.Set
}

// PullResult is the outcome of one inbound field transform. Applied
// marks values the plugin already wrote somewhere (such as onto a
// related entity), which the caller must not assign again.
type PullResult struct {
	Value   any
	Applied bool
}

// FieldResult pairs a field mapping with its pull outcome. The pull
// worker aggregates these instead of aborting on the first bad field.
type FieldResult struct {
	Field  mapping.FieldMapping
	Value  any
	Applied bool
	Err    error
}

// Plugin transforms one field's value between the local and remote
// representations. Implementations are stateless; per-field
// configuration arrives via the FieldMapping argument.
type Plugin interface {
	// Type returns the discriminator this plugin handles.
	Type() string

	// Push reports whether the field flows outbound under fm.
	Push(fm mapping.FieldMapping) bool

	// Pull reports whether the field flows inbound under fm.
	Pull(fm mapping.FieldMapping) bool

	// Value computes the outbound raw value from the local entity.
	Value(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error)

	// PushValue wraps Value with remote-schema coercion and truncation.
	PushValue(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error)

	// PullValue computes the inbound value from the remote record.
	PullValue(ctx context.Context, rec odata.Record, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (PullResult, error)
}

// Constructor builds a plugin instance bound to an Env.
type Constructor func(Env) Plugin

// Registry maps discriminators to plugins. Unknown discriminators
// resolve to the broken placeholder so a bad definition degrades to a
// skipped field instead of a nil dereference.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	broken  Plugin
}

// NewRegistry creates a registry with every built-in plugin registered.
func NewRegistry(env Env) *Registry {
	r := &Registry{
		plugins: make(map[string]Plugin),
		broken:  &brokenPlugin{},
	}
	for _, c := range builtins {
		r.Register(c(env))
	}
	return r
}

// Register adds a plugin. Panics on a duplicate discriminator, matching
// init-time registration semantics.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := p.Type()
	if _, exists := r.plugins[t]; exists {
		panic("field plugin already registered: " + t)
	}
	r.plugins[t] = p
}

// Get returns the plugin for a discriminator. The boolean reports
// whether a real plugin was found; otherwise the broken placeholder is
// returned.
func (r *Registry) Get(pluginType string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.plugins[pluginType]; ok {
		return p, true
	}
	return r.broken, false
}

// Types returns all registered discriminators, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for t := range r.plugins {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// builtins lists the constructors for every shipped plugin type.
var builtins = []Constructor{
	func(env Env) Plugin { return &constantPlugin{} },
	func(env Env) Plugin { return &propertiesPlugin{env: env} },
	func(env Env) Plugin { return &relatedIDsPlugin{env: env} },
	func(env Env) Plugin { return &relatedPropertiesPlugin{env: env} },
	func(env Env) Plugin { return &termStringPlugin{env: env} },
	func(env Env) Plugin { return &tokenPlugin{} },
	func(env Env) Plugin { return &brokenPlugin{} },
}
