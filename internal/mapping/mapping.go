// Package mapping holds the deployable sync mapping definitions: which
// local entity type/bundle pairs with which remote object type, and how
// individual fields translate between the two. Runtime watermarks live in
// the store, never here, so definitions stay environment-portable.
package mapping

import (
	"sort"
	"time"
)

// IdentityField is the local pseudo-field that carries the canonical
// remote identity. A key field mapped directly onto it supplies the
// identity verbatim; everything else routes through the hash derivation.
const IdentityField = "remote_id"

// Direction tags which way a field mapping flows.
type Direction string

const (
	DirectionLocalToRemote Direction = "local_to_remote"
	DirectionRemoteToLocal Direction = "remote_to_local"
	DirectionSync          Direction = "sync"
)

// Operation is a local entity lifecycle event that can trigger a sync.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Remote field wire types accepted in definitions. Anything else fails
// validation.
const (
	TypeString         = "Edm.String"
	TypeBoolean        = "Edm.Boolean"
	TypeInt32          = "Edm.Int32"
	TypeInt64          = "Edm.Int64"
	TypeDouble         = "Edm.Double"
	TypeDecimal        = "Edm.Decimal"
	TypeDateTimeOffset = "Edm.DateTimeOffset"
	TypeDate           = "Edm.Date"
	TypeGuid           = "Edm.Guid"
)

// FieldMapping translates one field between a local entity and a remote
// record. The numeric ID is a stable ordering key: key-field order feeds
// the identity hash, so IDs must never be renumbered once records link.
type FieldMapping struct {
	ID              int       `yaml:"id"`
	Plugin          string    `yaml:"plugin"`
	LocalField      string    `yaml:"local_field"`
	RemoteField     string    `yaml:"remote_field"`
	RemoteFieldType string    `yaml:"remote_field_type"`
	MaxLength       int       `yaml:"max_length"`
	Direction       Direction `yaml:"direction"`
	IsKey           bool      `yaml:"is_key"`
	Description     string    `yaml:"description"`

	// Constant holds the fixed value for the constant plugin; Template
	// holds the pattern for the token plugin. Unused by other plugins.
	Constant string `yaml:"constant"`
	Template string `yaml:"template"`

	// ReferencedMapping names the mapping used to resolve related-entity
	// lookups for the related_ids / related_properties plugins.
	ReferencedMapping string `yaml:"referenced_mapping"`
}

// Push reports whether the field flows local to remote.
func (f FieldMapping) Push() bool {
	return f.Direction == DirectionLocalToRemote || f.Direction == DirectionSync
}

// Pull reports whether the field flows remote to local.
func (f FieldMapping) Pull() bool {
	return f.Direction == DirectionRemoteToLocal || f.Direction == DirectionSync
}

// Triggers lists the lifecycle events that enqueue work for one
// direction.
type Triggers struct {
	Create bool `yaml:"create"`
	Update bool `yaml:"update"`
	Delete bool `yaml:"delete"`
}

// Fires reports whether op triggers this direction.
func (t Triggers) Fires(op Operation) bool {
	switch op {
	case OperationCreate:
		return t.Create
	case OperationUpdate:
		return t.Update
	case OperationDelete:
		return t.Delete
	}
	return false
}

// Any reports whether any lifecycle event triggers this direction.
func (t Triggers) Any() bool { return t.Create || t.Update || t.Delete }

// Mapping pairs one local (type, bundle) with one remote object type.
type Mapping struct {
	ID               string `yaml:"id"`
	Label            string `yaml:"label"`
	Weight           int    `yaml:"weight"`
	LocalType        string `yaml:"local_type"`
	LocalBundle      string `yaml:"local_bundle"`
	RemoteObjectType string `yaml:"remote_object_type"`

	PushTriggers Triggers `yaml:"push_triggers"`
	PullTriggers Triggers `yaml:"pull_triggers"`

	// Cadence in seconds between scheduled runs per direction. Zero
	// means every run.
	PushFrequency int `yaml:"push_frequency"`
	PullFrequency int `yaml:"pull_frequency"`

	// PushLimit caps items claimed per run; PushRetries is the failure
	// count past which queue items stop being claimed.
	PushLimit   int `yaml:"push_limit"`
	PushRetries int `yaml:"push_retries"`

	AsyncPush      bool `yaml:"async_push"`
	PushStandalone bool `yaml:"push_standalone"`
	PullStandalone bool `yaml:"pull_standalone"`

	// PullTriggerDateField is the remote modification-timestamp field
	// that windows incremental pulls and arbitrates conflicts.
	PullTriggerDateField string `yaml:"pull_trigger_date_field"`

	// PullWhereClause is an extra raw filter appended to pull queries.
	PullWhereClause string `yaml:"pull_where_clause"`

	FieldMappings []FieldMapping `yaml:"field_mappings"`
}

// PushInterval returns the push cadence as a duration.
func (m *Mapping) PushInterval() time.Duration {
	return time.Duration(m.PushFrequency) * time.Second
}

// PullInterval returns the pull cadence as a duration.
func (m *Mapping) PullInterval() time.Duration {
	return time.Duration(m.PullFrequency) * time.Second
}

// PushFields returns the field mappings that flow local to remote, in
// definition order.
func (m *Mapping) PushFields() []FieldMapping {
	var out []FieldMapping
	for _, f := range m.FieldMappings {
		if f.Push() {
			out = append(out, f)
		}
	}
	return out
}

// PullFields returns the field mappings that flow remote to local, in
// definition order.
func (m *Mapping) PullFields() []FieldMapping {
	var out []FieldMapping
	for _, f := range m.FieldMappings {
		if f.Pull() {
			out = append(out, f)
		}
	}
	return out
}

// KeyFields returns the key-marked field mappings sorted ascending by
// their stable ID. The sort order feeds identity hashing and must not
// change.
func (m *Mapping) KeyFields() []FieldMapping {
	var keys []FieldMapping
	for _, f := range m.FieldMappings {
		if f.IsKey {
			keys = append(keys, f)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys
}

// FieldByRemote returns the field mapping for a remote field name.
func (m *Mapping) FieldByRemote(name string) (FieldMapping, bool) {
	for _, f := range m.FieldMappings {
		if f.RemoteField == name {
			return f, true
		}
	}
	return FieldMapping{}, false
}

// PullFieldNames returns the remote field set a pull query must select:
// every pull-enabled field, every key field, and the trigger date field.
func (m *Mapping) PullFieldNames() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, f := range m.FieldMappings {
		if f.Pull() || f.IsKey {
			add(f.RemoteField)
		}
	}
	add(m.PullTriggerDateField)
	return out
}

// KeyFieldNames returns just the remote names of the key fields, in
// stable ID order. Used for the narrow existence query during orphan
// detection.
func (m *Mapping) KeyFieldNames() []string {
	keys := m.KeyFields()
	out := make([]string, len(keys))
	for i, f := range keys {
		out[i] = f.RemoteField
	}
	return out
}
