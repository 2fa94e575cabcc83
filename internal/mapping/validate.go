package mapping

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDirection is returned for an unknown direction tag.
	ErrInvalidDirection = errors.New("invalid field mapping direction")

	// ErrInvalidFieldType is returned when a remote field type is not
	// in the accepted wire type set.
	ErrInvalidFieldType = errors.New("invalid remote field type")

	// ErrDuplicateField is returned when two field mappings claim the
	// same remote field or local selector.
	ErrDuplicateField = errors.New("duplicate field in mapping")

	// ErrKeyIdentityConflict is returned when a composite key includes
	// a field mapped directly onto the identity attribute. Composite
	// identities must be hash-derived, never stored verbatim.
	ErrKeyIdentityConflict = errors.New("composite key field cannot map onto the identity attribute")
)

var validFieldTypes = map[string]struct{}{
	TypeString:         {},
	TypeBoolean:        {},
	TypeInt32:          {},
	TypeInt64:          {},
	TypeDouble:         {},
	TypeDecimal:        {},
	TypeDateTimeOffset: {},
	TypeDate:           {},
	TypeGuid:           {},
}

// ValidFieldType reports whether t is an accepted remote wire type.
func ValidFieldType(t string) bool {
	_, ok := validFieldTypes[t]
	return ok
}

// Validate checks a mapping definition for structural defects. It is
// called at load time; a mapping that fails validation never reaches the
// sync engine.
func (m *Mapping) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mapping has no id")
	}
	if m.LocalType == "" {
		return fmt.Errorf("mapping %s: local_type is required", m.ID)
	}
	if m.RemoteObjectType == "" {
		return fmt.Errorf("mapping %s: remote_object_type is required", m.ID)
	}
	if m.PullTriggers.Any() && m.PullTriggerDateField == "" {
		return fmt.Errorf("mapping %s: pull_trigger_date_field is required when pull triggers are set", m.ID)
	}

	remoteSeen := make(map[string]struct{})
	localSeen := make(map[string]struct{})
	for _, f := range m.FieldMappings {
		switch f.Direction {
		case DirectionLocalToRemote, DirectionRemoteToLocal, DirectionSync:
		default:
			return fmt.Errorf("mapping %s field %d: %w: %q", m.ID, f.ID, ErrInvalidDirection, f.Direction)
		}
		if !ValidFieldType(f.RemoteFieldType) {
			return fmt.Errorf("mapping %s field %d: %w: %q", m.ID, f.ID, ErrInvalidFieldType, f.RemoteFieldType)
		}
		if f.RemoteField == "" {
			return fmt.Errorf("mapping %s field %d: remote_field is required", m.ID, f.ID)
		}
		if _, ok := remoteSeen[f.RemoteField]; ok {
			return fmt.Errorf("mapping %s field %d: %w: remote field %q", m.ID, f.ID, ErrDuplicateField, f.RemoteField)
		}
		remoteSeen[f.RemoteField] = struct{}{}
		if f.LocalField != "" {
			if _, ok := localSeen[f.LocalField]; ok {
				return fmt.Errorf("mapping %s field %d: %w: local field %q", m.ID, f.ID, ErrDuplicateField, f.LocalField)
			}
			localSeen[f.LocalField] = struct{}{}
		}
	}

	keys := m.KeyFields()
	if len(keys) > 1 {
		for _, f := range keys {
			if f.LocalField == IdentityField {
				return fmt.Errorf("mapping %s field %d: %w", m.ID, f.ID, ErrKeyIdentityConflict)
			}
		}
	}

	return nil
}
