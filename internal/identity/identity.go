// Package identity derives the canonical remote identity string that
// links a local record to its remote counterpart.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

var (
	// ErrNoKeyFields means the mapping defines no key-marked fields, so
	// no identity can be derived. A configuration defect, never retried.
	ErrNoKeyFields = errors.New("mapping has no key fields")

	// ErrKeyFieldMissing means a declared key field was absent from the
	// remote record payload.
	ErrKeyFieldMissing = errors.New("key field missing from remote record")
)

// Derive computes the canonical identity of a remote record under a
// mapping.
//
// A single key field mapped directly onto the identity attribute yields
// that field's raw value as a string. Every other configuration (composite
// keys, or a key whose value is not stored verbatim) concatenates the key
// values in ascending field-mapping-ID order and returns the md5 hex
// digest. The ID-ascending sort is a compatibility contract: changing it
// would change every hashed identity and sever existing links.
func Derive(record odata.Record, m *mapping.Mapping) (string, error) {
	keys := m.KeyFields()
	if len(keys) == 0 {
		return "", fmt.Errorf("mapping %s: %w", m.ID, ErrNoKeyFields)
	}

	if len(keys) == 1 && keys[0].LocalField == mapping.IdentityField {
		v, ok := record.StringValue(keys[0].RemoteField)
		if !ok {
			return "", fmt.Errorf("mapping %s: %w: %s", m.ID, ErrKeyFieldMissing, keys[0].RemoteField)
		}
		return v, nil
	}

	var b strings.Builder
	for _, f := range keys {
		v, ok := record.StringValue(f.RemoteField)
		if !ok {
			return "", fmt.Errorf("mapping %s: %w: %s", m.ID, ErrKeyFieldMissing, f.RemoteField)
		}
		b.WriteString(v)
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Hashed reports whether the mapping derives its identity by hashing
// rather than by storing a single key value verbatim.
func Hashed(m *mapping.Mapping) bool {
	keys := m.KeyFields()
	return !(len(keys) == 1 && keys[0].LocalField == mapping.IdentityField)
}
