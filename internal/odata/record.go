package odata

import (
	"fmt"
	"strconv"
	"time"
)

// Annotation keys carried alongside payload fields in OData responses.
const (
	annotationID       = "@odata.id"
	annotationEditLink = "@odata.editLink"
	annotationETag     = "@odata.etag"
)

// Record is a single remote object as returned by the remote store.
// Payload fields and OData annotations share the same map, mirroring the
// wire representation.
type Record map[string]any

// Has reports whether the record carries the named field, including
// fields present with a null value.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// Value returns the raw field value and whether the field exists.
func (r Record) Value(field string) (any, bool) {
	v, ok := r[field]
	return v, ok
}

// StringValue returns the field value rendered as a string. Numeric JSON
// values are formatted without an exponent so identity derivation stays
// stable across decoders.
func (r Record) StringValue(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", ok
	}
	return Stringify(v), true
}

// Path returns the resource path used for update/read/delete calls,
// taken from the @odata.id or @odata.editLink annotation.
func (r Record) Path() string {
	if v, ok := r[annotationID].(string); ok && v != "" {
		return v
	}
	if v, ok := r[annotationEditLink].(string); ok && v != "" {
		return v
	}
	return ""
}

// ETag returns the record's entity tag, or empty when absent.
func (r Record) ETag() string {
	v, _ := r[annotationETag].(string)
	return v
}

// Stringify renders a decoded JSON value as a stable string.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ObjectField describes one field of a remote object type.
type ObjectField struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	MaxLength int    `json:"max_length"`
	Nullable  bool   `json:"nullable"`
	Key       bool   `json:"key"`
}

// ObjectDescription is the schema of a remote object type.
type ObjectDescription struct {
	Name   string        `json:"name"`
	Fields []ObjectField `json:"fields"`
}

// Field returns the named field description, or nil when the type does
// not declare it.
func (d *ObjectDescription) Field(name string) *ObjectField {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}
