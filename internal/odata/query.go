package odata

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Operator is an OData comparison operator token.
type Operator string

const (
	OpEqual          Operator = "eq"
	OpNotEqual       Operator = "ne"
	OpGreaterThan    Operator = "gt"
	OpLessThan       Operator = "lt"
	OpGreaterOrEqual Operator = "ge"
	OpLessOrEqual    Operator = "le"
)

// Condition is one field comparison in a query filter.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

// SelectQuery builds a remote store query. The zero value is unusable;
// use NewSelectQuery.
type SelectQuery struct {
	ObjectType string

	fields     map[string]struct{}
	conditions []Condition
	inGroups   []inGroup
	rawFilters []string
	orderBy    []string
	limit      int
}

type inGroup struct {
	field  string
	values []any
}

// NewSelectQuery creates a query against the given remote object type.
func NewSelectQuery(objectType string) *SelectQuery {
	return &SelectQuery{
		ObjectType: objectType,
		fields:     make(map[string]struct{}),
	}
}

// AddField adds a field to the $select set. Duplicates are collapsed.
func (q *SelectQuery) AddField(name string) *SelectQuery {
	if name != "" {
		q.fields[name] = struct{}{}
	}
	return q
}

// AddFields adds multiple fields to the $select set.
func (q *SelectQuery) AddFields(names ...string) *SelectQuery {
	for _, n := range names {
		q.AddField(n)
	}
	return q
}

// Fields returns the selected field names in sorted order.
func (q *SelectQuery) Fields() []string {
	out := make([]string, 0, len(q.fields))
	for f := range q.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// AddCondition appends a comparison to the filter. Conditions are joined
// with "and".
func (q *SelectQuery) AddCondition(field string, op Operator, value any) *SelectQuery {
	q.conditions = append(q.conditions, Condition{Field: field, Op: op, Value: value})
	return q
}

// AddIn appends an IN-style condition, serialized as an or-group of
// equality comparisons since the remote dialect has no "in" operator.
func (q *SelectQuery) AddIn(field string, values ...any) *SelectQuery {
	if len(values) > 0 {
		q.inGroups = append(q.inGroups, inGroup{field: field, values: values})
	}
	return q
}

// AddRawFilter appends a preformatted filter clause verbatim, joined with
// "and". Used for operator-configured extra filters on a mapping.
func (q *SelectQuery) AddRawFilter(clause string) *SelectQuery {
	clause = strings.TrimSpace(clause)
	if clause != "" {
		q.rawFilters = append(q.rawFilters, clause)
	}
	return q
}

// OrderBy appends an $orderby term. dir must be "asc" or "desc".
func (q *SelectQuery) OrderBy(field, dir string) *SelectQuery {
	q.orderBy = append(q.orderBy, field+" "+dir)
	return q
}

// Limit caps the result size via $top. Zero means no cap.
func (q *SelectQuery) Limit(n int) *SelectQuery {
	q.limit = n
	return q
}

// Literal renders a condition value as an OData literal. Strings are
// single-quoted with embedded quotes doubled; times use the unquoted
// ISO 8601 form; numbers and booleans are raw tokens.
func Literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format("2006-01-02T15:04:05Z")
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", t), "'", "''") + "'"
	}
}

// Filter returns the assembled $filter expression, or empty when the
// query has no conditions.
func (q *SelectQuery) Filter() string {
	var parts []string
	for _, c := range q.conditions {
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Field, c.Op, Literal(c.Value)))
	}
	for _, g := range q.inGroups {
		var ors []string
		for _, v := range g.values {
			ors = append(ors, fmt.Sprintf("%s eq %s", g.field, Literal(v)))
		}
		parts = append(parts, "("+strings.Join(ors, " or ")+")")
	}
	for _, raw := range q.rawFilters {
		parts = append(parts, "("+raw+")")
	}
	return strings.Join(parts, " and ")
}

// Encode serializes the query to its wire query string, without the
// leading resource path.
func (q *SelectQuery) Encode() string {
	v := url.Values{}
	if len(q.fields) > 0 {
		v.Set("$select", strings.Join(q.Fields(), ","))
	}
	if f := q.Filter(); f != "" {
		v.Set("$filter", f)
	}
	if len(q.orderBy) > 0 {
		v.Set("$orderby", strings.Join(q.orderBy, ","))
	}
	if q.limit > 0 {
		v.Set("$top", strconv.Itoa(q.limit))
	}
	return v.Encode()
}

// String returns the resource path with the encoded query string.
func (q *SelectQuery) String() string {
	enc := q.Encode()
	if enc == "" {
		return q.ObjectType
	}
	return q.ObjectType + "?" + enc
}
