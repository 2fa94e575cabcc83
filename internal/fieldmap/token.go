package fieldmap

import (
	"context"
	"os"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

// tokenPlugin renders a template over the entity's fields, expanding
// ${field} placeholders. Outbound only: rendered text cannot be
// reversed into field values.
type tokenPlugin struct{}

func (p *tokenPlugin) Type() string { return "token" }

func (p *tokenPlugin) Push(fm mapping.FieldMapping) bool { return fm.Push() }

func (p *tokenPlugin) Pull(fm mapping.FieldMapping) bool { return false }

func (p *tokenPlugin) Value(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	rendered := os.Expand(fm.Template, func(field string) string {
		if v, ok := e.Get(field); ok && v != nil {
			return odata.Stringify(v)
		}
		return ""
	})
	return rendered, nil
}

func (p *tokenPlugin) PushValue(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	v, err := p.Value(ctx, e, fm, m)
	if err != nil {
		return nil, err
	}
	return CoercePush(v, fm)
}

func (p *tokenPlugin) PullValue(ctx context.Context, rec odata.Record, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (PullResult, error) {
	return PullResult{}, errPullUnsupported
}

// brokenPlugin stands in for an unknown or unloadable plugin type. It
// participates in neither direction so a stale definition degrades to a
// skipped field.
type brokenPlugin struct{}

func (p *brokenPlugin) Type() string { return "broken" }

func (p *brokenPlugin) Push(fm mapping.FieldMapping) bool { return false }

func (p *brokenPlugin) Pull(fm mapping.FieldMapping) bool { return false }

func (p *brokenPlugin) Value(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	return nil, ErrBroken
}

func (p *brokenPlugin) PushValue(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	return nil, ErrBroken
}

func (p *brokenPlugin) PullValue(ctx context.Context, rec odata.Record, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (PullResult, error) {
	return PullResult{}, ErrBroken
}
