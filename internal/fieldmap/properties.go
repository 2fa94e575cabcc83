package fieldmap

import (
	"context"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

// propertiesPlugin maps a local entity property straight onto a remote
// field, with wire-type coercion on both directions.
type propertiesPlugin struct {
	env Env
}

func (p *propertiesPlugin) Type() string { return "properties" }

func (p *propertiesPlugin) Push(fm mapping.FieldMapping) bool { return fm.Push() }

func (p *propertiesPlugin) Pull(fm mapping.FieldMapping) bool { return fm.Pull() }

func (p *propertiesPlugin) Value(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	v, _ := e.Get(fm.LocalField)
	return v, nil
}

func (p *propertiesPlugin) PushValue(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	v, err := p.Value(ctx, e, fm, m)
	if err != nil {
		return nil, err
	}
	return CoercePush(v, fm)
}

func (p *propertiesPlugin) PullValue(ctx context.Context, rec odata.Record, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (PullResult, error) {
	raw, ok := rec.Value(fm.RemoteField)
	if !ok {
		return PullResult{}, ErrFieldMissing
	}
	v, err := CoercePull(raw, fm)
	if err != nil {
		return PullResult{}, err
	}
	return PullResult{Value: v}, nil
}
