package fieldmap

import (
	"context"
	"errors"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

// errPullUnsupported is returned by outbound-only plugins when a
// misconfigured definition routes a pull through them.
var errPullUnsupported = errors.New("plugin does not support pull")

// constantPlugin pushes a fixed configured value regardless of the local
// entity's contents.
type constantPlugin struct{}

func (p *constantPlugin) Type() string { return "constant" }

func (p *constantPlugin) Push(fm mapping.FieldMapping) bool { return fm.Push() }

// Pull always reports false: a constant has no inbound meaning.
func (p *constantPlugin) Pull(fm mapping.FieldMapping) bool { return false }

func (p *constantPlugin) Value(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	return fm.Constant, nil
}

func (p *constantPlugin) PushValue(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	return CoercePush(fm.Constant, fm)
}

func (p *constantPlugin) PullValue(ctx context.Context, rec odata.Record, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (PullResult, error) {
	return PullResult{}, errPullUnsupported
}
