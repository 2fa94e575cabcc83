package fieldmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

// TermEntityType is the local entity type holding vocabulary terms.
const TermEntityType = "taxonomy_term"

// termNameField is the property carrying a term's display name.
const termNameField = "name"

// termStringPlugin maps a local term reference to the term's name on the
// remote side. On pull, an unknown name auto-creates the term in the
// vocabulary named by the field mapping's Constant setting.
type termStringPlugin struct {
	env Env
}

func (p *termStringPlugin) Type() string { return "term_string" }

func (p *termStringPlugin) Push(fm mapping.FieldMapping) bool { return fm.Push() }

func (p *termStringPlugin) Pull(fm mapping.FieldMapping) bool { return fm.Pull() }

func (p *termStringPlugin) Value(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	termID, ok := e.Get(fm.LocalField)
	if !ok || termID == nil {
		return nil, nil
	}
	term, err := p.env.Entities.Load(ctx, TermEntityType, odata.Stringify(termID))
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	name, _ := term.Get(termNameField)
	return name, nil
}

func (p *termStringPlugin) PushValue(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	v, err := p.Value(ctx, e, fm, m)
	if err != nil || v == nil {
		return nil, err
	}
	return CoercePush(v, fm)
}

// PullValue resolves the incoming term name to a local term ID, creating
// the term when it does not exist yet.
func (p *termStringPlugin) PullValue(ctx context.Context, rec odata.Record, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (PullResult, error) {
	name, ok := rec.StringValue(fm.RemoteField)
	if !ok {
		return PullResult{}, ErrFieldMissing
	}
	if name == "" {
		return PullResult{}, nil
	}

	terms, err := p.env.Entities.LoadByProperties(ctx, TermEntityType, map[string]any{termNameField: name})
	if err != nil {
		return PullResult{}, err
	}
	if len(terms) > 0 {
		return PullResult{Value: terms[0].ID}, nil
	}

	term := entity.NewEntity(TermEntityType, fm.Constant)
	term.Set(termNameField, name)
	if err := p.env.Entities.Save(ctx, term); err != nil {
		return PullResult{}, fmt.Errorf("create term %q: %w", name, err)
	}
	return PullResult{Value: term.ID}, nil
}
