package fieldmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

// relatedIDsPlugin translates a local entity-reference field into the
// referenced record's remote identity and back. Both directions are soft
// lookups: an unsynced or unresolved reference yields nil, never an
// error.
type relatedIDsPlugin struct {
	env Env
}

func (p *relatedIDsPlugin) Type() string { return "related_ids" }

func (p *relatedIDsPlugin) Push(fm mapping.FieldMapping) bool { return fm.Push() }

func (p *relatedIDsPlugin) Pull(fm mapping.FieldMapping) bool { return fm.Pull() }

func (p *relatedIDsPlugin) Value(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	if fm.ReferencedMapping == "" {
		return nil, fmt.Errorf("field %d: referenced_mapping is required for related_ids", fm.ID)
	}
	refID, ok := e.Get(fm.LocalField)
	if !ok || refID == nil {
		return nil, nil
	}
	remoteID, found, err := p.env.Links.RemoteID(ctx, fm.ReferencedMapping, odata.Stringify(refID))
	if err != nil {
		return nil, err
	}
	if !found {
		// Referenced entity has never been synced.
		return nil, nil
	}
	return remoteID, nil
}

func (p *relatedIDsPlugin) PushValue(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	v, err := p.Value(ctx, e, fm, m)
	if err != nil || v == nil {
		return nil, err
	}
	return CoercePush(v, fm)
}

func (p *relatedIDsPlugin) PullValue(ctx context.Context, rec odata.Record, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (PullResult, error) {
	if fm.ReferencedMapping == "" {
		return PullResult{}, fmt.Errorf("field %d: referenced_mapping is required for related_ids", fm.ID)
	}
	raw, ok := rec.StringValue(fm.RemoteField)
	if !ok {
		return PullResult{}, ErrFieldMissing
	}
	if raw == "" {
		return PullResult{}, nil
	}
	localID, found, err := p.env.Links.LocalID(ctx, fm.ReferencedMapping, raw)
	if err != nil {
		return PullResult{}, err
	}
	if !found {
		// The referenced remote record has no local counterpart yet.
		return PullResult{}, nil
	}
	return PullResult{Value: localID}, nil
}

// relatedPropertiesPlugin reads or writes a property of a referenced
// entity, addressed by a "reference_field:property" selector.
type relatedPropertiesPlugin struct {
	env Env
}

func (p *relatedPropertiesPlugin) Type() string { return "related_properties" }

func (p *relatedPropertiesPlugin) Push(fm mapping.FieldMapping) bool { return fm.Push() }

func (p *relatedPropertiesPlugin) Pull(fm mapping.FieldMapping) bool { return fm.Pull() }

// loadReferenced resolves the entity referenced by the selector's first
// segment, or nil when unset/unresolvable.
func (p *relatedPropertiesPlugin) loadReferenced(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping) (*entity.Entity, string, error) {
	refField, prop := entity.SplitSelector(fm.LocalField)
	if prop == "" {
		return nil, "", fmt.Errorf("field %d: related_properties requires a field:property selector", fm.ID)
	}
	refMapping, ok := p.env.Mappings.Get(fm.ReferencedMapping)
	if !ok {
		return nil, "", fmt.Errorf("field %d: unknown referenced mapping %q", fm.ID, fm.ReferencedMapping)
	}
	refID, ok := e.Get(refField)
	if !ok || refID == nil {
		return nil, prop, nil
	}
	ref, err := p.env.Entities.Load(ctx, refMapping.LocalType, odata.Stringify(refID))
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, prop, nil
		}
		return nil, prop, err
	}
	return ref, prop, nil
}

func (p *relatedPropertiesPlugin) Value(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	ref, prop, err := p.loadReferenced(ctx, e, fm)
	if err != nil || ref == nil {
		return nil, err
	}
	v, _ := ref.Get(prop)
	return v, nil
}

func (p *relatedPropertiesPlugin) PushValue(ctx context.Context, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (any, error) {
	v, err := p.Value(ctx, e, fm, m)
	if err != nil || v == nil {
		return nil, err
	}
	return CoercePush(v, fm)
}

// PullValue writes the incoming value onto the referenced entity and
// saves it independently, reporting the result as already applied.
func (p *relatedPropertiesPlugin) PullValue(ctx context.Context, rec odata.Record, e *entity.Entity, fm mapping.FieldMapping, m *mapping.Mapping) (PullResult, error) {
	raw, ok := rec.Value(fm.RemoteField)
	if !ok {
		return PullResult{}, ErrFieldMissing
	}
	ref, prop, err := p.loadReferenced(ctx, e, fm)
	if err != nil {
		return PullResult{}, err
	}
	if ref == nil {
		// Nothing referenced locally; soft skip.
		return PullResult{Applied: true}, nil
	}
	v, err := CoercePull(raw, fm)
	if err != nil {
		return PullResult{}, err
	}
	ref.Set(prop, v)
	if err := p.env.Entities.Save(ctx, ref); err != nil {
		return PullResult{}, fmt.Errorf("save related entity: %w", err)
	}
	return PullResult{Value: v, Applied: true}, nil
}
