package fieldmap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperengineering/apisync/internal/entity"
	"github.com/hyperengineering/apisync/internal/mapping"
	"github.com/hyperengineering/apisync/internal/odata"
)

// memEntities is an in-memory entity.Store for plugin tests.
type memEntities struct {
	byKey  map[string]*entity.Entity
	nextID int
}

var _ entity.Store = (*memEntities)(nil)

func newMemEntities() *memEntities {
	return &memEntities{byKey: make(map[string]*entity.Entity)}
}

func (s *memEntities) key(entityType, id string) string { return entityType + "/" + id }

func (s *memEntities) Load(ctx context.Context, entityType, id string) (*entity.Entity, error) {
	e, ok := s.byKey[s.key(entityType, id)]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return e, nil
}

func (s *memEntities) LoadByProperties(ctx context.Context, entityType string, props map[string]any) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for _, e := range s.byKey {
		if e.Type != entityType {
			continue
		}
		match := true
		for k, v := range props {
			got, ok := e.Get(k)
			if !ok || odata.Stringify(got) != odata.Stringify(v) {
				match = false
				break
			}
		}
		if match {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEntities) Save(ctx context.Context, e *entity.Entity) error {
	if e.ID == "" {
		s.nextID++
		e.ID = fmt.Sprintf("e%d", s.nextID)
	}
	e.New = false
	s.byKey[s.key(e.Type, e.ID)] = e
	return nil
}

func (s *memEntities) Delete(ctx context.Context, entities ...*entity.Entity) error {
	for _, e := range entities {
		delete(s.byKey, s.key(e.Type, e.ID))
	}
	return nil
}

// memLinks is an in-memory LinkResolver.
type memLinks struct {
	remoteByLocal map[string]string // mappingID+"/"+localID -> remoteID
	localByRemote map[string]string
}

var _ LinkResolver = (*memLinks)(nil)

func newMemLinks() *memLinks {
	return &memLinks{
		remoteByLocal: make(map[string]string),
		localByRemote: make(map[string]string),
	}
}

func (l *memLinks) link(mappingID, localID, remoteID string) {
	l.remoteByLocal[mappingID+"/"+localID] = remoteID
	l.localByRemote[mappingID+"/"+remoteID] = localID
}

func (l *memLinks) RemoteID(ctx context.Context, mappingID, localID string) (string, bool, error) {
	v, ok := l.remoteByLocal[mappingID+"/"+localID]
	return v, ok, nil
}

func (l *memLinks) LocalID(ctx context.Context, mappingID, remoteID string) (string, bool, error) {
	v, ok := l.localByRemote[mappingID+"/"+remoteID]
	return v, ok, nil
}

func testEnv(t *testing.T) (Env, *memEntities, *memLinks) {
	t.Helper()
	entities := newMemEntities()
	links := newMemLinks()
	refMapping := &mapping.Mapping{
		ID:               "companies",
		LocalType:        "node",
		RemoteObjectType: "Company",
		FieldMappings: []mapping.FieldMapping{
			{ID: 1, Plugin: "properties", LocalField: mapping.IdentityField, RemoteField: "CompanyNumber", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync, IsKey: true},
		},
	}
	set, err := mapping.NewSet([]*mapping.Mapping{refMapping})
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	return Env{Entities: entities, Links: links, Mappings: set}, entities, links
}

func TestRegistry_BuiltinsRegistered(t *testing.T) {
	env, _, _ := testEnv(t)
	r := NewRegistry(env)

	want := []string{"broken", "constant", "properties", "related_ids", "related_properties", "term_string", "token"}
	got := r.Types()
	if len(got) != len(want) {
		t.Fatalf("Types() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Types()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_UnknownFallsBackToBroken(t *testing.T) {
	env, _, _ := testEnv(t)
	r := NewRegistry(env)

	p, ok := r.Get("does_not_exist")
	if ok {
		t.Error("Get() ok = true for unknown plugin")
	}
	if p.Push(mapping.FieldMapping{Direction: mapping.DirectionSync}) {
		t.Error("broken fallback should never push")
	}
	if _, err := p.PushValue(context.Background(), entity.NewEntity("node", ""), mapping.FieldMapping{}, nil); !errors.Is(err, ErrBroken) {
		t.Errorf("PushValue() error = %v, want ErrBroken", err)
	}
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	env, _, _ := testEnv(t)
	r := NewRegistry(env)

	defer func() {
		if recover() == nil {
			t.Error("Register() did not panic on duplicate")
		}
	}()
	r.Register(&constantPlugin{})
}

func TestConstantPlugin(t *testing.T) {
	p := &constantPlugin{}
	fm := mapping.FieldMapping{Plugin: "constant", Constant: "CMS", RemoteField: "Source", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionLocalToRemote}

	if !p.Push(fm) {
		t.Error("Push() = false")
	}
	if p.Pull(fm) {
		t.Error("Pull() = true; constants have no inbound meaning")
	}

	v, err := p.PushValue(context.Background(), entity.NewEntity("node", ""), fm, nil)
	if err != nil {
		t.Fatalf("PushValue() error = %v", err)
	}
	if v != "CMS" {
		t.Errorf("PushValue() = %v, want CMS", v)
	}

	if _, err := p.PullValue(context.Background(), odata.Record{}, nil, fm, nil); err == nil {
		t.Error("PullValue() = nil error, want pull unsupported")
	}
}

func TestPropertiesPlugin_RoundTrip(t *testing.T) {
	env, _, _ := testEnv(t)
	p := &propertiesPlugin{env: env}
	fm := mapping.FieldMapping{Plugin: "properties", LocalField: "title", RemoteField: "Name", RemoteFieldType: mapping.TypeString, MaxLength: 5, Direction: mapping.DirectionSync}

	e := entity.NewEntity("node", "contact")
	e.Set("title", "truncate me")

	out, err := p.PushValue(context.Background(), e, fm, nil)
	if err != nil {
		t.Fatalf("PushValue() error = %v", err)
	}
	if out != "trunc" {
		t.Errorf("PushValue() = %v, want truncated string", out)
	}

	res, err := p.PullValue(context.Background(), odata.Record{"Name": "Acme"}, e, fm, nil)
	if err != nil {
		t.Fatalf("PullValue() error = %v", err)
	}
	if res.Value != "Acme" || res.Applied {
		t.Errorf("PullValue() = %+v", res)
	}
}

func TestPropertiesPlugin_PullMissingField(t *testing.T) {
	env, _, _ := testEnv(t)
	p := &propertiesPlugin{env: env}
	fm := mapping.FieldMapping{LocalField: "title", RemoteField: "Name", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync}

	_, err := p.PullValue(context.Background(), odata.Record{}, entity.NewEntity("node", ""), fm, nil)
	if !errors.Is(err, ErrFieldMissing) {
		t.Errorf("PullValue() error = %v, want ErrFieldMissing", err)
	}
}

func TestRelatedIDsPlugin_SoftLookups(t *testing.T) {
	env, _, links := testEnv(t)
	p := &relatedIDsPlugin{env: env}
	fm := mapping.FieldMapping{ID: 4, Plugin: "related_ids", LocalField: "company_ref", RemoteField: "CompanyNumber", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync, ReferencedMapping: "companies"}

	e := entity.NewEntity("node", "contact")
	e.Set("company_ref", "42")

	// Unsynced reference: nil, no error
	v, err := p.PushValue(context.Background(), e, fm, nil)
	if err != nil {
		t.Fatalf("PushValue() error = %v", err)
	}
	if v != nil {
		t.Errorf("PushValue() = %v, want nil for unsynced reference", v)
	}

	links.link("companies", "42", "CO-42")

	v, err = p.PushValue(context.Background(), e, fm, nil)
	if err != nil {
		t.Fatalf("PushValue() error = %v", err)
	}
	if v != "CO-42" {
		t.Errorf("PushValue() = %v, want CO-42", v)
	}

	// Inbound: known remote id resolves to local id
	res, err := p.PullValue(context.Background(), odata.Record{"CompanyNumber": "CO-42"}, e, fm, nil)
	if err != nil {
		t.Fatalf("PullValue() error = %v", err)
	}
	if res.Value != "42" {
		t.Errorf("PullValue() = %v, want 42", res.Value)
	}

	// Inbound unknown remote id: soft nil
	res, err = p.PullValue(context.Background(), odata.Record{"CompanyNumber": "CO-404"}, e, fm, nil)
	if err != nil {
		t.Fatalf("PullValue() error = %v", err)
	}
	if res.Value != nil {
		t.Errorf("PullValue() = %v, want nil for unlinked remote", res.Value)
	}
}

func TestRelatedIDsPlugin_RequiresReferencedMapping(t *testing.T) {
	env, _, _ := testEnv(t)
	p := &relatedIDsPlugin{env: env}
	fm := mapping.FieldMapping{ID: 4, LocalField: "company_ref", RemoteField: "CompanyNumber", Direction: mapping.DirectionSync}

	e := entity.NewEntity("node", "")
	e.Set("company_ref", "42")
	if _, err := p.Value(context.Background(), e, fm, nil); err == nil {
		t.Error("Value() = nil error without referenced_mapping")
	}
}

func TestRelatedPropertiesPlugin_PullWritesRelatedEntity(t *testing.T) {
	env, entities, _ := testEnv(t)
	p := &relatedPropertiesPlugin{env: env}
	fm := mapping.FieldMapping{ID: 5, Plugin: "related_properties", LocalField: "company_ref:phone", RemoteField: "CompanyPhone", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync, ReferencedMapping: "companies"}

	company := entity.NewEntity("node", "company")
	if err := entities.Save(context.Background(), company); err != nil {
		t.Fatal(err)
	}

	e := entity.NewEntity("node", "contact")
	e.Set("company_ref", company.ID)

	res, err := p.PullValue(context.Background(), odata.Record{"CompanyPhone": "555-0101"}, e, fm, nil)
	if err != nil {
		t.Fatalf("PullValue() error = %v", err)
	}
	if !res.Applied {
		t.Error("PullValue() Applied = false; related write must not be reassigned")
	}

	saved, err := entities.Load(context.Background(), "node", company.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := saved.Get("phone"); v != "555-0101" {
		t.Errorf("related entity phone = %v", v)
	}
}

func TestRelatedPropertiesPlugin_PushReadsRelatedEntity(t *testing.T) {
	env, entities, _ := testEnv(t)
	p := &relatedPropertiesPlugin{env: env}
	fm := mapping.FieldMapping{ID: 5, LocalField: "company_ref:phone", RemoteField: "CompanyPhone", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync, ReferencedMapping: "companies"}

	company := entity.NewEntity("node", "company")
	company.Set("phone", "555-0102")
	if err := entities.Save(context.Background(), company); err != nil {
		t.Fatal(err)
	}

	e := entity.NewEntity("node", "contact")
	e.Set("company_ref", company.ID)

	v, err := p.PushValue(context.Background(), e, fm, nil)
	if err != nil {
		t.Fatalf("PushValue() error = %v", err)
	}
	if v != "555-0102" {
		t.Errorf("PushValue() = %v", v)
	}
}

func TestTermStringPlugin_PullCreatesMissingTerm(t *testing.T) {
	env, entities, _ := testEnv(t)
	p := &termStringPlugin{env: env}
	fm := mapping.FieldMapping{ID: 6, Plugin: "term_string", LocalField: "category", RemoteField: "Category", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync, Constant: "categories"}

	res, err := p.PullValue(context.Background(), odata.Record{"Category": "Hardware"}, entity.NewEntity("node", ""), fm, nil)
	if err != nil {
		t.Fatalf("PullValue() error = %v", err)
	}
	termID, ok := res.Value.(string)
	if !ok || termID == "" {
		t.Fatalf("PullValue() = %v, want created term id", res.Value)
	}

	term, err := entities.Load(context.Background(), TermEntityType, termID)
	if err != nil {
		t.Fatalf("created term not loadable: %v", err)
	}
	if term.Bundle != "categories" {
		t.Errorf("term bundle = %q, want vocabulary from Constant", term.Bundle)
	}
	if name, _ := term.Get("name"); name != "Hardware" {
		t.Errorf("term name = %v", name)
	}

	// Second pull of the same name reuses the existing term.
	res2, err := p.PullValue(context.Background(), odata.Record{"Category": "Hardware"}, entity.NewEntity("node", ""), fm, nil)
	if err != nil {
		t.Fatalf("PullValue() error = %v", err)
	}
	if res2.Value != termID {
		t.Errorf("second PullValue() = %v, want reused term %s", res2.Value, termID)
	}
}

func TestTermStringPlugin_PushResolvesName(t *testing.T) {
	env, entities, _ := testEnv(t)
	p := &termStringPlugin{env: env}
	fm := mapping.FieldMapping{ID: 6, LocalField: "category", RemoteField: "Category", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionSync, Constant: "categories"}

	term := entity.NewEntity(TermEntityType, "categories")
	term.Set("name", "Software")
	if err := entities.Save(context.Background(), term); err != nil {
		t.Fatal(err)
	}

	e := entity.NewEntity("node", "contact")
	e.Set("category", term.ID)

	v, err := p.PushValue(context.Background(), e, fm, nil)
	if err != nil {
		t.Fatalf("PushValue() error = %v", err)
	}
	if v != "Software" {
		t.Errorf("PushValue() = %v, want Software", v)
	}
}

func TestTokenPlugin_ExpandsTemplate(t *testing.T) {
	p := &tokenPlugin{}
	fm := mapping.FieldMapping{ID: 7, Plugin: "token", Template: "${title} (${sku})", RemoteField: "Display", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionLocalToRemote}

	e := entity.NewEntity("node", "product")
	e.Set("title", "Widget")
	e.Set("sku", "W-1")

	v, err := p.PushValue(context.Background(), e, fm, nil)
	if err != nil {
		t.Fatalf("PushValue() error = %v", err)
	}
	if v != "Widget (W-1)" {
		t.Errorf("PushValue() = %v", v)
	}

	if p.Pull(fm) {
		t.Error("Pull() = true; token rendering is one-way")
	}
}

func TestTokenPlugin_MissingFieldsExpandEmpty(t *testing.T) {
	p := &tokenPlugin{}
	fm := mapping.FieldMapping{Template: "${missing}!", RemoteFieldType: mapping.TypeString, Direction: mapping.DirectionLocalToRemote}

	v, err := p.Value(context.Background(), entity.NewEntity("node", ""), fm, nil)
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != "!" {
		t.Errorf("Value() = %q, want %q", v, "!")
	}
}
