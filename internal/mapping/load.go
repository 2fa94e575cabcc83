package mapping

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Set is an ordered collection of validated mappings, keyed by ID.
type Set struct {
	byID    map[string]*Mapping
	ordered []*Mapping
}

// NewSet builds a Set from mappings, validating each. Order is weight
// ascending, then ID for stability.
func NewSet(mappings []*Mapping) (*Set, error) {
	s := &Set{byID: make(map[string]*Mapping)}
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.byID[m.ID]; ok {
			return nil, fmt.Errorf("duplicate mapping id %q", m.ID)
		}
		s.byID[m.ID] = m
		s.ordered = append(s.ordered, m)
	}
	sort.SliceStable(s.ordered, func(i, j int) bool {
		if s.ordered[i].Weight != s.ordered[j].Weight {
			return s.ordered[i].Weight < s.ordered[j].Weight
		}
		return s.ordered[i].ID < s.ordered[j].ID
	})
	return s, nil
}

// Get returns the mapping with the given ID.
func (s *Set) Get(id string) (*Mapping, bool) {
	m, ok := s.byID[id]
	return m, ok
}

// All returns every mapping in weight order.
func (s *Set) All() []*Mapping {
	return s.ordered
}

// PushMappings returns mappings with any push trigger, in weight order.
func (s *Set) PushMappings() []*Mapping {
	var out []*Mapping
	for _, m := range s.ordered {
		if m.PushTriggers.Any() {
			out = append(out, m)
		}
	}
	return out
}

// PullMappings returns mappings with any pull trigger, in weight order.
func (s *Set) PullMappings() []*Mapping {
	var out []*Mapping
	for _, m := range s.ordered {
		if m.PullTriggers.Any() {
			out = append(out, m)
		}
	}
	return out
}

// LoadFile parses a single mapping definition from a YAML file.
func LoadFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mapping file %s: %w", path, err)
	}
	return &m, nil
}

// LoadDir loads every *.yaml / *.yml mapping definition under dir into a
// validated Set.
func LoadDir(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read mapping directory: %w", err)
	}
	var mappings []*Mapping
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		m, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return NewSet(mappings)
}
