// Package catalog provides the static programme list that is merged with
// facilitator-created programmes at read time.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

//go:embed programmes.yaml
var defaultSeed []byte

type seedFile struct {
	Programmes []seedProgramme `yaml:"programmes"`
}

type seedProgramme struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	NQFLevel      int    `yaml:"nqf_level"`
	TotalCredits  int    `yaml:"total_credits"`
	Description   string `yaml:"description"`
	FacilitatorID string `yaml:"facilitator_id"`
}

// Seed is a read-only programme.Source loaded once from YAML.
type Seed struct {
	byID  map[string]*programme.Programme
	order []string
}

// Default returns the embedded seed list.
func Default() (*Seed, error) {
	return Parse(defaultSeed)
}

// LoadFile reads a seed list from path. An empty path yields the embedded list.
func LoadFile(path string) (*Seed, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read seed: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a seed document.
func Parse(data []byte) (*Seed, error) {
	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode seed: %w", err)
	}

	s := &Seed{byID: make(map[string]*programme.Programme, len(doc.Programmes))}
	for _, sp := range doc.Programmes {
		p := &programme.Programme{
			ID:            sp.ID,
			Name:          sp.Name,
			NQFLevel:      sp.NQFLevel,
			TotalCredits:  sp.TotalCredits,
			Description:   sp.Description,
			FacilitatorID: sp.FacilitatorID,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: seed programme %q: %w", sp.ID, err)
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate seed programme %q", p.ID)
		}
		s.byID[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	sort.Strings(s.order)
	return s, nil
}

// List returns copies of all seeded programmes.
func (s *Seed) List(_ context.Context) ([]*programme.Programme, error) {
	out := make([]*programme.Programme, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.byID[id]
		out = append(out, &cp)
	}
	return out, nil
}

// Get returns a seeded programme or shared.ErrProgrammeNotFound.
func (s *Seed) Get(_ context.Context, id string) (*programme.Programme, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, shared.ErrProgrammeNotFound
	}
	cp := *p
	return &cp, nil
}

// Len returns the number of seeded programmes.
func (s *Seed) Len() int {
	return len(s.order)
}

var _ programme.Source = (*Seed)(nil)
