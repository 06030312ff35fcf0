package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ProgrammeStore implements programme.Store for facilitator-created programmes.
type ProgrammeStore struct {
	mu   sync.RWMutex
	rows map[string]*programme.Programme
}

// NewProgrammeStore creates an empty store.
func NewProgrammeStore() *ProgrammeStore {
	return &ProgrammeStore{rows: make(map[string]*programme.Programme)}
}

func (s *ProgrammeStore) List(_ context.Context) ([]*programme.Programme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*programme.Programme, 0, len(s.rows))
	for _, p := range s.rows {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *ProgrammeStore) Get(_ context.Context, id string) (*programme.Programme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.rows[id]
	if !ok {
		return nil, shared.ErrProgrammeNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *ProgrammeStore) Create(_ context.Context, p *programme.Programme) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[p.ID]; ok {
		return shared.NewDomainError("programme", "Create", shared.ErrAlreadyExists, "programme id already used")
	}
	cp := *p
	s.rows[p.ID] = &cp
	return nil
}

func (s *ProgrammeStore) ListByFacilitator(ctx context.Context, facilitatorID string) ([]*programme.Programme, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*programme.Programme
	for _, p := range all {
		if p.IsFacilitatedBy(facilitatorID) {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ programme.Store = (*ProgrammeStore)(nil)
