package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// UnitRepository implements activity.UnitRepository.
type UnitRepository struct {
	mu   sync.RWMutex
	rows map[string]*activity.WeeklyUnit
}

// NewUnitRepository creates an empty repository.
func NewUnitRepository() *UnitRepository {
	return &UnitRepository{rows: make(map[string]*activity.WeeklyUnit)}
}

func cloneUnit(u *activity.WeeklyUnit) *activity.WeeklyUnit {
	cp := *u
	cp.Activities = append([]activity.Activity(nil), u.Activities...)
	return &cp
}

func (r *UnitRepository) Save(_ context.Context, u *activity.WeeklyUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[u.ID] = cloneUnit(u)
	return nil
}

func (r *UnitRepository) GetByID(_ context.Context, id string) (*activity.WeeklyUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.rows[id]
	if !ok {
		return nil, shared.ErrUnitNotFound
	}
	return cloneUnit(u), nil
}

func (r *UnitRepository) ListByProgramme(_ context.Context, programmeID string) ([]*activity.WeeklyUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*activity.WeeklyUnit
	for _, u := range r.rows {
		if u.ProgrammeID == programmeID {
			out = append(out, cloneUnit(u))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].WeekStart.Before(out[j].WeekStart) })
	return out, nil
}

// CompletionRepository implements activity.CompletionRepository.
type CompletionRepository struct {
	mu   sync.RWMutex
	rows map[string]map[string]activity.Completion
}

// NewCompletionRepository creates an empty repository.
func NewCompletionRepository() *CompletionRepository {
	return &CompletionRepository{rows: make(map[string]map[string]activity.Completion)}
}

func (r *CompletionRepository) Upsert(_ context.Context, c *activity.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey, ok := r.rows[c.EnrollmentID]
	if !ok {
		byKey = make(map[string]activity.Completion)
		r.rows[c.EnrollmentID] = byKey
	}
	byKey[c.ActivityKey] = *c
	return nil
}

func (r *CompletionRepository) Get(_ context.Context, enrollmentID, activityKey string) (*activity.Completion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.rows[enrollmentID][activityKey]
	if !ok {
		return nil, shared.NewDomainError("activity", "GetCompletion", shared.ErrNotFound, "activity not completed")
	}
	return &c, nil
}

func (r *CompletionRepository) ListByEnrollment(_ context.Context, enrollmentID string) ([]*activity.Completion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*activity.Completion, 0, len(r.rows[enrollmentID]))
	for _, c := range r.rows[enrollmentID] {
		cp := c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out, nil
}

// EvidenceStore implements activity.EvidenceStore by keeping blobs in memory.
type EvidenceStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// Err, when set, is returned by Store.
	Err error
}

// NewEvidenceStore creates an empty store.
func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{blobs: make(map[string][]byte)}
}

func (s *EvidenceStore) Store(_ context.Context, blob activity.Blob) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	var data []byte
	if blob.Content != nil {
		b, err := io.ReadAll(blob.Content)
		if err != nil {
			return "", fmt.Errorf("read evidence: %w", err)
		}
		data = b
	}
	ref := fmt.Sprintf("mem://%s/%s/%s", blob.EnrollmentID, blob.ActivityKey, uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = data
	return ref, nil
}

// Blob returns the stored bytes for ref.
func (s *EvidenceStore) Blob(ref string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[ref]
	return b, ok
}

var (
	_ activity.UnitRepository       = (*UnitRepository)(nil)
	_ activity.CompletionRepository = (*CompletionRepository)(nil)
	_ activity.EvidenceStore        = (*EvidenceStore)(nil)
)
