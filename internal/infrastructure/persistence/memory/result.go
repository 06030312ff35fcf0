package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ResultRepository implements result.Repository.
type ResultRepository struct {
	mu   sync.RWMutex
	rows map[string]*result.Record
}

// NewResultRepository creates an empty repository.
func NewResultRepository() *ResultRepository {
	return &ResultRepository{rows: make(map[string]*result.Record)}
}

func cloneRecord(r *result.Record) *result.Record {
	cp := *r
	cp.EvidenceRefs = append([]string{}, r.EvidenceRefs...)
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		cp.ApprovedAt = &t
	}
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		cp.SubmittedAt = &t
	}
	return &cp
}

func (r *ResultRepository) GetOrCreateDraft(_ context.Context, draft *result.Record) (*result.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.rows {
		if rec.EnrollmentID == draft.EnrollmentID && rec.UnitID == draft.UnitID {
			return cloneRecord(rec), nil
		}
	}
	r.rows[draft.ID] = cloneRecord(draft)
	return cloneRecord(draft), nil
}

func (r *ResultRepository) GetByID(_ context.Context, id string) (*result.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.rows[id]
	if !ok {
		return nil, shared.ErrResultNotFound
	}
	return cloneRecord(rec), nil
}

func (r *ResultRepository) list(match func(*result.Record) bool) []*result.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*result.Record
	for _, rec := range r.rows {
		if match(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *ResultRepository) ListByStatus(_ context.Context, status result.Status, limit int) ([]*result.Record, error) {
	out := r.list(func(rec *result.Record) bool { return rec.Status == status })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ResultRepository) ListByEnrollment(_ context.Context, enrollmentID string) ([]*result.Record, error) {
	return r.list(func(rec *result.Record) bool { return rec.EnrollmentID == enrollmentID }), nil
}

func (r *ResultRepository) MarkReady(_ context.Context, id string, evidenceRefs []string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[id]
	if !ok || rec.Status != result.StatusDraft {
		return 0, nil
	}
	rec.Status = result.StatusReady
	rec.EvidenceRefs = append([]string{}, evidenceRefs...)
	rec.UpdatedAt = at.UTC()
	return 1, nil
}

func (r *ResultRepository) MarkApproved(_ context.Context, id, approverID string, at time.Time) (result.Status, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[id]
	if !ok || (rec.Status != result.StatusReady && rec.Status != result.StatusApproved) {
		return "", false, nil
	}
	previous := rec.Status
	t := at.UTC()
	rec.Status = result.StatusApproved
	rec.ApprovedBy = approverID
	rec.ApprovedAt = &t
	rec.UpdatedAt = t
	return previous, true, nil
}

func (r *ResultRepository) MarkSubmitted(_ context.Context, id, acknowledgementID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[id]
	if !ok || rec.Status != result.StatusApproved {
		return 0, nil
	}
	t := at.UTC()
	rec.Status = result.StatusSubmitted
	rec.AcknowledgementID = acknowledgementID
	rec.SubmittedAt = &t
	rec.UpdatedAt = t
	return 1, nil
}

// Locker implements result.Locker within one process.
type Locker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewLocker creates a lock table. now may be nil.
func NewLocker(now func() time.Time) *Locker {
	if now == nil {
		now = time.Now
	}
	return &Locker{held: make(map[string]time.Time), clock: now}
}

func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
		return nil
	}
	return release, true, nil
}

// Submitter implements result.Submitter and records every handoff.
type Submitter struct {
	mu        sync.Mutex
	seq       atomic.Int64
	submitted []string

	// Err, when set, is returned instead of an acknowledgement.
	Err error
}

// NewSubmitter creates a recording submitter.
func NewSubmitter() *Submitter {
	return &Submitter{}
}

func (s *Submitter) SubmitResult(_ context.Context, rec *result.Record) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	n := s.seq.Add(1)
	s.mu.Lock()
	s.submitted = append(s.submitted, rec.ID)
	s.mu.Unlock()
	return fmt.Sprintf("ACK-%04d", n), nil
}

// Submitted returns the IDs handed off so far, in order.
func (s *Submitter) Submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.submitted...)
}

var (
	_ result.Repository = (*ResultRepository)(nil)
	_ result.Locker     = (*Locker)(nil)
	_ result.Submitter  = (*Submitter)(nil)
)
