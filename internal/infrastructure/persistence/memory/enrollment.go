package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// EnrollmentRepository implements enrollment.Repository.
// Each conditional update checks its guard and applies the change under one lock.
type EnrollmentRepository struct {
	mu   sync.RWMutex
	rows map[string]*enrollment.Enrollment
}

// NewEnrollmentRepository creates an empty repository.
func NewEnrollmentRepository() *EnrollmentRepository {
	return &EnrollmentRepository{rows: make(map[string]*enrollment.Enrollment)}
}

func cloneEnrollment(e *enrollment.Enrollment) *enrollment.Enrollment {
	cp := *e
	if e.CancelledAt != nil {
		t := *e.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

func (r *EnrollmentRepository) Create(_ context.Context, e *enrollment.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[e.ID]; ok {
		return shared.NewDomainError("enrollment", "Create", shared.ErrAlreadyExists, "enrollment id already used")
	}
	for _, existing := range r.rows {
		if existing.IsActive() && existing.LearnerID == e.LearnerID && existing.ProgrammeID == e.ProgrammeID {
			return shared.ErrAlreadyEnrolled
		}
	}
	r.rows[e.ID] = cloneEnrollment(e)
	return nil
}

func (r *EnrollmentRepository) GetByID(_ context.Context, id string) (*enrollment.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.rows[id]
	if !ok {
		return nil, shared.ErrEnrollmentNotFound
	}
	return cloneEnrollment(e), nil
}

func (r *EnrollmentRepository) GetActive(_ context.Context, learnerID, programmeID string) (*enrollment.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.rows {
		if e.IsActive() && e.LearnerID == learnerID && e.ProgrammeID == programmeID {
			return cloneEnrollment(e), nil
		}
	}
	return nil, shared.ErrEnrollmentNotFound
}

func (r *EnrollmentRepository) ListByLearner(_ context.Context, learnerID string) ([]*enrollment.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*enrollment.Enrollment
	for _, e := range r.rows {
		if e.LearnerID == learnerID {
			out = append(out, cloneEnrollment(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.After(out[j].EnrolledAt) })
	return out, nil
}

// update applies fn to the row when guard holds, returning rows affected.
func (r *EnrollmentRepository) update(id string, at time.Time, guard func(*enrollment.Enrollment) bool, fn func(*enrollment.Enrollment)) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rows[id]
	if !ok || !guard(e) {
		return 0, nil
	}
	fn(e)
	e.UpdatedAt = at.UTC()
	return 1, nil
}

func (r *EnrollmentRepository) MarkPaid(_ context.Context, id string, at time.Time) (int64, error) {
	return r.update(id, at,
		func(e *enrollment.Enrollment) bool { return e.IsActive() && e.PaymentStatus != enrollment.PaymentPaid },
		func(e *enrollment.Enrollment) { e.PaymentStatus = enrollment.PaymentPaid },
	)
}

func (r *EnrollmentRepository) MarkPaymentFailed(_ context.Context, id string, at time.Time) (int64, error) {
	return r.update(id, at,
		func(e *enrollment.Enrollment) bool { return e.PaymentStatus != enrollment.PaymentPaid },
		func(e *enrollment.Enrollment) { e.PaymentStatus = enrollment.PaymentFailed },
	)
}

func (r *EnrollmentRepository) AdvanceProgress(_ context.Context, id string, percent int, at time.Time) (int64, error) {
	if percent > 100 {
		percent = 100
	}
	return r.update(id, at,
		func(e *enrollment.Enrollment) bool { return e.IsUnlocked() && percent > e.ProgressPercent },
		func(e *enrollment.Enrollment) { e.ProgressPercent = percent },
	)
}

func (r *EnrollmentRepository) AddCredits(_ context.Context, id string, delta int, at time.Time) (int64, error) {
	if delta <= 0 {
		return 0, nil
	}
	return r.update(id, at,
		func(e *enrollment.Enrollment) bool { return e.IsUnlocked() && e.CreditsEarned < e.CreditsTotal },
		func(e *enrollment.Enrollment) { e.CreditsEarned = e.CappedCredits(delta) },
	)
}

func (r *EnrollmentRepository) Cancel(_ context.Context, id string, at time.Time) (int64, error) {
	return r.update(id, at,
		func(e *enrollment.Enrollment) bool { return e.IsActive() },
		func(e *enrollment.Enrollment) {
			t := at.UTC()
			e.CancelledAt = &t
		},
	)
}

var _ enrollment.Repository = (*EnrollmentRepository)(nil)
