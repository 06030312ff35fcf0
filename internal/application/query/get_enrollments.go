package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ENROLLMENTS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetEnrollmentsQuery - записи слушателя.
type GetEnrollmentsQuery struct {
	LearnerID string

	// ProgrammeID - только записи на эту программу (опционально).
	ProgrammeID string

	// IncludeCancelled - включать отменённые записи.
	IncludeCancelled bool
}

// Validate проверяет параметры.
func (q GetEnrollmentsQuery) Validate() error {
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	return nil
}

// EnrollmentDTO - запись для отображения.
type EnrollmentDTO struct {
	ID              string     `json:"id"`
	LearnerID       string     `json:"learner_id"`
	ProgrammeID     string     `json:"programme_id"`
	PaymentStatus   string     `json:"payment_status"`
	Unlocked        bool       `json:"unlocked"`
	CreditsEarned   int        `json:"credits_earned"`
	CreditsTotal    int        `json:"credits_total"`
	ProgressPercent int        `json:"progress_percent"`
	EnrolledAt      time.Time  `json:"enrolled_at"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

// NewEnrollmentDTO собирает DTO.
func NewEnrollmentDTO(e *enrollment.Enrollment) EnrollmentDTO {
	return EnrollmentDTO{
		ID:              e.ID,
		LearnerID:       e.LearnerID,
		ProgrammeID:     e.ProgrammeID,
		PaymentStatus:   string(e.PaymentStatus),
		Unlocked:        e.IsUnlocked(),
		CreditsEarned:   e.CreditsEarned,
		CreditsTotal:    e.CreditsTotal,
		ProgressPercent: e.ProgressPercent,
		EnrolledAt:      e.EnrolledAt,
		CancelledAt:     e.CancelledAt,
	}
}

// GetEnrollmentsHandler обрабатывает запросы к реестру записей.
type GetEnrollmentsHandler struct {
	enrollments enrollment.Repository
}

// NewGetEnrollmentsHandler создаёт обработчик.
func NewGetEnrollmentsHandler(enrollments enrollment.Repository) *GetEnrollmentsHandler {
	return &GetEnrollmentsHandler{enrollments: enrollments}
}

// Handle возвращает записи слушателя, новые первыми.
func (h *GetEnrollmentsHandler) Handle(ctx context.Context, q GetEnrollmentsQuery) ([]EnrollmentDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_enrollments: %w", err)
	}
	list, err := h.enrollments.ListByLearner(ctx, q.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("get_enrollments: %w", err)
	}

	out := make([]EnrollmentDTO, 0, len(list))
	for _, e := range list {
		if q.ProgrammeID != "" && e.ProgrammeID != q.ProgrammeID {
			continue
		}
		if !q.IncludeCancelled && !e.IsActive() {
			continue
		}
		out = append(out, NewEnrollmentDTO(e))
	}
	return out, nil
}

// Get возвращает одну запись или ErrEnrollmentNotFound.
func (h *GetEnrollmentsHandler) Get(ctx context.Context, id string) (*EnrollmentDTO, error) {
	e, err := h.enrollments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := NewEnrollmentDTO(e)
	return &dto, nil
}
