package query

import (
	"context"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// PaymentAttemptDTO - состояние попытки оплаты.
type PaymentAttemptDTO struct {
	EnrollmentID string    `json:"enrollment_id"`
	Step         string    `json:"step"`
	Method       string    `json:"method,omitempty"`
	CardLast4    string    `json:"card_last4,omitempty"`
	Failures     int       `json:"failures"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GetPaymentAttemptHandler читает текущую попытку оплаты владельца записи.
type GetPaymentAttemptHandler struct {
	sessions    *session.Resolver
	enrollments enrollment.Repository
	attempts    payment.AttemptStore
}

// NewGetPaymentAttemptHandler создаёт обработчик.
func NewGetPaymentAttemptHandler(sessions *session.Resolver, enrollments enrollment.Repository, attempts payment.AttemptStore) *GetPaymentAttemptHandler {
	return &GetPaymentAttemptHandler{sessions: sessions, enrollments: enrollments, attempts: attempts}
}

// Handle возвращает попытку или ErrNoPaymentAttempt.
func (h *GetPaymentAttemptHandler) Handle(ctx context.Context, s *session.Session, enrollmentID string) (*PaymentAttemptDTO, error) {
	actor, err := h.sessions.Resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	e, err := h.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if !e.BelongsTo(actor.ID) {
		return nil, shared.ErrUnauthorizedActor
	}
	a, err := h.attempts.Get(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	return &PaymentAttemptDTO{
		EnrollmentID: a.EnrollmentID,
		Step:         string(a.Step),
		Method:       string(a.Method),
		CardLast4:    a.CardLast4,
		Failures:     a.Failures,
		UpdatedAt:    a.UpdatedAt,
	}, nil
}
