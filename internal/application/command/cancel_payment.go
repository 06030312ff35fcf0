package command

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// CancelPaymentCommand отбрасывает незавершённую попытку оплаты.
// Статус записи не меняется.
type CancelPaymentCommand struct {
	Session      *session.Session `validate:"required"`
	EnrollmentID string           `validate:"required"`
}

// CancelPaymentHandler обрабатывает CancelPaymentCommand.
type CancelPaymentHandler struct {
	sessions    *session.Resolver
	enrollments enrollment.Repository
	attempts    payment.AttemptStore
	logger      *logger.Logger
}

// NewCancelPaymentHandler создаёт обработчик.
func NewCancelPaymentHandler(
	sessions *session.Resolver,
	enrollments enrollment.Repository,
	attempts payment.AttemptStore,
	log *logger.Logger,
) *CancelPaymentHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CancelPaymentHandler{sessions: sessions, enrollments: enrollments, attempts: attempts, logger: log.Named("cancel_payment")}
}

// Handle удаляет попытку. Отсутствие попытки не ошибка.
func (h *CancelPaymentHandler) Handle(ctx context.Context, cmd CancelPaymentCommand) error {
	if err := validateStruct("cancel_payment", cmd); err != nil {
		return err
	}
	actor, err := h.sessions.Resolve(ctx, cmd.Session)
	if err != nil {
		return err
	}
	e, err := ownedEnrollment(ctx, h.enrollments, cmd.EnrollmentID, actor)
	if err != nil {
		return fmt.Errorf("cancel_payment: %w", err)
	}
	if err := h.attempts.Delete(ctx, e.ID); err != nil {
		return fmt.Errorf("cancel_payment: %w", err)
	}
	h.logger.Info("payment attempt discarded", logger.EnrollmentID(e.ID))
	return nil
}
