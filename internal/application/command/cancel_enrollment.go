package command

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// CancelEnrollmentCommand отменяет запись. Отменить может владелец или администратор.
type CancelEnrollmentCommand struct {
	Session      *session.Session `validate:"required"`
	EnrollmentID string           `validate:"required"`
}

// CancelEnrollmentHandler обрабатывает CancelEnrollmentCommand.
type CancelEnrollmentHandler struct {
	sessions       *session.Resolver
	enrollments    enrollment.Repository
	attempts       payment.AttemptStore
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
}

// NewCancelEnrollmentHandler создаёт обработчик.
func NewCancelEnrollmentHandler(
	sessions *session.Resolver,
	enrollments enrollment.Repository,
	attempts payment.AttemptStore,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
) *CancelEnrollmentHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CancelEnrollmentHandler{
		sessions:       sessions,
		enrollments:    enrollments,
		attempts:       attempts,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         log.Named("cancel_enrollment"),
	}
}

// Handle отменяет запись. Повторная отмена возвращает уже отменённую запись.
func (h *CancelEnrollmentHandler) Handle(ctx context.Context, cmd CancelEnrollmentCommand) (*enrollment.Enrollment, error) {
	if err := validateStruct("cancel_enrollment", cmd); err != nil {
		return nil, err
	}
	actor, err := h.sessions.Resolve(ctx, cmd.Session)
	if err != nil {
		return nil, err
	}

	e, err := h.enrollments.GetByID(ctx, cmd.EnrollmentID)
	if err != nil {
		return nil, fmt.Errorf("cancel_enrollment: %w", err)
	}
	if !e.BelongsTo(actor.ID) && !actor.HasRole(identity.RoleAdministrator) {
		return nil, shared.ErrUnauthorizedActor
	}
	if !e.IsActive() {
		return e, nil
	}

	rows, err := h.enrollments.Cancel(ctx, e.ID, h.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("cancel_enrollment: %w", err)
	}

	// Незавершённая попытка оплаты теряет смысл вместе с записью.
	if h.attempts != nil {
		if err := h.attempts.Delete(ctx, e.ID); err != nil {
			h.logger.Warn("failed to discard payment attempt", logger.EnrollmentID(e.ID), logger.Err(err))
		}
	}

	updated, err := h.enrollments.GetByID(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel_enrollment: reload: %w", err)
	}

	if rows == 1 && h.eventPublisher != nil {
		event := shared.NewEnrollmentCancelledEvent(e.ID, e.LearnerID, e.ProgrammeID)
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", logger.EnrollmentID(e.ID), logger.Err(err))
		}
	}

	h.logger.Info("enrollment cancelled", logger.EnrollmentID(e.ID), logger.IdentityID(actor.ID))
	return updated, nil
}
