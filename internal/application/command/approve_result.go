package command

import (
	"context"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ApproveResultCommand утверждает итоговую запись. Утверждающий берётся из сессии.
type ApproveResultCommand struct {
	Session  *session.Session `validate:"required"`
	ResultID string           `validate:"required"`
}

// ApproveResultResult - итог утверждения.
type ApproveResultResult struct {
	Record *result.Record

	// FirstApproval - запись перешла из ready в approved в этом вызове.
	FirstApproval bool

	// CreditsGranted - кредиты, добавленные записи слушателя.
	CreditsGranted int
}

// ApproveResultHandler обрабатывает ApproveResultCommand.
type ApproveResultHandler struct {
	sessions       *session.Resolver
	results        result.Repository
	units          activity.UnitRepository
	enrollments    enrollment.Repository
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
}

// NewApproveResultHandler создаёт обработчик.
func NewApproveResultHandler(
	sessions *session.Resolver,
	results result.Repository,
	units activity.UnitRepository,
	enrollments enrollment.Repository,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
) *ApproveResultHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ApproveResultHandler{
		sessions:       sessions,
		results:        results,
		units:          units,
		enrollments:    enrollments,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         log.Named("approve_result"),
	}
}

// Handle утверждает запись. Повторное утверждение перезаписывает
// утвердившего и время (последний побеждает); кредиты начисляются один раз.
func (h *ApproveResultHandler) Handle(ctx context.Context, cmd ApproveResultCommand) (*ApproveResultResult, error) {
	if err := validateStruct("approve_result", cmd); err != nil {
		return nil, err
	}
	approver, err := h.sessions.RequireRole(ctx, cmd.Session, identity.RoleFacilitator, identity.RoleAdministrator)
	if err != nil {
		return nil, err
	}

	rec, err := h.results.GetByID(ctx, cmd.ResultID)
	if err != nil {
		return nil, fmt.Errorf("approve_result: %w", err)
	}
	if err := rec.CanApprove(); err != nil {
		return nil, err
	}

	now := h.clock.Now()
	previous, matched, err := h.results.MarkApproved(ctx, rec.ID, approver.ID, now)
	if err != nil {
		return nil, fmt.Errorf("approve_result: %w", err)
	}
	if !matched {
		// Статус изменился между чтением и обновлением.
		current, err := h.results.GetByID(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("approve_result: reload: %w", err)
		}
		if err := current.CanApprove(); err != nil {
			return nil, err
		}
		return nil, shared.ErrConcurrentModification
	}

	out := &ApproveResultResult{FirstApproval: previous == result.StatusReady}
	if out.FirstApproval {
		granted, err := h.grantCredits(ctx, rec, now)
		if err != nil {
			return nil, err
		}
		out.CreditsGranted = granted
	}

	updated, err := h.results.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("approve_result: reload: %w", err)
	}
	out.Record = updated

	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(shared.NewResultApprovedEvent(rec.ID, rec.EnrollmentID, approver.ID)); err != nil {
			h.logger.Warn("failed to publish event", logger.ResultID(rec.ID), logger.Err(err))
		}
	}

	h.logger.Info("result approved",
		logger.ResultID(rec.ID),
		logger.IdentityID(approver.ID),
		logger.Bool("first_approval", out.FirstApproval),
		logger.Int("credits_granted", out.CreditsGranted),
	)
	return out, nil
}

func (h *ApproveResultHandler) grantCredits(ctx context.Context, rec *result.Record, now time.Time) (int, error) {
	unit, err := h.units.GetByID(ctx, rec.UnitID)
	if err != nil {
		if shared.IsNotFound(err) {
			h.logger.Warn("unit of approved result is gone", logger.ResultID(rec.ID))
			return 0, nil
		}
		return 0, fmt.Errorf("approve_result: load unit: %w", err)
	}
	if unit.Credits == 0 {
		return 0, nil
	}
	if _, err := h.enrollments.AddCredits(ctx, rec.EnrollmentID, unit.Credits, now); err != nil {
		return 0, fmt.Errorf("approve_result: add credits: %w", err)
	}
	return unit.Credits, nil
}
