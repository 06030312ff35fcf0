package command

import (
	"context"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT RESULT COMMAND
// approved → submitted. Передача во внешний орган сертификации выполняется
// под кратковременной блокировкой по ID записи, чтобы параллельные вызовы
// (пакетная задача и ручная отправка) не отправили запись дважды.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultSubmitLockTTL - срок блокировки по умолчанию.
const DefaultSubmitLockTTL = 2 * time.Minute

// SubmitResultCommand передаёт утверждённую запись.
// Session nil означает системный вызов (планировщик).
type SubmitResultCommand struct {
	Session  *session.Session
	ResultID string `validate:"required"`
}

// SubmitResultResult - итог передачи.
type SubmitResultResult struct {
	Record *result.Record

	// AlreadySubmitted - запись была передана до этого вызова.
	AlreadySubmitted bool
}

// SubmitResultHandler обрабатывает SubmitResultCommand.
type SubmitResultHandler struct {
	sessions       *session.Resolver
	results        result.Repository
	submitter      result.Submitter
	locker         result.Locker
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	lockTTL        time.Duration
	logger         *logger.Logger
}

// NewSubmitResultHandler создаёт обработчик. locker может быть nil.
func NewSubmitResultHandler(
	sessions *session.Resolver,
	results result.Repository,
	submitter result.Submitter,
	locker result.Locker,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	lockTTL time.Duration,
	log *logger.Logger,
) *SubmitResultHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if lockTTL <= 0 {
		lockTTL = DefaultSubmitLockTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitResultHandler{
		sessions:       sessions,
		results:        results,
		submitter:      submitter,
		locker:         locker,
		eventPublisher: eventPublisher,
		clock:          clock,
		lockTTL:        lockTTL,
		logger:         log.Named("submit_result"),
	}
}

// Handle передаёт запись. Переданная запись возвращается без изменений.
func (h *SubmitResultHandler) Handle(ctx context.Context, cmd SubmitResultCommand) (*SubmitResultResult, error) {
	if err := validateStruct("submit_result", cmd); err != nil {
		return nil, err
	}
	if cmd.Session != nil {
		if _, err := h.sessions.RequireRole(ctx, cmd.Session, identity.RoleFacilitator, identity.RoleAdministrator); err != nil {
			return nil, err
		}
	}

	rec, err := h.results.GetByID(ctx, cmd.ResultID)
	if err != nil {
		return nil, fmt.Errorf("submit_result: %w", err)
	}
	if rec.Status == result.StatusSubmitted {
		return &SubmitResultResult{Record: rec, AlreadySubmitted: true}, nil
	}
	if err := rec.CanSubmit(); err != nil {
		return nil, err
	}

	if h.locker != nil {
		release, ok, err := h.locker.Acquire(ctx, "result:submit:"+rec.ID, h.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("submit_result: acquire lock: %w", err)
		}
		if !ok {
			return nil, shared.WrapError("result", "Submit", shared.ErrConcurrentModification,
				"submission already in progress", nil)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				h.logger.Warn("failed to release submit lock", logger.ResultID(rec.ID), logger.Err(err))
			}
		}()

		// Запись могла быть передана, пока блокировку держал другой вызов.
		rec, err = h.results.GetByID(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("submit_result: reload: %w", err)
		}
		if rec.Status == result.StatusSubmitted {
			return &SubmitResultResult{Record: rec, AlreadySubmitted: true}, nil
		}
	}

	ackID, err := h.submitter.SubmitResult(ctx, rec)
	if err != nil {
		h.logger.Error("certification handoff failed", logger.ResultID(rec.ID), logger.Err(err))
		return nil, fmt.Errorf("submit_result: %w", err)
	}

	rows, err := h.results.MarkSubmitted(ctx, rec.ID, ackID, h.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("submit_result: mark submitted: %w", err)
	}

	updated, err := h.results.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("submit_result: reload: %w", err)
	}
	if rows == 0 {
		if updated.Status == result.StatusSubmitted {
			return &SubmitResultResult{Record: updated, AlreadySubmitted: true}, nil
		}
		return nil, shared.ErrNotApproved
	}

	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(shared.NewResultSubmittedEvent(rec.ID, rec.EnrollmentID, ackID)); err != nil {
			h.logger.Warn("failed to publish event", logger.ResultID(rec.ID), logger.Err(err))
		}
	}

	h.logger.Info("result submitted",
		logger.ResultID(rec.ID),
		logger.EnrollmentID(rec.EnrollmentID),
		logger.String("acknowledgement_id", ackID),
	)
	return &SubmitResultResult{Record: updated}, nil
}
