package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE ENROLLMENT COMMAND
// Записывает слушателя на программу. Кредиты программы копируются в запись
// в момент создания; последующие правки программы запись не меняют.
// ══════════════════════════════════════════════════════════════════════════════

// CreateEnrollmentCommand содержит параметры записи.
type CreateEnrollmentCommand struct {
	Session     *session.Session `validate:"required"`
	ProgrammeID string           `validate:"required"`
}

// CreateEnrollmentResult содержит созданную запись.
type CreateEnrollmentResult struct {
	Enrollment *enrollment.Enrollment
	Programme  *programme.Programme
	Events     []shared.Event
}

// CreateEnrollmentHandler обрабатывает CreateEnrollmentCommand.
type CreateEnrollmentHandler struct {
	sessions       *session.Resolver
	catalog        programme.Source
	enrollments    enrollment.Repository
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
}

// NewCreateEnrollmentHandler создаёт обработчик.
func NewCreateEnrollmentHandler(
	sessions *session.Resolver,
	catalog programme.Source,
	enrollments enrollment.Repository,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
) *CreateEnrollmentHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CreateEnrollmentHandler{
		sessions:       sessions,
		catalog:        catalog,
		enrollments:    enrollments,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         log.Named("create_enrollment"),
	}
}

// Handle создаёт запись.
// Возвращает ErrAlreadyEnrolled, если у слушателя уже есть активная запись
// на эту программу; существующую запись можно получить через GetEnrollments.
func (h *CreateEnrollmentHandler) Handle(ctx context.Context, cmd CreateEnrollmentCommand) (*CreateEnrollmentResult, error) {
	if err := validateStruct("create_enrollment", cmd); err != nil {
		return nil, err
	}
	learner, err := h.sessions.RequireRole(ctx, cmd.Session, identity.RoleLearner)
	if err != nil {
		return nil, err
	}

	prog, err := h.catalog.Get(ctx, cmd.ProgrammeID)
	if err != nil {
		return nil, fmt.Errorf("create_enrollment: %w", err)
	}

	// Быстрая проверка; окончательно инвариант держит уникальный индекс хранилища.
	if _, err := h.enrollments.GetActive(ctx, learner.ID, prog.ID); err == nil {
		return nil, shared.ErrAlreadyEnrolled
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("create_enrollment: lookup active: %w", err)
	}

	e, err := enrollment.New(newID(), learner.ID, prog.ID, prog.TotalCredits, h.clock.Now())
	if err != nil {
		return nil, shared.WrapError("create_enrollment", "New", shared.ErrValidation, "invalid enrollment", err)
	}

	if err := h.enrollments.Create(ctx, e); err != nil {
		if errors.Is(err, shared.ErrAlreadyEnrolled) {
			return nil, shared.ErrAlreadyEnrolled
		}
		return nil, fmt.Errorf("create_enrollment: save: %w", err)
	}

	event := shared.NewEnrollmentCreatedEvent(e.ID, e.LearnerID, e.ProgrammeID, e.CreditsTotal)
	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", logger.EnrollmentID(e.ID), logger.Err(err))
		}
	}

	h.logger.Info("enrollment created",
		logger.EnrollmentID(e.ID),
		logger.IdentityID(e.LearnerID),
		logger.ProgrammeID(e.ProgrammeID),
	)

	return &CreateEnrollmentResult{
		Enrollment: e,
		Programme:  prog,
		Events:     []shared.Event{event},
	}, nil
}
