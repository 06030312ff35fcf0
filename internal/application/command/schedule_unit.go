package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ScheduleUnitCommand создаёт или заменяет недельный модуль программы.
// UnitID пустой - новый модуль.
type ScheduleUnitCommand struct {
	Session        *session.Session `validate:"required"`
	ProgrammeID    string           `validate:"required"`
	UnitID         string
	Title          string              `validate:"required,max=200"`
	WeekStart      time.Time           `validate:"required"`
	WeekEnd        time.Time           `validate:"required"`
	Activities     []activity.Activity `validate:"required,min=1"`
	LiveSessionRef string              `validate:"omitempty,max=500"`
	Credits        int                 `validate:"min=0"`
}

// ScheduleUnitHandler обрабатывает ScheduleUnitCommand.
type ScheduleUnitHandler struct {
	sessions *session.Resolver
	catalog  programme.Source
	units    activity.UnitRepository
	clock    timeutil.Clock
	logger   *logger.Logger
}

// NewScheduleUnitHandler создаёт обработчик.
func NewScheduleUnitHandler(
	sessions *session.Resolver,
	catalog programme.Source,
	units activity.UnitRepository,
	clock timeutil.Clock,
	log *logger.Logger,
) *ScheduleUnitHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ScheduleUnitHandler{sessions: sessions, catalog: catalog, units: units, clock: clock, logger: log.Named("schedule_unit")}
}

// Handle сохраняет модуль. Разрешено ведущему преподавателю программы и администратору.
func (h *ScheduleUnitHandler) Handle(ctx context.Context, cmd ScheduleUnitCommand) (*activity.WeeklyUnit, error) {
	if err := validateStruct("schedule_unit", cmd); err != nil {
		return nil, err
	}
	actor, err := h.sessions.RequireRole(ctx, cmd.Session, identity.RoleFacilitator, identity.RoleAdministrator)
	if err != nil {
		return nil, err
	}

	prog, err := h.catalog.Get(ctx, cmd.ProgrammeID)
	if err != nil {
		return nil, fmt.Errorf("schedule_unit: %w", err)
	}
	if actor.HasRole(identity.RoleFacilitator) && !prog.IsFacilitatedBy(actor.ID) {
		return nil, shared.ErrUnauthorizedActor
	}

	now := h.clock.Now().UTC()
	unit := &activity.WeeklyUnit{
		ID:             cmd.UnitID,
		ProgrammeID:    prog.ID,
		Title:          strings.TrimSpace(cmd.Title),
		WeekStart:      timeutil.StartOfDay(cmd.WeekStart),
		WeekEnd:        timeutil.StartOfDay(cmd.WeekEnd),
		Activities:     cmd.Activities,
		LiveSessionRef: strings.TrimSpace(cmd.LiveSessionRef),
		Credits:        cmd.Credits,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if unit.ID == "" {
		unit.ID = newID()
	} else {
		existing, err := h.units.GetByID(ctx, unit.ID)
		if err != nil {
			return nil, fmt.Errorf("schedule_unit: %w", err)
		}
		if existing.ProgrammeID != prog.ID {
			return nil, shared.NewDomainError("schedule_unit", "Handle", shared.ErrValidation, "unit belongs to another programme")
		}
		unit.CreatedAt = existing.CreatedAt
	}

	if err := unit.Validate(); err != nil {
		return nil, shared.WrapError("schedule_unit", "Validate", shared.ErrValidation, "invalid weekly unit", err)
	}
	if err := h.units.Save(ctx, unit); err != nil {
		return nil, fmt.Errorf("schedule_unit: save: %w", err)
	}

	h.logger.Info("weekly unit scheduled",
		logger.ProgrammeID(prog.ID),
		logger.String("unit_id", unit.ID),
		logger.String("week_start", timeutil.FormatDate(unit.WeekStart)),
		logger.String("week_end", timeutil.FormatDate(unit.WeekEnd)),
	)
	return unit, nil
}
