package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// CreateProgrammeCommand создаёт программу от имени преподавателя.
type CreateProgrammeCommand struct {
	Session      *session.Session `validate:"required"`
	Name         string           `validate:"required,max=200"`
	NQFLevel     int              `validate:"min=1,max=10"`
	TotalCredits int              `validate:"gt=0"`
	Description  string           `validate:"max=2000"`
}

// CreateProgrammeHandler обрабатывает CreateProgrammeCommand.
type CreateProgrammeHandler struct {
	sessions *session.Resolver
	catalog  programme.Store
	clock    timeutil.Clock
	logger   *logger.Logger
}

// NewCreateProgrammeHandler создаёт обработчик.
func NewCreateProgrammeHandler(
	sessions *session.Resolver,
	catalog programme.Store,
	clock timeutil.Clock,
	log *logger.Logger,
) *CreateProgrammeHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CreateProgrammeHandler{sessions: sessions, catalog: catalog, clock: clock, logger: log.Named("create_programme")}
}

// Handle сохраняет программу; преподаватель становится её ведущим.
func (h *CreateProgrammeHandler) Handle(ctx context.Context, cmd CreateProgrammeCommand) (*programme.Programme, error) {
	if err := validateStruct("create_programme", cmd); err != nil {
		return nil, err
	}
	actor, err := h.sessions.RequireRole(ctx, cmd.Session, identity.RoleFacilitator)
	if err != nil {
		return nil, err
	}

	p := &programme.Programme{
		ID:            newID(),
		Name:          strings.TrimSpace(cmd.Name),
		NQFLevel:      cmd.NQFLevel,
		TotalCredits:  cmd.TotalCredits,
		Description:   strings.TrimSpace(cmd.Description),
		FacilitatorID: actor.ID,
		CreatedAt:     h.clock.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, shared.WrapError("create_programme", "Validate", shared.ErrValidation, "invalid programme", err)
	}
	if err := h.catalog.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create_programme: %w", err)
	}

	h.logger.Info("programme created", logger.ProgrammeID(p.ID), logger.IdentityID(actor.ID))
	return p, nil
}
