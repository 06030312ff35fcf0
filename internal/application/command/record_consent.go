package command

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// RecordConsentCommand фиксирует решение о согласии (POPIA) текущего участника.
type RecordConsentCommand struct {
	Session  *session.Session
	Accepted bool
}

// RecordConsentHandler обрабатывает RecordConsentCommand.
type RecordConsentHandler struct {
	sessions *session.Resolver
	consents identity.ConsentRepository
	clock    timeutil.Clock
	logger   *logger.Logger
}

// NewRecordConsentHandler создаёт обработчик.
func NewRecordConsentHandler(
	sessions *session.Resolver,
	consents identity.ConsentRepository,
	clock timeutil.Clock,
	log *logger.Logger,
) *RecordConsentHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordConsentHandler{sessions: sessions, consents: consents, clock: clock, logger: log.Named("record_consent")}
}

// Handle сохраняет решение. Последнее решение перезаписывает предыдущее.
func (h *RecordConsentHandler) Handle(ctx context.Context, cmd RecordConsentCommand) (*identity.Consent, error) {
	actor, err := h.sessions.Resolve(ctx, cmd.Session)
	if err != nil {
		return nil, err
	}

	consent := identity.Consent{
		IdentityID: actor.ID,
		Accepted:   cmd.Accepted,
		DecidedAt:  h.clock.Now().UTC(),
	}
	if err := h.consents.Upsert(ctx, consent); err != nil {
		return nil, fmt.Errorf("record_consent: %w", err)
	}

	h.logger.Info("consent recorded", logger.IdentityID(actor.ID), logger.Bool("accepted", cmd.Accepted))
	return &consent, nil
}
