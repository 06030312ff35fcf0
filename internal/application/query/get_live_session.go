package query

import (
	"context"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// LiveSessionDTO - ссылка на живое занятие текущего модуля.
// Транспорт занятия здесь не управляется; ссылка непрозрачна.
type LiveSessionDTO struct {
	UnitID    string `json:"unit_id"`
	UnitTitle string `json:"unit_title"`
	Ref       string `json:"ref,omitempty"`
	Available bool   `json:"available"`
	InSession bool   `json:"in_session"`
}

// GetLiveSessionHandler возвращает ссылку на занятие, закрытую оплатой.
type GetLiveSessionHandler struct {
	sessions    *session.Resolver
	enrollments enrollment.Repository
	units       *GetCurrentUnitHandler
}

// NewGetLiveSessionHandler создаёт обработчик.
func NewGetLiveSessionHandler(sessions *session.Resolver, enrollments enrollment.Repository, units *GetCurrentUnitHandler) *GetLiveSessionHandler {
	return &GetLiveSessionHandler{sessions: sessions, enrollments: enrollments, units: units}
}

// Handle возвращает ссылку или ErrPaymentRequired для неоплаченной записи.
func (h *GetLiveSessionHandler) Handle(ctx context.Context, s *session.Session, enrollmentID string) (*LiveSessionDTO, error) {
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
	if !e.IsActive() {
		return nil, shared.ErrEnrollmentCancelled
	}
	if !e.IsUnlocked() {
		return nil, shared.ErrPaymentRequired
	}

	unit, inSession, err := h.units.current(ctx, e.ProgrammeID)
	if err != nil {
		return nil, err
	}
	return &LiveSessionDTO{
		UnitID:    unit.ID,
		UnitTitle: unit.Title,
		Ref:       unit.LiveSessionRef,
		Available: unit.LiveSessionRef != "",
		InSession: inSession,
	}, nil
}
