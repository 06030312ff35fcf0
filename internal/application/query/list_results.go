package query

import (
	"context"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST RESULTS QUERY
// Очередь на утверждение для преподавателей и администраторов,
// а также итоговые записи слушателя по его записи на программу.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultResultsLimit - размер страницы по умолчанию.
const DefaultResultsLimit = 50

// ListResultsQuery содержит фильтры.
type ListResultsQuery struct {
	// Status - статус для очереди (например, ready).
	Status string

	// EnrollmentID - записи одной записи на программу (вместо Status).
	EnrollmentID string

	Limit int
}

// ResultDTO - итоговая запись.
type ResultDTO struct {
	ID                string     `json:"id"`
	EnrollmentID      string     `json:"enrollment_id"`
	UnitID            string     `json:"unit_id"`
	ModuleName        string     `json:"module_name"`
	Status            string     `json:"status"`
	EvidenceRefs      []string   `json:"evidence_refs"`
	ApprovedBy        string     `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	AcknowledgementID string     `json:"acknowledgement_id,omitempty"`
}

// NewResultDTO собирает DTO.
func NewResultDTO(r *result.Record) ResultDTO {
	return ResultDTO{
		ID:                r.ID,
		EnrollmentID:      r.EnrollmentID,
		UnitID:            r.UnitID,
		ModuleName:        r.ModuleName,
		Status:            string(r.Status),
		EvidenceRefs:      r.EvidenceRefs,
		ApprovedBy:        r.ApprovedBy,
		ApprovedAt:        r.ApprovedAt,
		SubmittedAt:       r.SubmittedAt,
		AcknowledgementID: r.AcknowledgementID,
	}
}

// ListResultsHandler обрабатывает ListResultsQuery.
type ListResultsHandler struct {
	sessions    *session.Resolver
	results     result.Repository
	enrollments enrollment.Repository
}

// NewListResultsHandler создаёт обработчик.
func NewListResultsHandler(sessions *session.Resolver, results result.Repository, enrollments enrollment.Repository) *ListResultsHandler {
	return &ListResultsHandler{sessions: sessions, results: results, enrollments: enrollments}
}

// Handle возвращает записи. Очередь по статусу доступна только
// преподавателям и администраторам; слушатель видит только свои записи.
func (h *ListResultsHandler) Handle(ctx context.Context, s *session.Session, q ListResultsQuery) ([]ResultDTO, error) {
	actor, err := h.sessions.Resolve(ctx, s)
	if err != nil {
		return nil, err
	}

	var records []*result.Record
	if q.EnrollmentID != "" {
		e, err := h.enrollments.GetByID(ctx, q.EnrollmentID)
		if err != nil {
			return nil, err
		}
		if !e.BelongsTo(actor.ID) && !actor.Role.CanApproveResults() {
			return nil, shared.ErrUnauthorizedActor
		}
		records, err = h.results.ListByEnrollment(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("list_results: %w", err)
		}
	} else {
		if !actor.HasRole(identity.RoleFacilitator) && !actor.HasRole(identity.RoleAdministrator) {
			return nil, shared.ErrUnauthorizedActor
		}
		status, err := result.ParseStatus(q.Status)
		if err != nil {
			return nil, err
		}
		limit := q.Limit
		if limit <= 0 || limit > 500 {
			limit = DefaultResultsLimit
		}
		records, err = h.results.ListByStatus(ctx, status, limit)
		if err != nil {
			return nil, fmt.Errorf("list_results: %w", err)
		}
	}

	out := make([]ResultDTO, 0, len(records))
	for _, r := range records {
		out = append(out, NewResultDTO(r))
	}
	return out, nil
}
