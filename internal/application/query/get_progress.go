package query

import (
	"context"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Сводка по записи: процент, кредиты, выполненные активности текущего
// модуля и статус итоговой записи по нему. Состояние шагов интерфейса
// (листание вопросов) сюда не входит.
// ══════════════════════════════════════════════════════════════════════════════

// CompletionDTO - выполненная активность.
type CompletionDTO struct {
	ActivityKey string    `json:"activity_key"`
	CompletedAt time.Time `json:"completed_at"`
	HasEvidence bool      `json:"has_evidence"`
}

// ProgressDTO - сводка прогресса.
type ProgressDTO struct {
	Enrollment   EnrollmentDTO   `json:"enrollment"`
	Unit         *UnitDTO        `json:"unit,omitempty"`
	Completed    []CompletionDTO `json:"completed"`
	MissingKeys  []string        `json:"missing_keys"`
	ResultStatus string          `json:"result_status,omitempty"`
}

// GetProgressHandler обрабатывает запрос прогресса.
type GetProgressHandler struct {
	sessions    *session.Resolver
	enrollments enrollment.Repository
	completions activity.CompletionRepository
	results     result.Repository
	units       *GetCurrentUnitHandler
}

// NewGetProgressHandler создаёт обработчик.
func NewGetProgressHandler(
	sessions *session.Resolver,
	enrollments enrollment.Repository,
	completions activity.CompletionRepository,
	results result.Repository,
	units *GetCurrentUnitHandler,
) *GetProgressHandler {
	return &GetProgressHandler{
		sessions:    sessions,
		enrollments: enrollments,
		completions: completions,
		results:     results,
		units:       units,
	}
}

// Handle возвращает сводку. Доступно владельцу записи, преподавателю и администратору.
func (h *GetProgressHandler) Handle(ctx context.Context, s *session.Session, enrollmentID string) (*ProgressDTO, error) {
	actor, err := h.sessions.Resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	e, err := h.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if !e.BelongsTo(actor.ID) && !actor.Role.CanApproveResults() {
		return nil, shared.ErrUnauthorizedActor
	}

	out := &ProgressDTO{Enrollment: NewEnrollmentDTO(e)}
	if !e.IsUnlocked() {
		return out, nil
	}

	unit, inSession, err := h.units.current(ctx, e.ProgrammeID)
	if err != nil {
		if shared.IsNotFound(err) {
			return out, nil
		}
		return nil, err
	}
	out.Unit = NewUnitDTO(unit, inSession)

	completions, err := h.completions.ListByEnrollment(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}
	byKey := activity.CompletedKeys(completions)
	for _, a := range unit.Activities {
		c, ok := byKey[a.Key]
		if ok && (c.UnitID == unit.ID || activity.IsAlwaysUnlocked(a.Key)) {
			out.Completed = append(out.Completed, CompletionDTO{
				ActivityKey: c.ActivityKey,
				CompletedAt: c.CompletedAt,
				HasEvidence: c.HasEvidence(),
			})
			continue
		}
		if !activity.IsAlwaysUnlocked(a.Key) {
			out.MissingKeys = append(out.MissingKeys, a.Key)
		}
	}

	records, err := h.results.ListByEnrollment(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}
	for _, r := range records {
		if r.UnitID == unit.ID {
			out.ResultStatus = string(r.Status)
			break
		}
	}
	return out, nil
}
