package command

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE READINESS COMMAND
// draft → ready, как только все обязательные активности текущего модуля
// выполнены. Запись, ушедшая дальше draft, никогда не откатывается,
// даже если повторное чтение увидит неполный набор завершений.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateReadinessCommand - пересчёт готовности по записи слушателя.
type EvaluateReadinessCommand struct {
	EnrollmentID string `validate:"required"`
}

// EvaluateReadinessResult - итог пересчёта.
type EvaluateReadinessResult struct {
	Record *result.Record
	Unit   *activity.WeeklyUnit

	// MissingKeys - невыполненные обязательные активности (для draft).
	MissingKeys []string

	// Transitioned - в этом вызове запись перешла в ready.
	Transitioned bool
}

// EvaluateReadinessHandler обрабатывает EvaluateReadinessCommand.
type EvaluateReadinessHandler struct {
	enrollments    enrollment.Repository
	units          activity.UnitRepository
	completions    activity.CompletionRepository
	results        result.Repository
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
	strictWeek     func() bool
}

// EvaluateReadinessDeps - зависимости обработчика.
type EvaluateReadinessDeps struct {
	Enrollments    enrollment.Repository
	Units          activity.UnitRepository
	Completions    activity.CompletionRepository
	Results        result.Repository
	EventPublisher shared.EventPublisher
	Clock          timeutil.Clock
	Logger         *logger.Logger
	StrictWeek     func() bool
}

// NewEvaluateReadinessHandler создаёт обработчик.
func NewEvaluateReadinessHandler(deps EvaluateReadinessDeps) *EvaluateReadinessHandler {
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &EvaluateReadinessHandler{
		enrollments:    deps.Enrollments,
		units:          deps.Units,
		completions:    deps.Completions,
		results:        deps.Results,
		eventPublisher: deps.EventPublisher,
		clock:          deps.Clock,
		logger:         deps.Logger.Named("evaluate_readiness"),
		strictWeek:     deps.StrictWeek,
	}
}

// Handle пересчитывает готовность. Вызов идемпотентен.
func (h *EvaluateReadinessHandler) Handle(ctx context.Context, cmd EvaluateReadinessCommand) (*EvaluateReadinessResult, error) {
	if err := validateStruct("evaluate_readiness", cmd); err != nil {
		return nil, err
	}

	e, err := h.enrollments.GetByID(ctx, cmd.EnrollmentID)
	if err != nil {
		return nil, fmt.Errorf("evaluate_readiness: %w", err)
	}
	if err := requireUnlocked(e); err != nil {
		return nil, err
	}

	now := h.clock.Now()
	unit, _, err := currentUnit(ctx, h.units, e.ProgrammeID, now, flag(h.strictWeek))
	if err != nil {
		return nil, fmt.Errorf("evaluate_readiness: %w", err)
	}

	draft, err := result.NewDraft(newID(), e.ID, unit.ID, unit.Title, now)
	if err != nil {
		return nil, fmt.Errorf("evaluate_readiness: %w", err)
	}
	rec, err := h.results.GetOrCreateDraft(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("evaluate_readiness: load record: %w", err)
	}

	out := &EvaluateReadinessResult{Record: rec, Unit: unit}
	if rec.IsPastDraft() {
		return out, nil
	}

	completions, err := h.completions.ListByEnrollment(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("evaluate_readiness: list completions: %w", err)
	}
	done, missing := completedForUnit(unit, completions)
	if len(missing) > 0 {
		out.MissingKeys = missing
		return out, nil
	}

	refs := make([]string, 0, len(done))
	for _, c := range done {
		if c.HasEvidence() {
			refs = append(refs, c.EvidenceRef)
		}
	}

	rows, err := h.results.MarkReady(ctx, rec.ID, refs, now)
	if err != nil {
		return nil, fmt.Errorf("evaluate_readiness: mark ready: %w", err)
	}
	out.Transitioned = rows == 1

	updated, err := h.results.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("evaluate_readiness: reload: %w", err)
	}
	out.Record = updated

	if out.Transitioned {
		if h.eventPublisher != nil {
			if err := h.eventPublisher.Publish(shared.NewResultReadyEvent(rec.ID, e.ID)); err != nil {
				h.logger.Warn("failed to publish event", logger.ResultID(rec.ID), logger.Err(err))
			}
		}
		h.logger.Info("result ready",
			logger.ResultID(rec.ID),
			logger.EnrollmentID(e.ID),
			logger.Int("evidence_refs", len(refs)),
		)
	}
	return out, nil
}
