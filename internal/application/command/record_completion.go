package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND
// Фиксирует выполнение активности текущего недельного модуля.
// Проверка оплаты идёт первой; порядок выполнения активностей не проверяется.
// Повторная отметка перезаписывает время и доказательство.
// ══════════════════════════════════════════════════════════════════════════════

// Evidence - доказательство выполнения. Либо Blob (будет сохранён),
// либо Ref (ссылка на уже сохранённый объект).
type Evidence struct {
	Blob *activity.Blob
	Ref  string
}

// RecordCompletionCommand содержит данные отметки.
type RecordCompletionCommand struct {
	Session      *session.Session `validate:"required"`
	EnrollmentID string           `validate:"required"`
	ActivityKey  string           `validate:"required,max=100"`
	Evidence     *Evidence
}

// RecordCompletionResult - итог отметки.
type RecordCompletionResult struct {
	Completion      *activity.Completion
	Unit            *activity.WeeklyUnit
	ProgressPercent int
	Events          []shared.Event
}

// RecordCompletionHandler обрабатывает RecordCompletionCommand.
type RecordCompletionHandler struct {
	sessions       *session.Resolver
	enrollments    enrollment.Repository
	units          activity.UnitRepository
	completions    activity.CompletionRepository
	evidence       activity.EvidenceStore
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger

	// strictWeek и evidenceEnabled читаются на каждый вызов.
	strictWeek      func() bool
	evidenceEnabled func() bool
}

// RecordCompletionDeps - зависимости обработчика.
type RecordCompletionDeps struct {
	Sessions        *session.Resolver
	Enrollments     enrollment.Repository
	Units           activity.UnitRepository
	Completions     activity.CompletionRepository
	Evidence        activity.EvidenceStore
	EventPublisher  shared.EventPublisher
	Clock           timeutil.Clock
	Logger          *logger.Logger
	StrictWeek      func() bool
	EvidenceEnabled func() bool
}

// NewRecordCompletionHandler создаёт обработчик.
func NewRecordCompletionHandler(deps RecordCompletionDeps) *RecordCompletionHandler {
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &RecordCompletionHandler{
		sessions:        deps.Sessions,
		enrollments:     deps.Enrollments,
		units:           deps.Units,
		completions:     deps.Completions,
		evidence:        deps.Evidence,
		eventPublisher:  deps.EventPublisher,
		clock:           deps.Clock,
		logger:          deps.Logger.Named("record_completion"),
		strictWeek:      deps.StrictWeek,
		evidenceEnabled: deps.EvidenceEnabled,
	}
}

// Handle фиксирует выполнение.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (*RecordCompletionResult, error) {
	if err := validateStruct("record_completion", cmd); err != nil {
		return nil, err
	}
	actor, err := h.sessions.Resolve(ctx, cmd.Session)
	if err != nil {
		return nil, err
	}
	e, err := ownedEnrollment(ctx, h.enrollments, cmd.EnrollmentID, actor)
	if err != nil {
		return nil, fmt.Errorf("record_completion: %w", err)
	}
	if err := requireUnlocked(e); err != nil {
		return nil, err
	}

	now := h.clock.Now()
	unit, units, err := currentUnit(ctx, h.units, e.ProgrammeID, now, flag(h.strictWeek))
	if err != nil {
		return nil, fmt.Errorf("record_completion: %w", err)
	}

	key := strings.TrimSpace(cmd.ActivityKey)
	if _, ok := unit.Activity(key); !ok && !activity.IsAlwaysUnlocked(key) {
		return nil, shared.ErrUnknownActivity
	}

	evidenceRef, err := h.storeEvidence(ctx, e.ID, key, cmd.Evidence)
	if err != nil {
		return nil, err
	}

	completion := &activity.Completion{
		EnrollmentID: e.ID,
		ActivityKey:  key,
		UnitID:       unit.ID,
		CompletedAt:  now.UTC(),
		EvidenceRef:  evidenceRef,
	}
	if err := h.completions.Upsert(ctx, completion); err != nil {
		return nil, fmt.Errorf("record_completion: save: %w", err)
	}

	progress, err := h.advanceProgress(ctx, e, units)
	if err != nil {
		return nil, err
	}

	event := shared.NewActivityCompletedEvent(e.ID, unit.ID, key, completion.HasEvidence())
	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", logger.EnrollmentID(e.ID), logger.Err(err))
		}
	}

	h.logger.Info("activity completed",
		logger.EnrollmentID(e.ID),
		logger.ActivityKey(key),
		logger.Int("progress_percent", progress),
	)

	return &RecordCompletionResult{
		Completion:      completion,
		Unit:            unit,
		ProgressPercent: progress,
		Events:          []shared.Event{event},
	}, nil
}

func (h *RecordCompletionHandler) storeEvidence(ctx context.Context, enrollmentID, key string, ev *Evidence) (string, error) {
	if ev == nil {
		return "", nil
	}
	if ev.Ref != "" && ev.Blob == nil {
		return ev.Ref, nil
	}
	if ev.Blob == nil {
		return "", nil
	}
	if !flag(h.evidenceEnabled) || h.evidence == nil {
		return "", shared.NewDomainError("record_completion", "StoreEvidence", shared.ErrValidation, "evidence uploads are disabled")
	}

	blob := *ev.Blob
	blob.EnrollmentID = enrollmentID
	blob.ActivityKey = key
	ref, err := h.evidence.Store(ctx, blob)
	if err != nil {
		return "", fmt.Errorf("record_completion: %w: %w", shared.ErrEvidenceStoreFailed, err)
	}
	return ref, nil
}

// advanceProgress пересчитывает процент по всей программе; хранилище
// применяет его с защитой от уменьшения.
func (h *RecordCompletionHandler) advanceProgress(ctx context.Context, e *enrollment.Enrollment, units []*activity.WeeklyUnit) (int, error) {
	completions, err := h.completions.ListByEnrollment(ctx, e.ID)
	if err != nil {
		return 0, fmt.Errorf("record_completion: list completions: %w", err)
	}
	percent := programmeProgress(units, completions).Int()
	if percent > e.ProgressPercent {
		if _, err := h.enrollments.AdvanceProgress(ctx, e.ID, percent, h.clock.Now()); err != nil {
			return 0, fmt.Errorf("record_completion: advance progress: %w", err)
		}
		return percent, nil
	}
	return e.ProgressPercent, nil
}
