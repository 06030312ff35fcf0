package query

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CURRENT UNIT QUERY
// Модуль, окно которого содержит "сейчас". Если такого нет, возвращается
// самый ранний модуль с InSession=false; при включённом строгом режиме
// вместо этого возвращается ErrNoActiveWeek.
// ══════════════════════════════════════════════════════════════════════════════

// ActivityDTO - активность модуля.
type ActivityDTO struct {
	Key                 string `json:"key"`
	Label               string `json:"label"`
	ContentRef          string `json:"content_ref,omitempty"`
	RequiresQuestionSet bool   `json:"requires_question_set"`
	AlwaysUnlocked      bool   `json:"always_unlocked"`
}

// UnitDTO - недельный модуль.
type UnitDTO struct {
	ID           string        `json:"id"`
	ProgrammeID  string        `json:"programme_id"`
	Title        string        `json:"title"`
	WeekStart    string        `json:"week_start"`
	WeekEnd      string        `json:"week_end"`
	Activities   []ActivityDTO `json:"activities"`
	RequiredKeys []string      `json:"required_keys"`
	Credits      int           `json:"credits"`

	// InSession - окно модуля содержит текущую дату.
	InSession bool `json:"in_session"`
}

// NewUnitDTO собирает DTO.
func NewUnitDTO(u *activity.WeeklyUnit, inSession bool) *UnitDTO {
	acts := make([]ActivityDTO, 0, len(u.Activities))
	for _, a := range u.Activities {
		acts = append(acts, ActivityDTO{
			Key:                 a.Key,
			Label:               a.Label,
			ContentRef:          a.ContentRef,
			RequiresQuestionSet: a.RequiresQuestionSet,
			AlwaysUnlocked:      activity.IsAlwaysUnlocked(a.Key),
		})
	}
	return &UnitDTO{
		ID:           u.ID,
		ProgrammeID:  u.ProgrammeID,
		Title:        u.Title,
		WeekStart:    timeutil.FormatDate(u.WeekStart),
		WeekEnd:      timeutil.FormatDate(u.WeekEnd),
		Activities:   acts,
		RequiredKeys: u.RequiredKeys(),
		Credits:      u.Credits,
		InSession:    inSession,
	}
}

// GetCurrentUnitHandler обрабатывает запрос текущего модуля.
type GetCurrentUnitHandler struct {
	units      activity.UnitRepository
	clock      timeutil.Clock
	strictWeek func() bool
}

// NewGetCurrentUnitHandler создаёт обработчик. strictWeek может быть nil.
func NewGetCurrentUnitHandler(units activity.UnitRepository, clock timeutil.Clock, strictWeek func() bool) *GetCurrentUnitHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetCurrentUnitHandler{units: units, clock: clock, strictWeek: strictWeek}
}

// Handle возвращает текущий модуль или ErrNoUnitsDefined.
func (h *GetCurrentUnitHandler) Handle(ctx context.Context, programmeID string) (*UnitDTO, error) {
	unit, inSession, err := h.current(ctx, programmeID)
	if err != nil {
		return nil, err
	}
	return NewUnitDTO(unit, inSession), nil
}

func (h *GetCurrentUnitHandler) current(ctx context.Context, programmeID string) (*activity.WeeklyUnit, bool, error) {
	all, err := h.units.ListByProgramme(ctx, programmeID)
	if err != nil {
		return nil, false, fmt.Errorf("get_current_unit: %w", err)
	}
	unit, inSession, err := activity.SelectCurrentUnit(all, h.clock.Now())
	if err != nil {
		return nil, false, err
	}
	if !inSession && h.strictWeek != nil && h.strictWeek() {
		return nil, false, shared.ErrNoActiveWeek
	}
	return unit, inSession, nil
}
