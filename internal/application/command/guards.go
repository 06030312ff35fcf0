package command

import (
	"context"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ownedEnrollment загружает запись и проверяет, что она принадлежит actor.
func ownedEnrollment(ctx context.Context, repo enrollment.Repository, id string, actor *identity.Identity) (*enrollment.Enrollment, error) {
	e, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.BelongsTo(actor.ID) {
		return nil, shared.ErrUnauthorizedActor
	}
	return e, nil
}

// requireUnlocked - единственная точка контроля доступа к учебному контенту.
func requireUnlocked(e *enrollment.Enrollment) error {
	if !e.IsActive() {
		return shared.ErrEnrollmentCancelled
	}
	if !e.IsUnlocked() {
		return shared.ErrPaymentRequired
	}
	return nil
}

// currentUnit выбирает недельный модуль программы на момент now.
// При strict и отсутствии модуля в сессии возвращает ErrNoActiveWeek.
func currentUnit(ctx context.Context, units activity.UnitRepository, programmeID string, now time.Time, strict bool) (*activity.WeeklyUnit, []*activity.WeeklyUnit, error) {
	all, err := units.ListByProgramme(ctx, programmeID)
	if err != nil {
		return nil, nil, err
	}
	unit, inSession, err := activity.SelectCurrentUnit(all, now)
	if err != nil {
		return nil, nil, err
	}
	if strict && !inSession {
		return nil, nil, shared.ErrNoActiveWeek
	}
	return unit, all, nil
}

// completedForUnit возвращает завершения обязательных активностей модуля
// и список ещё не выполненных ключей.
func completedForUnit(unit *activity.WeeklyUnit, completions []*activity.Completion) (done []*activity.Completion, missing []string) {
	byKey := activity.CompletedKeys(completions)
	for _, key := range unit.RequiredKeys() {
		c, ok := byKey[key]
		if ok && c.UnitID == unit.ID {
			done = append(done, c)
			continue
		}
		missing = append(missing, key)
	}
	return done, missing
}

// programmeProgress считает процент выполненных обязательных активностей
// по всем модулям программы.
func programmeProgress(units []*activity.WeeklyUnit, completions []*activity.Completion) shared.Percent {
	required := 0
	completed := 0
	for _, u := range units {
		done, missing := completedForUnit(u, completions)
		required += len(done) + len(missing)
		completed += len(done)
	}
	return shared.PercentOf(completed, required)
}

// flag возвращает значение переключателя; nil означает "выключено".
func flag(fn func() bool) bool {
	return fn != nil && fn()
}
