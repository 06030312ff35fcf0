// Package enrollment содержит модель записи слушателя на программу:
// статус оплаты и накопленный прогресс.
package enrollment

import (
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// PaymentStatus - статус оплаты записи.
type PaymentStatus string

const (
	// PaymentPending - запись создана, оплата ещё не проводилась.
	PaymentPending PaymentStatus = "pending"
	// PaymentPaid - оплата подтверждена, обучение открыто.
	PaymentPaid PaymentStatus = "paid"
	// PaymentFailed - последняя попытка оплаты не прошла.
	PaymentFailed PaymentStatus = "failed"
)

// IsValid проверяет, что статус корректен.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	default:
		return false
	}
}

// IsPaid возвращает true, если обучение открыто.
func (s PaymentStatus) IsPaid() bool {
	return s == PaymentPaid
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ENROLLMENT
// ══════════════════════════════════════════════════════════════════════════════

// Enrollment - связь слушателя и программы.
// Активной может быть не более одной записи на пару (слушатель, программа).
type Enrollment struct {
	ID          string
	LearnerID   string
	ProgrammeID string

	// PaymentStatus меняется только через платёжный процесс.
	PaymentStatus PaymentStatus

	// CreditsEarned и ProgressPercent не убывают после оплаты.
	CreditsEarned   int
	ProgressPercent int

	// CreditsTotal - снимок TotalCredits программы на момент записи.
	CreditsTotal int

	EnrolledAt  time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// New создаёт запись со статусом pending и нулевым прогрессом.
func New(id, learnerID, programmeID string, creditsTotal int, now time.Time) (*Enrollment, error) {
	e := &Enrollment{
		ID:              id,
		LearnerID:       learnerID,
		ProgrammeID:     programmeID,
		PaymentStatus:   PaymentPending,
		CreditsEarned:   0,
		ProgressPercent: 0,
		CreditsTotal:    creditsTotal,
		EnrolledAt:      now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate проверяет инварианты записи.
func (e *Enrollment) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, ErrEmptyID)
	}
	if e.LearnerID == "" {
		errs = append(errs, ErrEmptyLearner)
	}
	if e.ProgrammeID == "" {
		errs = append(errs, ErrEmptyProgramme)
	}
	if !e.PaymentStatus.IsValid() {
		errs = append(errs, ErrInvalidPaymentStatus)
	}
	if e.CreditsTotal < 0 || e.CreditsEarned < 0 || e.CreditsEarned > e.CreditsTotal {
		errs = append(errs, ErrInvalidCredits)
	}
	if e.ProgressPercent < 0 || e.ProgressPercent > 100 {
		errs = append(errs, ErrInvalidProgress)
	}
	return errors.Join(errs...)
}

// IsActive возвращает true, если запись не отменена.
func (e *Enrollment) IsActive() bool {
	return e.CancelledAt == nil
}

// IsUnlocked возвращает true, если обучение открыто.
func (e *Enrollment) IsUnlocked() bool {
	return e.IsActive() && e.PaymentStatus.IsPaid()
}

// BelongsTo проверяет владельца записи.
func (e *Enrollment) BelongsTo(learnerID string) bool {
	return e.LearnerID == learnerID
}

// CappedCredits ограничивает прибавку кредитов общим числом кредитов программы.
func (e *Enrollment) CappedCredits(delta int) int {
	total := e.CreditsEarned + delta
	if total > e.CreditsTotal {
		return e.CreditsTotal
	}
	return total
}

var (
	// ErrEmptyID - пустой идентификатор.
	ErrEmptyID = errors.New("enrollment id is required")

	// ErrEmptyLearner - не указан слушатель.
	ErrEmptyLearner = errors.New("learner id is required")

	// ErrEmptyProgramme - не указана программа.
	ErrEmptyProgramme = errors.New("programme id is required")

	// ErrInvalidPaymentStatus - неизвестный статус оплаты.
	ErrInvalidPaymentStatus = errors.New("invalid payment status")

	// ErrInvalidCredits - кредиты вне допустимого диапазона.
	ErrInvalidCredits = errors.New("credits must be within 0..credits_total")

	// ErrInvalidProgress - прогресс вне диапазона 0-100.
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)
