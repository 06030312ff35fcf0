package enrollment

import (
	"context"
	"time"
)

// Repository - реестр записей. Все изменения выражены условными
// обновлениями по ID с охранным предикатом.
type Repository interface {
	// Create сохраняет новую запись.
	// Возвращает ErrAlreadyEnrolled, если у пары уже есть активная запись.
	Create(ctx context.Context, e *Enrollment) error

	// GetByID возвращает запись или ErrEnrollmentNotFound.
	GetByID(ctx context.Context, id string) (*Enrollment, error)

	// GetActive возвращает активную запись пары или ErrEnrollmentNotFound.
	GetActive(ctx context.Context, learnerID, programmeID string) (*Enrollment, error)

	// ListByLearner возвращает все записи слушателя, новые первыми.
	ListByLearner(ctx context.Context, learnerID string) ([]*Enrollment, error)

	// MarkPaid переводит статус в paid, только если он ещё не paid.
	// Возвращает число изменённых строк (0 или 1).
	MarkPaid(ctx context.Context, id string, at time.Time) (int64, error)

	// MarkPaymentFailed переводит статус в failed, только если он не paid.
	MarkPaymentFailed(ctx context.Context, id string, at time.Time) (int64, error)

	// AdvanceProgress поднимает прогресс до percent, никогда не понижая его.
	// Работает только для оплаченных записей.
	AdvanceProgress(ctx context.Context, id string, percent int, at time.Time) (int64, error)

	// AddCredits прибавляет кредиты, не превышая credits_total.
	AddCredits(ctx context.Context, id string, delta int, at time.Time) (int64, error)

	// Cancel отменяет активную запись.
	Cancel(ctx context.Context, id string, at time.Time) (int64, error)
}
