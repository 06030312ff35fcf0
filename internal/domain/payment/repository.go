package payment

import (
	"context"
	"time"
)

// AttemptStore хранит попытки с ограниченным сроком жизни.
type AttemptStore interface {
	// Save сохраняет попытку на срок ttl, заменяя предыдущую для той же записи.
	Save(ctx context.Context, attempt *Attempt, ttl time.Duration) error

	// Get возвращает попытку или ErrNoPaymentAttempt.
	Get(ctx context.Context, enrollmentID string) (*Attempt, error)

	// Delete удаляет попытку. Отсутствие попытки не считается ошибкой.
	Delete(ctx context.Context, enrollmentID string) error
}

// Gateway - граница внешнего платёжного шлюза.
type Gateway interface {
	// Verify проверяет код подтверждения для попытки.
	// Возвращает ошибку с kind ErrVerificationFailed при отказе.
	Verify(ctx context.Context, attempt *Attempt, code string) error
}
