package result

import (
	"context"
	"time"
)

// Repository хранит итоговые записи. Каждое изменение - условное обновление
// по ID с охранным предикатом на текущий статус.
type Repository interface {
	// GetOrCreateDraft возвращает запись для (EnrollmentID, UnitID),
	// создавая переданный черновик, если записи ещё нет.
	GetOrCreateDraft(ctx context.Context, draft *Record) (*Record, error)

	// GetByID возвращает запись или ErrResultNotFound.
	GetByID(ctx context.Context, id string) (*Record, error)

	// ListByStatus возвращает записи в статусе, старые первыми.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error)

	// ListByEnrollment возвращает записи слушателя.
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]*Record, error)

	// MarkReady: draft → ready с приложенными доказательствами.
	MarkReady(ctx context.Context, id string, evidenceRefs []string, at time.Time) (int64, error)

	// MarkApproved: ready|approved → approved; последний утвердивший побеждает.
	// Возвращает статус до обновления; matched=false, если охранный
	// предикат не совпал (запись в draft или уже submitted).
	MarkApproved(ctx context.Context, id, approverID string, at time.Time) (previous Status, matched bool, err error)

	// MarkSubmitted: approved → submitted с идентификатором подтверждения.
	MarkSubmitted(ctx context.Context, id, acknowledgementID string, at time.Time) (int64, error)
}

// Submitter - граница внешнего органа сертификации.
type Submitter interface {
	// SubmitResult передаёт утверждённую запись и возвращает идентификатор подтверждения.
	SubmitResult(ctx context.Context, record *Record) (string, error)
}

// Locker выдаёт кратковременные взаимоисключающие блокировки по ключу.
type Locker interface {
	// Acquire пытается взять блокировку. ok=false, если она уже занята.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
