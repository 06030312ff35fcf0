package identity

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository хранит профили учётных записей.
type Repository interface {
	// Create сохраняет новый профиль.
	// Возвращает ErrDuplicateAccount, если профиль с таким ID или email уже есть.
	Create(ctx context.Context, identity *Identity) error

	// GetByID возвращает профиль по ID.
	// Возвращает ErrIdentityNotFound, если профиль не найден.
	GetByID(ctx context.Context, id string) (*Identity, error)

	// GetByEmail возвращает профиль по email.
	GetByEmail(ctx context.Context, email string) (*Identity, error)
}

// ConsentRepository хранит согласия на обработку персональных данных.
type ConsentRepository interface {
	// Upsert создаёт или перезаписывает решение участника.
	Upsert(ctx context.Context, consent Consent) error

	// Get возвращает текущее решение участника.
	Get(ctx context.Context, identityID string) (*Consent, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION PROVIDER
// Хранение паролей и формат токенов не принадлежат доменному слою.
// ══════════════════════════════════════════════════════════════════════════════

// ProviderSession - сессия, выданная провайдером при входе.
type ProviderSession struct {
	Token     string
	SubjectID string
	ExpiresAt time.Time
}

// AuthProvider - граница аутентификации.
type AuthProvider interface {
	// SignUp создаёт учётные данные и возвращает subject ID.
	// Возвращает ErrDuplicateAccount, если email уже занят.
	SignUp(ctx context.Context, email, password string) (string, error)

	// SignIn проверяет учётные данные.
	// Возвращает ErrInvalidCredentials при неверной паре email/пароль.
	SignIn(ctx context.Context, email, password string) (*ProviderSession, error)

	// SignOut отзывает токен. Повторный вызов не считается ошибкой.
	SignOut(ctx context.Context, token string) error

	// ResolveSession возвращает subject ID для действующего токена.
	// Возвращает ErrNotAuthenticated для просроченного или отозванного токена.
	ResolveSession(ctx context.Context, token string) (string, error)
}

// SessionCache кэширует разрешённую учётную запись по токену.
type SessionCache interface {
	// Put сохраняет учётную запись на срок ttl.
	Put(ctx context.Context, token string, identity *Identity, ttl time.Duration) error

	// Get возвращает учётную запись или ErrNotAuthenticated при промахе.
	Get(ctx context.Context, token string) (*Identity, error)

	// Evict удаляет запись.
	Evict(ctx context.Context, token string) error
}
