// Package session содержит явный объект сессии взаимодействия.
// Сессия создаётся на каждое подключение (вкладку, запрос) и передаётся
// в каждую операцию; глобального "текущего пользователя" нет.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// Session хранит токен и разрешённую учётную запись одного взаимодействия.
// Безопасна для конкурентного использования.
type Session struct {
	mu        sync.RWMutex
	token     string
	identity  *identity.Identity
	expiresAt time.Time
}

// New создаёт пустую (неаутентифицированную) сессию.
func New() *Session {
	return &Session{}
}

// FromToken создаёт сессию по ранее выданному токену.
// Учётная запись будет разрешена при первом обращении через Resolver.
func FromToken(token string) *Session {
	return &Session{token: token}
}

// Bind связывает сессию с выданным токеном и учётной записью.
func (s *Session) Bind(token string, id *identity.Identity, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.identity = cloneIdentity(id)
	s.expiresAt = expiresAt
}

// Clear завершает сессию и возвращает токен, который был в ней.
func (s *Session) Clear() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.token
	s.token = ""
	s.identity = nil
	s.expiresAt = time.Time{}
	return token
}

// Token возвращает текущий токен.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ExpiresAt возвращает время истечения токена.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Identity возвращает копию закреплённой учётной записи или nil.
func (s *Session) Identity() *identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIdentity(s.identity)
}

// IsAuthenticated возвращает true, если в сессии есть учётная запись.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil
}

func (s *Session) attach(id *identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = cloneIdentity(id)
}

func cloneIdentity(id *identity.Identity) *identity.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// Каждая операция проверяет токен у провайдера заново: отозванный или
// просроченный токен завершает сессию.
// ══════════════════════════════════════════════════════════════════════════════

// Resolver разрешает учётную запись сессии.
type Resolver struct {
	provider identity.AuthProvider
	repo     identity.Repository
	cache    identity.SessionCache
	cacheTTL time.Duration
	logger   *logger.Logger
}

// NewResolver создаёт Resolver. cache может быть nil.
func NewResolver(
	provider identity.AuthProvider,
	repo identity.Repository,
	cache identity.SessionCache,
	cacheTTL time.Duration,
	log *logger.Logger,
) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Resolver{
		provider: provider,
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   log.Named("session_resolver"),
	}
}

// Resolve возвращает учётную запись сессии или ErrNotAuthenticated.
func (r *Resolver) Resolve(ctx context.Context, s *Session) (*identity.Identity, error) {
	if s == nil {
		return nil, shared.ErrNotAuthenticated
	}
	token := s.Token()
	if token == "" {
		return nil, shared.ErrNotAuthenticated
	}

	subjectID, err := r.provider.ResolveSession(ctx, token)
	if err != nil {
		if shared.IsAuthorization(err) {
			s.Clear()
			r.evict(ctx, token)
			return nil, shared.ErrNotAuthenticated
		}
		return nil, err
	}

	if bound := s.Identity(); bound != nil && bound.ID == subjectID {
		return bound, nil
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, token)
		if err == nil && cached.ID == subjectID {
			s.attach(cached)
			return cloneIdentity(cached), nil
		}
		if err != nil && !errors.Is(err, shared.ErrNotAuthenticated) {
			r.logger.Warn("session cache read failed", logger.Err(err))
		}
	}

	id, err := r.repo.GetByID(ctx, subjectID)
	if err != nil {
		if shared.IsNotFound(err) {
			s.Clear()
			return nil, shared.ErrNotAuthenticated
		}
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, token, id, r.cacheTTL); err != nil {
			r.logger.Warn("session cache write failed", logger.IdentityID(id.ID), logger.Err(err))
		}
	}
	s.attach(id)
	return cloneIdentity(id), nil
}

// RequireRole разрешает учётную запись и проверяет, что её роль входит в roles.
// Возвращает ErrUnauthorizedActor при несовпадении.
func (r *Resolver) RequireRole(ctx context.Context, s *Session, roles ...identity.Role) (*identity.Identity, error) {
	id, err := r.Resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if id.Role == role {
			return id, nil
		}
	}
	return nil, shared.ErrUnauthorizedActor
}

func (r *Resolver) evict(ctx context.Context, token string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Evict(ctx, token); err != nil {
		r.logger.Warn("session cache evict failed", logger.Err(err))
	}
}
