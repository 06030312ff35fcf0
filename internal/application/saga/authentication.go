// Package saga contains business processes that orchestrate
// multiple domain operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION SAGA
// Flow: SignIn → CredentialsVerified → Load Identity → CheckRole → Grant
//
//	↘ Revoke + SignOut (несовпадение роли)
//
// Успешная проверка пароля не даёт доступа: при несовпадении роли с точкой
// входа токен отзывается у провайдера, а сессия очищается.
// ══════════════════════════════════════════════════════════════════════════════

// AuthenticateInput - данные входа через конкретную точку входа.
type AuthenticateInput struct {
	Email        string
	Password     string
	IntendedRole identity.Role
}

// Validate проверяет входные данные.
func (i AuthenticateInput) Validate() error {
	if i.Email == "" {
		return errors.New("authenticate: email is required")
	}
	if i.Password == "" {
		return errors.New("authenticate: password is required")
	}
	if !i.IntendedRole.IsValid() {
		return shared.ErrInvalidRole
	}
	return nil
}

// AuthenticationResult - итог попытки входа.
type AuthenticationResult struct {
	Identity  *identity.Identity
	ExpiresAt time.Time

	// Trace - пройденные состояния машины аутентификации.
	Trace []identity.AuthState
}

// AuthenticationSaga проводит попытку входа через машину состояний AuthFlow.
type AuthenticationSaga struct {
	provider       identity.AuthProvider
	repo           identity.Repository
	cache          identity.SessionCache
	cacheTTL       time.Duration
	eventPublisher shared.EventPublisher
	logger         *logger.Logger
}

// NewAuthenticationSaga создаёт сагу. cache может быть nil.
func NewAuthenticationSaga(
	provider identity.AuthProvider,
	repo identity.Repository,
	cache identity.SessionCache,
	cacheTTL time.Duration,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *AuthenticationSaga {
	if log == nil {
		log = logger.Nop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &AuthenticationSaga{
		provider:       provider,
		repo:           repo,
		cache:          cache,
		cacheTTL:       cacheTTL,
		eventPublisher: eventPublisher,
		logger:         log.Named("authentication"),
	}
}

// Execute выполняет вход и при успехе закрепляет участника за сессией.
// Возвращает ErrInvalidCredentials или ErrRoleMismatch; в обоих случаях
// сессия остаётся неаутентифицированной. Результат возвращается и при
// ошибке роли, чтобы вызывающий видел пройденные состояния.
func (s *AuthenticationSaga) Execute(ctx context.Context, sess *session.Session, input AuthenticateInput) (*AuthenticationResult, error) {
	if sess == nil {
		return nil, errors.New("authenticate: session is required")
	}
	if err := input.Validate(); err != nil {
		return nil, shared.WrapError("identity", "Authenticate", shared.ErrValidation, "invalid input", err)
	}

	// Новая попытка входа всегда начинается с пустой сессии.
	if stale := sess.Clear(); stale != "" {
		s.signOut(ctx, stale)
	}

	flow, err := identity.NewAuthFlow(input.IntendedRole)
	if err != nil {
		return nil, err
	}
	result := &AuthenticationResult{}

	ps, err := s.provider.SignIn(ctx, input.Email, input.Password)
	if err != nil {
		result.Trace = flow.Trace
		if errors.Is(err, shared.ErrInvalidCredentials) {
			s.logger.Info("sign in rejected", logger.Role(input.IntendedRole.String()))
			return result, shared.ErrInvalidCredentials
		}
		return result, fmt.Errorf("authenticate: sign in: %w", err)
	}

	if err := flow.CredentialsVerified(ps.SubjectID); err != nil {
		s.signOut(ctx, ps.Token)
		return nil, err
	}

	id, err := s.repo.GetByID(ctx, ps.SubjectID)
	if err != nil && !shared.IsNotFound(err) {
		s.signOut(ctx, ps.Token)
		_ = flow.Revoke()
		result.Trace = flow.Trace
		return result, fmt.Errorf("authenticate: load identity: %w", err)
	}
	if err != nil {
		id = nil
	}

	if err := flow.CheckRole(id); err != nil {
		// Принудительный выход: учётные данные верны, но доступ не выдаётся.
		s.signOut(ctx, ps.Token)
		sess.Clear()
		result.Trace = flow.Trace

		if errors.Is(err, shared.ErrRoleMismatch) {
			s.publish(shared.NewRoleMismatchEvent(id.ID, id.Role.String(), input.IntendedRole.String()))
			s.logger.Warn("role mismatch, session revoked",
				logger.IdentityID(id.ID),
				logger.String("stored_role", id.Role.String()),
				logger.String("intended_role", input.IntendedRole.String()),
			)
		}
		return result, err
	}

	if err := flow.Grant(); err != nil {
		s.signOut(ctx, ps.Token)
		return nil, err
	}

	sess.Bind(ps.Token, flow.Identity, ps.ExpiresAt)
	if s.cache != nil {
		ttl := s.cacheTTL
		if remaining := time.Until(ps.ExpiresAt); remaining > 0 && remaining < ttl {
			ttl = remaining
		}
		if err := s.cache.Put(ctx, ps.Token, flow.Identity, ttl); err != nil {
			s.logger.Warn("session cache write failed", logger.IdentityID(flow.Identity.ID), logger.Err(err))
		}
	}

	s.publish(shared.NewIdentityAuthenticatedEvent(flow.Identity.ID, flow.Identity.Role.String()))
	s.logger.Info("access granted", logger.IdentityID(flow.Identity.ID), logger.Role(flow.Identity.Role.String()))

	result.Identity = flow.Identity
	result.ExpiresAt = ps.ExpiresAt
	result.Trace = flow.Trace
	return result, nil
}

func (s *AuthenticationSaga) signOut(ctx context.Context, token string) {
	if s.cache != nil {
		if err := s.cache.Evict(ctx, token); err != nil {
			s.logger.Warn("session cache evict failed", logger.Err(err))
		}
	}
	if err := s.provider.SignOut(ctx, token); err != nil {
		s.logger.Error("forced sign out failed", logger.Err(err))
	}
}

func (s *AuthenticationSaga) publish(event shared.Event) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(event); err != nil {
		s.logger.Warn("failed to publish event", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}
