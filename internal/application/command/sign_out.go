package command

import (
	"context"
	"fmt"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// SignOutCommand завершает сессию.
type SignOutCommand struct {
	Session *session.Session
}

// SignOutHandler обрабатывает SignOutCommand. Повторный выход не ошибка.
type SignOutHandler struct {
	provider identity.AuthProvider
	cache    identity.SessionCache
	logger   *logger.Logger
}

// NewSignOutHandler создаёт обработчик. cache может быть nil.
func NewSignOutHandler(provider identity.AuthProvider, cache identity.SessionCache, log *logger.Logger) *SignOutHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SignOutHandler{provider: provider, cache: cache, logger: log.Named("sign_out")}
}

// Handle выполняет выход.
func (h *SignOutHandler) Handle(ctx context.Context, cmd SignOutCommand) error {
	if cmd.Session == nil {
		return nil
	}
	token := cmd.Session.Clear()
	if token == "" {
		return nil
	}
	if h.cache != nil {
		if err := h.cache.Evict(ctx, token); err != nil {
			h.logger.Warn("session cache evict failed", logger.Err(err))
		}
	}
	if err := h.provider.SignOut(ctx, token); err != nil {
		return fmt.Errorf("sign_out: %w", err)
	}
	return nil
}
