// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"

	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRENT IDENTITY QUERY
// Возвращает участника, закреплённого за сессией, или nil.
// ══════════════════════════════════════════════════════════════════════════════

// IdentityDTO - участник для отображения.
type IdentityDTO struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// NewIdentityDTO собирает DTO из сущности.
func NewIdentityDTO(id *identity.Identity) *IdentityDTO {
	if id == nil {
		return nil
	}
	return &IdentityDTO{
		ID:          id.ID,
		Role:        id.Role.String(),
		Email:       id.Email.String(),
		DisplayName: id.DisplayName(),
	}
}

// CurrentIdentityHandler обрабатывает запрос текущего участника.
type CurrentIdentityHandler struct {
	sessions *session.Resolver
}

// NewCurrentIdentityHandler создаёт обработчик.
func NewCurrentIdentityHandler(sessions *session.Resolver) *CurrentIdentityHandler {
	return &CurrentIdentityHandler{sessions: sessions}
}

// Handle возвращает участника или nil, если сессия не аутентифицирована.
// Ошибки провайдера и хранилища возвращаются как есть.
func (h *CurrentIdentityHandler) Handle(ctx context.Context, s *session.Session) (*IdentityDTO, error) {
	id, err := h.sessions.Resolve(ctx, s)
	if err != nil {
		if errors.Is(err, shared.ErrNotAuthenticated) {
			return nil, nil
		}
		return nil, err
	}
	return NewIdentityDTO(id), nil
}
