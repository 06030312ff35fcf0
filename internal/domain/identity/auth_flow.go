package identity

import (
	"fmt"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION STATE MACHINE
// unauthenticated → credential_verified → role_checked → granted
//                                       ↘ revoked
// Успешная проверка пароля ещё не даёт доступа: доступ выдаётся только
// после сверки роли с точкой входа.
// ══════════════════════════════════════════════════════════════════════════════

// AuthState - состояние попытки аутентификации.
type AuthState string

const (
	// AuthUnauthenticated - начальное состояние, учётные данные не проверены.
	AuthUnauthenticated AuthState = "unauthenticated"
	// AuthCredentialVerified - провайдер подтвердил учётные данные.
	AuthCredentialVerified AuthState = "credential_verified"
	// AuthRoleChecked - роль совпала с ожидаемой точкой входа.
	AuthRoleChecked AuthState = "role_checked"
	// AuthGranted - сессия выдана.
	AuthGranted AuthState = "granted"
	// AuthRevoked - сессия принудительно завершена.
	AuthRevoked AuthState = "revoked"
)

// IsTerminal возвращает true для конечных состояний.
func (s AuthState) IsTerminal() bool {
	return s == AuthGranted || s == AuthRevoked
}

// authTransitions - допустимые переходы. Granted может перейти в Revoked при выходе.
var authTransitions = map[AuthState][]AuthState{
	AuthUnauthenticated:    {AuthCredentialVerified},
	AuthCredentialVerified: {AuthRoleChecked, AuthRevoked},
	AuthRoleChecked:        {AuthGranted, AuthRevoked},
	AuthGranted:            {AuthRevoked},
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to AuthState) bool {
	for _, next := range authTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AuthFlow - одна попытка аутентификации через конкретную точку входа.
type AuthFlow struct {
	// IntendedRole - роль, которую ожидает точка входа.
	IntendedRole Role

	// State - текущее состояние.
	State AuthState

	// SubjectID - идентификатор, подтверждённый провайдером.
	SubjectID string

	// Identity - загруженная учётная запись (после проверки роли).
	Identity *Identity

	// Trace - пройденные состояния, начиная с начального.
	Trace []AuthState
}

// NewAuthFlow начинает попытку аутентификации.
func NewAuthFlow(intendedRole Role) (*AuthFlow, error) {
	if !intendedRole.IsValid() {
		return nil, shared.ErrInvalidRole
	}
	return &AuthFlow{
		IntendedRole: intendedRole,
		State:        AuthUnauthenticated,
		Trace:        []AuthState{AuthUnauthenticated},
	}, nil
}

func (f *AuthFlow) moveTo(next AuthState) error {
	if !CanTransition(f.State, next) {
		return shared.WrapError("identity", "AuthFlow", shared.ErrStateTransition,
			fmt.Sprintf("cannot move from %s to %s", f.State, next), nil)
	}
	f.State = next
	f.Trace = append(f.Trace, next)
	return nil
}

// CredentialsVerified фиксирует, что провайдер принял учётные данные.
func (f *AuthFlow) CredentialsVerified(subjectID string) error {
	if subjectID == "" {
		return ErrEmptyID
	}
	if err := f.moveTo(AuthCredentialVerified); err != nil {
		return err
	}
	f.SubjectID = subjectID
	return nil
}

// CheckRole сверяет роль учётной записи с точкой входа.
// При несовпадении попытка переходит в Revoked и возвращается ErrRoleMismatch.
func (f *AuthFlow) CheckRole(id *Identity) error {
	if id == nil || id.ID != f.SubjectID {
		if err := f.moveTo(AuthRevoked); err != nil {
			return err
		}
		return shared.ErrIdentityNotFound
	}
	if id.Role != f.IntendedRole {
		if err := f.moveTo(AuthRevoked); err != nil {
			return err
		}
		return shared.ErrRoleMismatch
	}
	if err := f.moveTo(AuthRoleChecked); err != nil {
		return err
	}
	f.Identity = id
	return nil
}

// Grant выдаёт доступ.
func (f *AuthFlow) Grant() error {
	return f.moveTo(AuthGranted)
}

// Revoke завершает попытку или выданную сессию.
func (f *AuthFlow) Revoke() error {
	if f.State == AuthRevoked {
		return nil
	}
	f.Identity = nil
	return f.moveTo(AuthRevoked)
}
