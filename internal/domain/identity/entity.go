// Package identity содержит доменную модель участника платформы:
// учётную запись, её роль и согласие на обработку персональных данных.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Role определяет единственную роль учётной записи.
// Роль фиксируется при регистрации и не меняется через этот модуль.
type Role string

const (
	// RoleLearner - слушатель, проходящий программы.
	RoleLearner Role = "learner"
	// RoleFacilitator - преподаватель, ведущий программы и проверяющий работы.
	RoleFacilitator Role = "facilitator"
	// RoleAdministrator - администратор, утверждающий результаты.
	RoleAdministrator Role = "administrator"
)

// IsValid проверяет, что роль известна.
func (r Role) IsValid() bool {
	switch r {
	case RoleLearner, RoleFacilitator, RoleAdministrator:
		return true
	default:
		return false
	}
}

// CanApproveResults возвращает true для ролей, которым разрешено утверждать результаты.
func (r Role) CanApproveResults() bool {
	return r == RoleFacilitator || r == RoleAdministrator
}

// CanSelfRegister возвращает true, если учётную запись с этой ролью
// можно создать через публичную регистрацию.
func (r Role) CanSelfRegister() bool {
	return r == RoleLearner || r == RoleFacilitator
}

// String возвращает строковое представление роли.
func (r Role) String() string {
	return string(r)
}

// ParseRole разбирает строку в Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", shared.WrapError("identity", "ParseRole", shared.ErrInvalidInput, "unknown role", shared.ErrInvalidRole)
	}
	return r, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Identity - аутентифицированный участник платформы.
type Identity struct {
	// ID - неизменяемый идентификатор (совпадает с subject у провайдера аутентификации).
	ID string

	// Role - роль, назначенная при регистрации.
	Role Role

	// Email - адрес для входа и уведомлений.
	Email shared.Email

	// FirstName и Surname - имя и фамилия из профиля.
	FirstName string
	Surname   string

	// DateOfBirth - дата рождения (может быть пустой).
	DateOfBirth time.Time

	// CreatedAt - время регистрации.
	CreatedAt time.Time
}

// DisplayName возвращает имя для отображения.
func (i *Identity) DisplayName() string {
	name := strings.TrimSpace(i.FirstName + " " + i.Surname)
	if name == "" {
		return i.Email.String()
	}
	return name
}

// HasRole проверяет роль участника.
func (i *Identity) HasRole(role Role) bool {
	return i != nil && i.Role == role
}

// Validate проверяет инварианты сущности.
func (i *Identity) Validate() error {
	var errs []error
	if i.ID == "" {
		errs = append(errs, ErrEmptyID)
	}
	if err := i.validateProfile(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (i *Identity) validateProfile() error {
	var errs []error
	if !i.Role.IsValid() {
		errs = append(errs, shared.ErrInvalidRole)
	}
	if !i.Email.IsValid() {
		errs = append(errs, fmt.Errorf("%w: email", shared.ErrInvalidFormat))
	}
	if strings.TrimSpace(i.FirstName) == "" {
		errs = append(errs, ErrEmptyFirstName)
	}
	return errors.Join(errs...)
}

// NewProfile собирает и проверяет профиль до регистрации у провайдера.
// Идентификатор появляется позже, через Bind.
func NewProfile(role Role, email shared.Email, firstName, surname string, dob time.Time) (*Identity, error) {
	i := &Identity{
		Role:        role,
		Email:       email,
		FirstName:   strings.TrimSpace(firstName),
		Surname:     strings.TrimSpace(surname),
		DateOfBirth: dob,
		CreatedAt:   time.Now().UTC(),
	}
	if err := i.validateProfile(); err != nil {
		return nil, err
	}
	return i, nil
}

// Bind присваивает профилю subject ID провайдера.
func (i *Identity) Bind(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	i.ID = id
	return nil
}

// NewIdentity создаёт новую учётную запись после успешной регистрации у провайдера.
func NewIdentity(id string, role Role, email shared.Email, firstName, surname string, dob time.Time) (*Identity, error) {
	i, err := NewProfile(role, email, firstName, surname, dob)
	if err != nil {
		if id == "" {
			return nil, errors.Join(ErrEmptyID, err)
		}
		return nil, err
	}
	if err := i.Bind(id); err != nil {
		return nil, err
	}
	return i, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSENT
// ══════════════════════════════════════════════════════════════════════════════

// Consent - решение участника о согласии на обработку персональных данных.
// На одного участника хранится одна запись, последняя версия побеждает.
type Consent struct {
	IdentityID string
	Accepted   bool
	DecidedAt  time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEmptyID - пустой идентификатор.
	ErrEmptyID = errors.New("identity id is required")

	// ErrEmptyFirstName - пустое имя.
	ErrEmptyFirstName = errors.New("first name is required")
)
