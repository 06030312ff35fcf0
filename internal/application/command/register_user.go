package command

import (
	"context"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER USER COMMAND
// Создаёт учётные данные у провайдера и профиль с фиксированной ролью.
// Администраторы заводятся вне этого процесса.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterUserCommand содержит данные регистрации.
type RegisterUserCommand struct {
	Email       string `validate:"required,email"`
	Password    string `validate:"required,min=8,max=72"`
	FirstName   string `validate:"required,max=100"`
	Surname     string `validate:"max=100"`
	DateOfBirth time.Time
	Role        identity.Role `validate:"required"`
}

// Validate проверяет команду.
func (c RegisterUserCommand) Validate() error {
	if err := validateStruct("register_user", c); err != nil {
		return err
	}
	if !c.Role.IsValid() {
		return shared.WrapError("register_user", "Validate", shared.ErrValidation, "unknown role", shared.ErrInvalidRole)
	}
	if !c.Role.CanSelfRegister() {
		return shared.NewDomainError("register_user", "Validate", shared.ErrValidation,
			fmt.Sprintf("role %s cannot self-register", c.Role))
	}
	return nil
}

// RegisterUserResult содержит созданную учётную запись.
type RegisterUserResult struct {
	Identity *identity.Identity
	Events   []shared.Event
}

// RegisterUserHandler обрабатывает RegisterUserCommand.
type RegisterUserHandler struct {
	provider       identity.AuthProvider
	repo           identity.Repository
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *logger.Logger
}

// NewRegisterUserHandler создаёт обработчик.
func NewRegisterUserHandler(
	provider identity.AuthProvider,
	repo identity.Repository,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
) *RegisterUserHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RegisterUserHandler{
		provider:       provider,
		repo:           repo,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         log.Named("register_user"),
	}
}

// Handle выполняет регистрацию.
func (h *RegisterUserHandler) Handle(ctx context.Context, cmd RegisterUserCommand) (*RegisterUserResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	email, err := shared.NewEmail(cmd.Email)
	if err != nil {
		return nil, shared.WrapError("register_user", "Validate", shared.ErrValidation, "invalid email", err)
	}

	if _, err := h.repo.GetByEmail(ctx, email.String()); err == nil {
		return nil, shared.ErrDuplicateAccount
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("register_user: lookup email: %w", err)
	}

	// Профиль проверяется до SignUp: иначе отклонённый профиль оставил бы
	// учётные данные без профиля, и email больше не удалось бы использовать.
	id, err := identity.NewProfile(cmd.Role, email, cmd.FirstName, cmd.Surname, cmd.DateOfBirth)
	if err != nil {
		return nil, shared.WrapError("register_user", "NewProfile", shared.ErrValidation, "invalid profile", err)
	}

	subjectID, err := h.provider.SignUp(ctx, email.String(), cmd.Password)
	if err != nil {
		return nil, fmt.Errorf("register_user: sign up: %w", err)
	}
	if err := id.Bind(subjectID); err != nil {
		return nil, fmt.Errorf("register_user: bind subject: %w", err)
	}
	id.CreatedAt = h.clock.Now().UTC()

	if err := h.repo.Create(ctx, id); err != nil {
		return nil, fmt.Errorf("register_user: save profile: %w", err)
	}

	event := shared.NewIdentityRegisteredEvent(id.ID, id.Role.String(), id.Email.String(), id.DisplayName())
	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event", logger.IdentityID(id.ID), logger.Err(err))
		}
	}

	h.logger.Info("identity registered", logger.IdentityID(id.ID), logger.Role(id.Role.String()))

	return &RegisterUserResult{
		Identity: id,
		Events:   []shared.Event{event},
	}, nil
}
