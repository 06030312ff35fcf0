package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING SAGA
// Регистрация нового слушателя.
// Flow: Validate → Register → Authenticate → Record Consent → Enroll (опционально)
//
// Учётная запись после создания не удаляется: при сбое на позднем шаге
// вызывающий получает список пройденных шагов и может продолжить вручную.
// ══════════════════════════════════════════════════════════════════════════════

// OnboardingInput содержит данные для регистрации слушателя.
type OnboardingInput struct {
	Email       string
	Password    string
	FirstName   string
	Surname     string
	DateOfBirth time.Time

	// ConsentAccepted - решение по обработке персональных данных.
	ConsentAccepted bool

	// ProgrammeID - программа для немедленной записи (необязательно).
	ProgrammeID string
}

// Validate проверяет обязательные поля.
func (i OnboardingInput) Validate() error {
	if i.Email == "" {
		return errors.New("onboarding: email is required")
	}
	if i.Password == "" {
		return errors.New("onboarding: password is required")
	}
	if i.FirstName == "" {
		return errors.New("onboarding: first name is required")
	}
	return nil
}

// OnboardingStep - шаг процесса регистрации.
type OnboardingStep string

const (
	StepValidateInput OnboardingStep = "validate_input"
	StepRegister      OnboardingStep = "register"
	StepAuthenticate  OnboardingStep = "authenticate"
	StepRecordConsent OnboardingStep = "record_consent"
	StepEnroll        OnboardingStep = "enroll"
	StepComplete      OnboardingStep = "complete"
)

// OnboardingState отслеживает выполнение саги.
type OnboardingState struct {
	CurrentStep    OnboardingStep
	CompletedSteps []OnboardingStep
	Input          OnboardingInput
	Session        *session.Session
	Identity       *identity.Identity
	Consent        *identity.Consent
	Enrollment     *enrollment.Enrollment
	StartedAt      time.Time
	FailedStep     OnboardingStep
	Error          error
}

func (st *OnboardingState) done(step OnboardingStep) {
	st.CompletedSteps = append(st.CompletedSteps, step)
}

// OnboardingResult - итог успешной регистрации.
type OnboardingResult struct {
	Identity   *identity.Identity
	Consent    *identity.Consent
	Enrollment *enrollment.Enrollment

	// Session - аутентифицированная сессия нового слушателя.
	Session *session.Session

	CompletedSteps []OnboardingStep
	OnboardedAt    time.Time
}

// OnboardingSaga проводит регистрацию слушателя от учётной записи до записи на программу.
type OnboardingSaga struct {
	register *command.RegisterUserHandler
	auth     *AuthenticationSaga
	consent  *command.RecordConsentHandler
	enroll   *command.CreateEnrollmentHandler
	clock    timeutil.Clock
	logger   *logger.Logger
}

// NewOnboardingSaga создаёт сагу.
func NewOnboardingSaga(
	register *command.RegisterUserHandler,
	auth *AuthenticationSaga,
	consent *command.RecordConsentHandler,
	enroll *command.CreateEnrollmentHandler,
	clock timeutil.Clock,
	log *logger.Logger,
) *OnboardingSaga {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OnboardingSaga{
		register: register,
		auth:     auth,
		consent:  consent,
		enroll:   enroll,
		clock:    clock,
		logger:   log.Named("onboarding"),
	}
}

// Execute выполняет регистрацию. При ошибке возвращается *OnboardingError
// с пройденными шагами.
func (s *OnboardingSaga) Execute(ctx context.Context, input OnboardingInput) (*OnboardingResult, error) {
	state := &OnboardingState{
		CurrentStep: StepValidateInput,
		Input:       input,
		Session:     session.New(),
		StartedAt:   s.clock.Now(),
	}

	if err := input.Validate(); err != nil {
		return nil, s.fail(state, shared.WrapError("onboarding", "Execute", shared.ErrValidation, "invalid input", err))
	}
	state.done(StepValidateInput)

	state.CurrentStep = StepRegister
	reg, err := s.register.Handle(ctx, command.RegisterUserCommand{
		Email:       input.Email,
		Password:    input.Password,
		FirstName:   input.FirstName,
		Surname:     input.Surname,
		DateOfBirth: input.DateOfBirth,
		Role:        identity.RoleLearner,
	})
	if err != nil {
		return nil, s.fail(state, err)
	}
	state.Identity = reg.Identity
	state.done(StepRegister)

	state.CurrentStep = StepAuthenticate
	if _, err := s.auth.Execute(ctx, state.Session, AuthenticateInput{
		Email:        input.Email,
		Password:     input.Password,
		IntendedRole: identity.RoleLearner,
	}); err != nil {
		return nil, s.fail(state, err)
	}
	state.done(StepAuthenticate)

	state.CurrentStep = StepRecordConsent
	consent, err := s.consent.Handle(ctx, command.RecordConsentCommand{
		Session:  state.Session,
		Accepted: input.ConsentAccepted,
	})
	if err != nil {
		return nil, s.fail(state, err)
	}
	state.Consent = consent
	state.done(StepRecordConsent)

	if input.ProgrammeID != "" {
		state.CurrentStep = StepEnroll
		res, err := s.enroll.Handle(ctx, command.CreateEnrollmentCommand{
			Session:     state.Session,
			ProgrammeID: input.ProgrammeID,
		})
		if err != nil {
			return nil, s.fail(state, err)
		}
		state.Enrollment = res.Enrollment
		state.done(StepEnroll)
	}

	state.CurrentStep = StepComplete
	s.logger.Info("learner onboarded",
		logger.IdentityID(state.Identity.ID),
		logger.Bool("enrolled", state.Enrollment != nil),
		logger.Latency(s.clock.Now().Sub(state.StartedAt)),
	)

	return &OnboardingResult{
		Identity:       state.Identity,
		Consent:        state.Consent,
		Enrollment:     state.Enrollment,
		Session:        state.Session,
		CompletedSteps: state.CompletedSteps,
		OnboardedAt:    s.clock.Now(),
	}, nil
}

func (s *OnboardingSaga) fail(state *OnboardingState, err error) error {
	state.FailedStep = state.CurrentStep
	state.Error = err

	fields := []logger.Field{
		logger.String("failed_step", string(state.FailedStep)),
		logger.Int("completed_steps", len(state.CompletedSteps)),
		logger.Err(err),
	}
	if state.Identity != nil {
		fields = append(fields, logger.IdentityID(state.Identity.ID))
	}
	s.logger.Warn("onboarding failed", fields...)

	return &OnboardingError{
		Step:           state.FailedStep,
		CompletedSteps: state.CompletedSteps,
		IdentityID:     identityID(state.Identity),
		Cause:          err,
		Message:        fmt.Sprintf("onboarding failed at step '%s': %v", state.FailedStep, err),
	}
}

func identityID(id *identity.Identity) string {
	if id == nil {
		return ""
	}
	return id.ID
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// OnboardingError описывает сбой регистрации.
type OnboardingError struct {
	Step           OnboardingStep
	CompletedSteps []OnboardingStep

	// IdentityID заполнен, если учётная запись уже создана.
	IdentityID string

	Cause   error
	Message string
}

// Error implements the error interface.
func (e *OnboardingError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *OnboardingError) Unwrap() error {
	return e.Cause
}

// AccountCreated сообщает, что учётная запись создана до сбоя.
func (e *OnboardingError) AccountCreated() bool {
	return e.IdentityID != ""
}

// IsRetryable возвращает true, если шаг можно повторить без изменения входных данных.
func (e *OnboardingError) IsRetryable() bool {
	if e.Step == StepValidateInput || e.Step == StepRegister {
		return shared.IsRetryable(e.Cause)
	}
	return !shared.IsValidation(e.Cause) && !shared.IsAuthorization(e.Cause) && !shared.IsAlreadyExists(e.Cause)
}
