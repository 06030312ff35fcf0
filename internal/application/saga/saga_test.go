package saga_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/application/saga"
	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/internal/infrastructure/auth"
	"github.com/learnpath/learnpath-core/internal/infrastructure/persistence/memory"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

const password = "correct-horse-battery"

type env struct {
	identities  *memory.IdentityRepository
	consents    *memory.ConsentRepository
	enrollments *memory.EnrollmentRepository
	auth        *saga.AuthenticationSaga
	onboarding  *saga.OnboardingSaga
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := timeutil.NewFixedClock(timeutil.Date(2025, 3, 5).Add(8 * time.Hour))
	now := clock.Now

	e := &env{
		identities:  memory.NewIdentityRepository(),
		consents:    memory.NewConsentRepository(),
		enrollments: memory.NewEnrollmentRepository(),
	}
	programmes := memory.NewProgrammeStore()
	require.NoError(t, programmes.Create(t.Context(), &programme.Programme{
		ID: "prog-1", Name: "Office Administration", NQFLevel: 4, TotalCredits: 80, CreatedAt: now(),
	}))

	issuer, err := auth.NewTokenIssuer("saga-test-secret-0123456789abcdef", "learnpath-test", time.Hour, now)
	require.NoError(t, err)
	provider, err := auth.NewProvider(auth.ProviderConfig{
		Credentials: memory.NewCredentialStore(),
		Tokens:      issuer,
		Revocations: memory.NewRevocationList(now),
		BcryptCost:  4,
		Now:         now,
	})
	require.NoError(t, err)

	cache := memory.NewSessionCache(now)
	resolver := session.NewResolver(provider, e.identities, cache, time.Minute, nil)
	e.auth = saga.NewAuthenticationSaga(provider, e.identities, cache, time.Minute, nil, nil)
	e.onboarding = saga.NewOnboardingSaga(
		command.NewRegisterUserHandler(provider, e.identities, nil, clock, nil),
		e.auth,
		command.NewRecordConsentHandler(resolver, e.consents, clock, nil),
		command.NewCreateEnrollmentHandler(resolver, programmes, e.enrollments, nil, clock, nil),
		clock,
		nil,
	)
	return e
}

func input(programmeID string) saga.OnboardingInput {
	return saga.OnboardingInput{
		Email:           "sipho@example.test",
		Password:        password,
		FirstName:       "Sipho",
		Surname:         "Mokoena",
		DateOfBirth:     timeutil.Date(2001, 7, 14),
		ConsentAccepted: true,
		ProgrammeID:     programmeID,
	}
}

func TestOnboarding(t *testing.T) {
	e := newEnv(t)

	res, err := e.onboarding.Execute(t.Context(), input("prog-1"))
	require.NoError(t, err)
	assert.Equal(t, []saga.OnboardingStep{
		saga.StepValidateInput, saga.StepRegister, saga.StepAuthenticate, saga.StepRecordConsent, saga.StepEnroll,
	}, res.CompletedSteps)
	assert.Equal(t, identity.RoleLearner, res.Identity.Role)
	assert.True(t, res.Session.IsAuthenticated())
	assert.True(t, res.Consent.Accepted)
	require.NotNil(t, res.Enrollment)
	assert.Equal(t, enrollment.PaymentPending, res.Enrollment.PaymentStatus)
	assert.Equal(t, 80, res.Enrollment.CreditsTotal)

	stored, err := e.consents.Get(t.Context(), res.Identity.ID)
	require.NoError(t, err)
	assert.True(t, stored.Accepted)
}

func TestOnboardingWithoutProgramme(t *testing.T) {
	e := newEnv(t)

	res, err := e.onboarding.Execute(t.Context(), input(""))
	require.NoError(t, err)
	assert.Nil(t, res.Enrollment)
	assert.NotContains(t, res.CompletedSteps, saga.StepEnroll)
}

func TestOnboardingFailures(t *testing.T) {
	t.Run("invalid input", func(t *testing.T) {
		e := newEnv(t)
		in := input("prog-1")
		in.FirstName = ""

		_, err := e.onboarding.Execute(t.Context(), in)
		var oe *saga.OnboardingError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, saga.StepValidateInput, oe.Step)
		assert.False(t, oe.AccountCreated())
		assert.False(t, oe.IsRetryable())
	})

	t.Run("duplicate email", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.onboarding.Execute(t.Context(), input(""))
		require.NoError(t, err)

		_, err = e.onboarding.Execute(t.Context(), input(""))
		var oe *saga.OnboardingError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, saga.StepRegister, oe.Step)
		assert.ErrorIs(t, err, shared.ErrDuplicateAccount)
		assert.False(t, oe.AccountCreated())
	})

	t.Run("enrollment failure keeps the account", func(t *testing.T) {
		e := newEnv(t)

		_, err := e.onboarding.Execute(t.Context(), input("prog-missing"))
		var oe *saga.OnboardingError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, saga.StepEnroll, oe.Step)
		assert.True(t, oe.AccountCreated())
		assert.True(t, shared.IsNotFound(err), "got %v", err)
		assert.Contains(t, oe.CompletedSteps, saga.StepRecordConsent)

		id, err := e.identities.GetByID(t.Context(), oe.IdentityID)
		require.NoError(t, err)
		assert.Equal(t, "sipho@example.test", id.Email.String())

		list, err := e.enrollments.ListByLearner(t.Context(), oe.IdentityID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestAuthenticationSaga(t *testing.T) {
	e := newEnv(t)
	_, err := e.onboarding.Execute(t.Context(), input(""))
	require.NoError(t, err)

	t.Run("granted", func(t *testing.T) {
		sess := session.New()
		res, err := e.auth.Execute(t.Context(), sess, saga.AuthenticateInput{
			Email: "sipho@example.test", Password: password, IntendedRole: identity.RoleLearner,
		})
		require.NoError(t, err)
		assert.Equal(t, []identity.AuthState{
			identity.AuthUnauthenticated, identity.AuthCredentialVerified, identity.AuthRoleChecked, identity.AuthGranted,
		}, res.Trace)
		assert.True(t, sess.IsAuthenticated())
	})

	t.Run("wrong password", func(t *testing.T) {
		sess := session.New()
		res, err := e.auth.Execute(t.Context(), sess, saga.AuthenticateInput{
			Email: "sipho@example.test", Password: "not-the-password", IntendedRole: identity.RoleLearner,
		})
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
		assert.Equal(t, []identity.AuthState{identity.AuthUnauthenticated}, res.Trace)
		assert.False(t, sess.IsAuthenticated())
	})

	t.Run("new attempt clears a live session", func(t *testing.T) {
		sess := session.New()
		_, err := e.auth.Execute(t.Context(), sess, saga.AuthenticateInput{
			Email: "sipho@example.test", Password: password, IntendedRole: identity.RoleLearner,
		})
		require.NoError(t, err)

		_, err = e.auth.Execute(t.Context(), sess, saga.AuthenticateInput{
			Email: "sipho@example.test", Password: password, IntendedRole: identity.RoleFacilitator,
		})
		require.True(t, errors.Is(err, shared.ErrRoleMismatch), "got %v", err)
		assert.False(t, sess.IsAuthenticated())
	})
}
