package command_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/application/saga"
	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)

	res, err := f.register.Handle(t.Context(), command.RegisterUserCommand{
		Email:     "  Learner@Example.test ",
		Password:  testPassword,
		FirstName: "Sipho",
		Surname:   "Dlamini",
		Role:      identity.RoleLearner,
	})
	require.NoError(t, err)
	assert.Equal(t, "learner@example.test", res.Identity.Email.String())
	assert.Equal(t, identity.RoleLearner, res.Identity.Role)
	assert.Equal(t, "Sipho Dlamini", res.Identity.DisplayName())
	assert.Equal(t, 1, f.bus.count(shared.EventIdentityRegistered))

	stored, err := f.identities.GetByEmail(t.Context(), "learner@example.test")
	require.NoError(t, err)
	assert.Equal(t, res.Identity.ID, stored.ID)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := f.register.Handle(t.Context(), command.RegisterUserCommand{
			Email:     "learner@example.test",
			Password:  testPassword,
			FirstName: "Other",
			Role:      identity.RoleFacilitator,
		})
		assert.ErrorIs(t, err, shared.ErrDuplicateAccount)
	})

	rejected := []struct {
		name string
		cmd  command.RegisterUserCommand
	}{
		{"administrator", command.RegisterUserCommand{Email: "a@example.test", Password: testPassword, FirstName: "A", Role: identity.RoleAdministrator}},
		{"unknown role", command.RegisterUserCommand{Email: "b@example.test", Password: testPassword, FirstName: "B", Role: "guest"}},
		{"short password", command.RegisterUserCommand{Email: "c@example.test", Password: "short", FirstName: "C", Role: identity.RoleLearner}},
		{"bad email", command.RegisterUserCommand{Email: "not-an-email", Password: testPassword, FirstName: "D", Role: identity.RoleLearner}},
		{"missing first name", command.RegisterUserCommand{Email: "e@example.test", Password: testPassword, Role: identity.RoleLearner}},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.register.Handle(t.Context(), tt.cmd)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, 1, f.bus.count(shared.EventIdentityRegistered))

	t.Run("blank first name leaves the email free", func(t *testing.T) {
		cmd := command.RegisterUserCommand{
			Email:     "blank@example.test",
			Password:  testPassword,
			FirstName: "   ",
			Role:      identity.RoleLearner,
		}
		_, err := f.register.Handle(t.Context(), cmd)
		require.Error(t, err)
		assert.True(t, shared.IsValidation(err), "got %v", err)
		assert.ErrorIs(t, err, identity.ErrEmptyFirstName)

		cmd.FirstName = "Naledi"
		res, err := f.register.Handle(t.Context(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "Naledi", res.Identity.FirstName)

		sess, who := f.login("blank@example.test", identity.RoleLearner)
		assert.True(t, sess.IsAuthenticated())
		assert.Equal(t, res.Identity.ID, who.ID)
	})
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	_, learner := f.signUp("learner@example.test", identity.RoleLearner)

	t.Run("matching role binds session", func(t *testing.T) {
		sess := session.New()
		res, err := f.auth.Execute(t.Context(), sess, saga.AuthenticateInput{
			Email: "learner@example.test", Password: testPassword, IntendedRole: identity.RoleLearner,
		})
		require.NoError(t, err)
		assert.True(t, sess.IsAuthenticated())
		assert.Equal(t, learner.ID, res.Identity.ID)
		assert.Equal(t, identity.AuthGranted, res.Trace[len(res.Trace)-1])
	})

	t.Run("role mismatch revokes", func(t *testing.T) {
		sess := session.New()
		res, err := f.auth.Execute(t.Context(), sess, saga.AuthenticateInput{
			Email: "learner@example.test", Password: testPassword, IntendedRole: identity.RoleFacilitator,
		})
		require.ErrorIs(t, err, shared.ErrRoleMismatch)
		assert.False(t, sess.IsAuthenticated())
		assert.Empty(t, sess.Token())
		require.NotNil(t, res)
		assert.Equal(t, identity.AuthRevoked, res.Trace[len(res.Trace)-1])
		assert.Equal(t, 1, f.bus.count(shared.EventIdentityRoleMismatch))
	})

	t.Run("wrong password", func(t *testing.T) {
		sess := session.New()
		_, err := f.auth.Execute(t.Context(), sess, saga.AuthenticateInput{
			Email: "learner@example.test", Password: "wrong-password", IntendedRole: identity.RoleLearner,
		})
		assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
		assert.False(t, sess.IsAuthenticated())
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := f.auth.Execute(t.Context(), session.New(), saga.AuthenticateInput{
			Email: "nobody@example.test", Password: testPassword, IntendedRole: identity.RoleLearner,
		})
		assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	})
}

func TestRecordConsent(t *testing.T) {
	f := newFixture(t)
	sess, learner := f.signUp("learner@example.test", identity.RoleLearner)

	consent, err := f.consent.Handle(t.Context(), command.RecordConsentCommand{Session: sess, Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, learner.ID, consent.IdentityID)
	assert.True(t, consent.Accepted)

	_, err = f.consent.Handle(t.Context(), command.RecordConsentCommand{Session: sess, Accepted: false})
	require.NoError(t, err)
	stored, err := f.consents.Get(t.Context(), learner.ID)
	require.NoError(t, err)
	assert.False(t, stored.Accepted)

	_, err = f.consent.Handle(t.Context(), command.RecordConsentCommand{Session: session.New(), Accepted: true})
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestSignOut(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.signUp("learner@example.test", identity.RoleLearner)
	token := sess.Token()
	require.NotEmpty(t, token)

	require.NoError(t, f.signOut.Handle(t.Context(), command.SignOutCommand{Session: sess}))
	assert.False(t, sess.IsAuthenticated())

	_, err := f.resolver.Resolve(t.Context(), session.FromToken(token))
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)

	// Signing out twice is a no-op.
	assert.NoError(t, f.signOut.Handle(t.Context(), command.SignOutCommand{Session: sess}))
}

func TestResolveExpiredToken(t *testing.T) {
	f := newFixture(t)
	sess, _ := f.signUp("learner@example.test", identity.RoleLearner)

	f.clock.Advance(2 * time.Hour)
	_, err := f.resolver.Resolve(t.Context(), sess)
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
	assert.False(t, sess.IsAuthenticated())
}
