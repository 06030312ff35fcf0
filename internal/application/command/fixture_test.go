package command_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/application/saga"
	"github.com/learnpath/learnpath-core/internal/application/session"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/internal/infrastructure/auth"
	"github.com/learnpath/learnpath-core/internal/infrastructure/external/paygate"
	"github.com/learnpath/learnpath-core/internal/infrastructure/persistence/memory"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

const (
	testPassword  = "correct-horse-battery"
	testProgramme = "prog-bookkeeping"
	testUnit      = "unit-week-1"
	unitCredits   = 12
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

// fixture wires every handler against in-memory adapters and a fixed
// clock set to Wednesday 5 March 2025, 10:00 SAST.
type fixture struct {
	t     *testing.T
	clock *timeutil.FixedClock
	bus   *recorder

	identities  *memory.IdentityRepository
	consents    *memory.ConsentRepository
	credentials *memory.CredentialStore
	cache       *memory.SessionCache
	programmes  *memory.ProgrammeStore
	enrollments *memory.EnrollmentRepository
	attempts    *memory.AttemptStore
	units       *memory.UnitRepository
	completions *memory.CompletionRepository
	evidence    *memory.EvidenceStore
	results     *memory.ResultRepository
	locker      *memory.Locker
	submitter   *memory.Submitter

	provider *auth.Provider
	resolver *session.Resolver
	auth     *saga.AuthenticationSaga

	strictWeek      bool
	evidenceEnabled bool

	register          *command.RegisterUserHandler
	consent           *command.RecordConsentHandler
	signOut           *command.SignOutHandler
	createProgramme   *command.CreateProgrammeHandler
	createEnrollment  *command.CreateEnrollmentHandler
	cancelEnrollment  *command.CancelEnrollmentHandler
	paymentDetails    *command.PaymentDetailsHandler
	confirmPayment    *command.ConfirmPaymentHandler
	cancelPayment     *command.CancelPaymentHandler
	scheduleUnit      *command.ScheduleUnitHandler
	recordCompletion  *command.RecordCompletionHandler
	evaluateReadiness *command.EvaluateReadinessHandler
	approveResult     *command.ApproveResultHandler
	submitResult      *command.SubmitResultHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:           t,
		clock:       timeutil.NewFixedClock(timeutil.Date(2025, 3, 5).Add(10 * time.Hour)),
		bus:         &recorder{},
		identities:  memory.NewIdentityRepository(),
		consents:    memory.NewConsentRepository(),
		credentials: memory.NewCredentialStore(),
		programmes:  memory.NewProgrammeStore(),
		enrollments: memory.NewEnrollmentRepository(),
		units:       memory.NewUnitRepository(),
		completions: memory.NewCompletionRepository(),
		evidence:    memory.NewEvidenceStore(),
		results:     memory.NewResultRepository(),
		submitter:   memory.NewSubmitter(),
	}
	now := f.clock.Now
	f.cache = memory.NewSessionCache(now)
	f.attempts = memory.NewAttemptStore(now)
	f.locker = memory.NewLocker(now)

	issuer, err := auth.NewTokenIssuer("test-secret-that-is-long-enough-0123456789", "learnpath-test", time.Hour, now)
	require.NoError(t, err)
	f.provider, err = auth.NewProvider(auth.ProviderConfig{
		Credentials: f.credentials,
		Tokens:      issuer,
		Revocations: memory.NewRevocationList(now),
		BcryptCost:  4,
		Now:         now,
	})
	require.NoError(t, err)

	f.resolver = session.NewResolver(f.provider, f.identities, f.cache, time.Minute, nil)
	f.auth = saga.NewAuthenticationSaga(f.provider, f.identities, f.cache, time.Minute, f.bus, nil)

	strict := func() bool { return f.strictWeek }
	evidenceOn := func() bool { return f.evidenceEnabled }

	f.register = command.NewRegisterUserHandler(f.provider, f.identities, f.bus, f.clock, nil)
	f.consent = command.NewRecordConsentHandler(f.resolver, f.consents, f.clock, nil)
	f.signOut = command.NewSignOutHandler(f.provider, f.cache, nil)
	f.createProgramme = command.NewCreateProgrammeHandler(f.resolver, f.programmes, f.clock, nil)
	f.createEnrollment = command.NewCreateEnrollmentHandler(f.resolver, f.programmes, f.enrollments, f.bus, f.clock, nil)
	f.cancelEnrollment = command.NewCancelEnrollmentHandler(f.resolver, f.enrollments, f.attempts, f.bus, f.clock, nil)
	f.paymentDetails = command.NewPaymentDetailsHandler(f.resolver, f.enrollments, f.attempts, f.bus, f.clock,
		command.PaymentConfig{AttemptTTL: 10 * time.Minute}, nil)
	f.confirmPayment = f.newConfirmPayment(f.enrollments)
	f.cancelPayment = command.NewCancelPaymentHandler(f.resolver, f.enrollments, f.attempts, nil)
	f.scheduleUnit = command.NewScheduleUnitHandler(f.resolver, f.programmes, f.units, f.clock, nil)
	f.recordCompletion = command.NewRecordCompletionHandler(command.RecordCompletionDeps{
		Sessions:        f.resolver,
		Enrollments:     f.enrollments,
		Units:           f.units,
		Completions:     f.completions,
		Evidence:        f.evidence,
		EventPublisher:  f.bus,
		Clock:           f.clock,
		StrictWeek:      strict,
		EvidenceEnabled: evidenceOn,
	})
	f.evaluateReadiness = command.NewEvaluateReadinessHandler(command.EvaluateReadinessDeps{
		Enrollments:    f.enrollments,
		Units:          f.units,
		Completions:    f.completions,
		Results:        f.results,
		EventPublisher: f.bus,
		Clock:          f.clock,
		StrictWeek:     strict,
	})
	f.approveResult = command.NewApproveResultHandler(f.resolver, f.results, f.units, f.enrollments, f.bus, f.clock, nil)
	f.submitResult = command.NewSubmitResultHandler(f.resolver, f.results, f.submitter, f.locker, f.bus, f.clock, time.Minute, nil)
	return f
}

func (f *fixture) ctx() context.Context {
	return f.t.Context()
}

// signUp registers an identity with the given role and returns a session
// bound to it. Administrators cannot self-register and are seeded directly.
func (f *fixture) signUp(email string, role identity.Role) (*session.Session, *identity.Identity) {
	f.t.Helper()
	ctx := f.ctx()

	if role == identity.RoleAdministrator {
		subject, err := f.provider.SignUp(ctx, email, testPassword)
		require.NoError(f.t, err)
		addr, err := shared.NewEmail(email)
		require.NoError(f.t, err)
		id, err := identity.NewIdentity(subject, role, addr, "Ada", "Admin", time.Time{})
		require.NoError(f.t, err)
		require.NoError(f.t, f.identities.Create(ctx, id))
	} else {
		_, err := f.register.Handle(ctx, command.RegisterUserCommand{
			Email:     email,
			Password:  testPassword,
			FirstName: "Thandi",
			Surname:   "Nkosi",
			Role:      role,
		})
		require.NoError(f.t, err)
	}

	return f.login(email, role)
}

// login authenticates an existing identity into a fresh session.
func (f *fixture) login(email string, role identity.Role) (*session.Session, *identity.Identity) {
	f.t.Helper()
	sess := session.New()
	res, err := f.auth.Execute(f.ctx(), sess, saga.AuthenticateInput{Email: email, Password: testPassword, IntendedRole: role})
	require.NoError(f.t, err)
	return sess, res.Identity
}

// seedProgramme stores a programme led by facilitatorID with one unit
// covering the week of 3 March 2025.
func (f *fixture) seedProgramme(facilitatorID string) {
	f.t.Helper()
	require.NoError(f.t, f.programmes.Create(f.ctx(), &programme.Programme{
		ID:            testProgramme,
		Name:          "Bookkeeping Foundations",
		NQFLevel:      4,
		TotalCredits:  120,
		FacilitatorID: facilitatorID,
		CreatedAt:     f.clock.Now(),
	}))
	require.NoError(f.t, f.units.Save(f.ctx(), &activity.WeeklyUnit{
		ID:          testUnit,
		ProgrammeID: testProgramme,
		Title:       "Week 1: Source documents",
		WeekStart:   timeutil.Date(2025, 3, 3),
		WeekEnd:     timeutil.Date(2025, 3, 9),
		Activities: []activity.Activity{
			{Key: "reading", Label: "Reading"},
			{Key: "quiz", Label: "Quiz", RequiresQuestionSet: true},
			{Key: activity.KeyLiveSession, Label: "Live class"},
		},
		LiveSessionRef: "https://meet.example.test/week-1",
		Credits:        unitCredits,
	}))
}

// enrol creates an enrollment for the learner session.
func (f *fixture) enrol(sess *session.Session) *enrollment.Enrollment {
	f.t.Helper()
	res, err := f.createEnrollment.Handle(f.ctx(), command.CreateEnrollmentCommand{Session: sess, ProgrammeID: testProgramme})
	require.NoError(f.t, err)
	return res.Enrollment
}

// newConfirmPayment builds a confirm handler over the given enrollment repository.
func (f *fixture) newConfirmPayment(enrollments enrollment.Repository) *command.ConfirmPaymentHandler {
	return command.NewConfirmPaymentHandler(f.resolver, enrollments, f.attempts,
		paygate.NewGateway(paygate.Config{RateLimiter: paygate.DefaultRateLimiterConfig(), Clock: f.clock}),
		f.bus, f.clock, command.PaymentConfig{AttemptTTL: 10 * time.Minute}, nil)
}

// pay runs the card flow to completion.
func (f *fixture) pay(sess *session.Session, enrollmentID string) {
	f.t.Helper()
	_, err := f.paymentDetails.Submit(f.ctx(), command.SubmitPaymentDetailsCommand{
		Session:      sess,
		EnrollmentID: enrollmentID,
		Method:       "visa",
		Details:      validCard(),
	})
	require.NoError(f.t, err)
	_, err = f.confirmPayment.Handle(f.ctx(), command.ConfirmPaymentCommand{Session: sess, EnrollmentID: enrollmentID, Code: "123456"})
	require.NoError(f.t, err)
}

// complete records each key for the enrollment.
func (f *fixture) complete(sess *session.Session, enrollmentID string, keys ...string) {
	f.t.Helper()
	for _, key := range keys {
		_, err := f.recordCompletion.Handle(f.ctx(), command.RecordCompletionCommand{
			Session:      sess,
			EnrollmentID: enrollmentID,
			ActivityKey:  key,
		})
		require.NoError(f.t, err)
	}
}

// paidLearner returns a paid enrollment on the seeded programme together
// with the learner and facilitator sessions.
func (f *fixture) paidLearner() (learner *session.Session, facilitator *session.Session, e *enrollment.Enrollment) {
	f.t.Helper()
	facilitator, fac := f.signUp("facilitator@example.test", identity.RoleFacilitator)
	f.seedProgramme(fac.ID)
	learner, _ = f.signUp("learner@example.test", identity.RoleLearner)
	e = f.enrol(learner)
	f.pay(learner, e.ID)
	return learner, facilitator, e
}
