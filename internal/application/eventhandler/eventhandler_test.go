package eventhandler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/application/eventhandler"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/notification"
	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/internal/infrastructure/persistence/memory"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

type env struct {
	clock       *timeutil.FixedClock
	identities  *memory.IdentityRepository
	programmes  *memory.ProgrammeStore
	enrollments *memory.EnrollmentRepository
	units       *memory.UnitRepository
	completions *memory.CompletionRepository
	results     *memory.ResultRepository
	outbox      *memory.Outbox
	enabled     bool
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock:       timeutil.NewFixedClock(timeutil.Date(2025, 3, 5).Add(9 * time.Hour)),
		identities:  memory.NewIdentityRepository(),
		programmes:  memory.NewProgrammeStore(),
		enrollments: memory.NewEnrollmentRepository(),
		units:       memory.NewUnitRepository(),
		completions: memory.NewCompletionRepository(),
		results:     memory.NewResultRepository(),
		enabled:     true,
	}
	e.outbox = memory.NewOutbox(e.clock.Now)

	ctx := t.Context()
	addr, err := shared.NewEmail("lerato@example.test")
	require.NoError(t, err)
	learner, err := identity.NewIdentity("learner-1", identity.RoleLearner, addr, "Lerato", "Dlamini", time.Time{})
	require.NoError(t, err)
	require.NoError(t, e.identities.Create(ctx, learner))

	require.NoError(t, e.programmes.Create(ctx, &programme.Programme{
		ID: "prog-1", Name: "Payroll Administration", NQFLevel: 5, TotalCredits: 60, CreatedAt: e.clock.Now(),
	}))
	require.NoError(t, e.units.Save(ctx, &activity.WeeklyUnit{
		ID:          "unit-1",
		ProgrammeID: "prog-1",
		Title:       "Week 1: Payslips",
		WeekStart:   timeutil.Date(2025, 3, 3),
		WeekEnd:     timeutil.Date(2025, 3, 9),
		Activities: []activity.Activity{
			{Key: "reading", Label: "Reading"},
			{Key: activity.KeyChat, Label: "Chat"},
		},
		Credits: 6,
	}))
	return e
}

func (e *env) enrol(t *testing.T, id string, paid bool) {
	t.Helper()
	en, err := enrollment.New(id, "learner-1", "prog-1", 60, e.clock.Now())
	require.NoError(t, err)
	require.NoError(t, e.enrollments.Create(t.Context(), en))
	if paid {
		n, err := e.enrollments.MarkPaid(t.Context(), id, e.clock.Now())
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
	}
}

func (e *env) notifierDeps() eventhandler.NotifierDeps {
	return eventhandler.NotifierDeps{
		Sender:      e.outbox,
		Identities:  e.identities,
		Enrollments: e.enrollments,
		Catalog:     e.programmes,
		Results:     e.results,
		Enabled:     func() bool { return e.enabled },
	}
}

func (e *env) readiness() *command.EvaluateReadinessHandler {
	return command.NewEvaluateReadinessHandler(command.EvaluateReadinessDeps{
		Enrollments: e.enrollments,
		Units:       e.units,
		Completions: e.completions,
		Results:     e.results,
		Clock:       e.clock,
	})
}

func TestOnPaymentConfirmed(t *testing.T) {
	e := newEnv(t)
	e.enrol(t, "enr-1", true)
	h := eventhandler.NewOnPaymentConfirmedHandler(e.notifierDeps())
	event := shared.NewPaymentConfirmedEvent("enr-1", "learner-1", "prog-1", "visa")

	e.enabled = false
	require.NoError(t, h.Handle(event))
	assert.Empty(t, e.outbox.Messages())

	e.enabled = true
	require.NoError(t, h.Handle(event))
	msgs := e.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.TypePaymentConfirmed, msgs[0].Type)
	assert.Equal(t, "lerato@example.test", msgs[0].To)
	assert.Equal(t, "Lerato Dlamini", msgs[0].RecipientName)
	assert.Contains(t, msgs[0].Subject, "Payroll Administration")

	t.Run("ignores other events", func(t *testing.T) {
		require.NoError(t, h.Handle(shared.NewPaymentFailedEvent("enr-1", "declined")))
		assert.Len(t, e.outbox.Messages(), 1)
	})

	t.Run("unknown learner", func(t *testing.T) {
		err := h.Handle(shared.NewPaymentConfirmedEvent("enr-1", "nobody", "prog-1", "visa"))
		assert.True(t, shared.IsNotFound(err), "got %v", err)
	})
}

func TestOnPaymentConfirmedWithoutSender(t *testing.T) {
	e := newEnv(t)
	deps := e.notifierDeps()
	deps.Sender = nil
	h := eventhandler.NewOnPaymentConfirmedHandler(deps)

	assert.NoError(t, h.Handle(shared.NewPaymentConfirmedEvent("enr-1", "learner-1", "prog-1", "paypal")))
}

func TestOnResultSubmitted(t *testing.T) {
	e := newEnv(t)
	e.enrol(t, "enr-1", true)
	draft, err := result.NewDraft("res-1", "enr-1", "unit-1", "Week 1: Payslips", e.clock.Now())
	require.NoError(t, err)
	_, err = e.results.GetOrCreateDraft(t.Context(), draft)
	require.NoError(t, err)

	h := eventhandler.NewOnResultSubmittedHandler(e.notifierDeps())

	require.NoError(t, h.Handle(shared.NewResultReadyEvent("res-1", "enr-1")))
	assert.Empty(t, e.outbox.Messages())

	require.NoError(t, h.Handle(shared.NewResultSubmittedEvent("res-1", "enr-1", "ACK-0042")))
	msgs := e.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.TypeResultSubmitted, msgs[0].Type)
	assert.Contains(t, msgs[0].Subject, "Week 1: Payslips")
	assert.Contains(t, msgs[0].Body, "ACK-0042")
}

func TestOnActivityCompleted(t *testing.T) {
	e := newEnv(t)
	e.enrol(t, "enr-paid", true)
	e.enrol(t, "enr-unpaid", false)
	h := eventhandler.NewOnActivityCompletedHandler(e.readiness(), nil)

	require.NoError(t, e.completions.Upsert(t.Context(), &activity.Completion{
		EnrollmentID: "enr-paid",
		ActivityKey:  "reading",
		UnitID:       "unit-1",
		CompletedAt:  e.clock.Now(),
	}))
	require.NoError(t, h.Handle(shared.NewActivityCompletedEvent("enr-paid", "unit-1", "reading", false)))

	records, err := e.results.ListByEnrollment(t.Context(), "enr-paid")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, result.StatusReady, records[0].Status)

	t.Run("unpaid enrollment is skipped", func(t *testing.T) {
		assert.NoError(t, h.Handle(shared.NewActivityCompletedEvent("enr-unpaid", "unit-1", "reading", false)))
		records, err := e.results.ListByEnrollment(t.Context(), "enr-unpaid")
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("missing enrollment is skipped", func(t *testing.T) {
		assert.NoError(t, h.Handle(shared.NewActivityCompletedEvent("enr-missing", "unit-1", "reading", false)))
	})
}
