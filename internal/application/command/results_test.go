package command_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

func TestEvaluateReadiness(t *testing.T) {
	f := newFixture(t)
	learner, _, e := f.paidLearner()

	res, err := f.evaluateReadiness.Handle(t.Context(), command.EvaluateReadinessCommand{EnrollmentID: e.ID})
	require.NoError(t, err)
	assert.Equal(t, result.StatusDraft, res.Record.Status)
	assert.Equal(t, []string{"reading", "quiz"}, res.MissingKeys)
	assert.False(t, res.Transitioned)

	f.complete(learner, e.ID, "reading")
	res, err = f.evaluateReadiness.Handle(t.Context(), command.EvaluateReadinessCommand{EnrollmentID: e.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"quiz"}, res.MissingKeys)
	draftID := res.Record.ID

	f.complete(learner, e.ID, "quiz")
	res, err = f.evaluateReadiness.Handle(t.Context(), command.EvaluateReadinessCommand{EnrollmentID: e.ID})
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Empty(t, res.MissingKeys)
	assert.Equal(t, draftID, res.Record.ID)
	assert.Equal(t, result.StatusReady, res.Record.Status)
	assert.Equal(t, "Week 1: Source documents", res.Record.ModuleName)
	assert.Equal(t, 1, f.bus.count(shared.EventResultReady))

	res, err = f.evaluateReadiness.Handle(t.Context(), command.EvaluateReadinessCommand{EnrollmentID: e.ID})
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.Equal(t, result.StatusReady, res.Record.Status)
	assert.Equal(t, 1, f.bus.count(shared.EventResultReady))
}

func TestEvaluateReadinessRequiresPayment(t *testing.T) {
	f := newFixture(t)
	_, fac := f.signUp("facilitator@example.test", identity.RoleFacilitator)
	f.seedProgramme(fac.ID)
	learner, _ := f.signUp("learner@example.test", identity.RoleLearner)
	e := f.enrol(learner)

	_, err := f.evaluateReadiness.Handle(t.Context(), command.EvaluateReadinessCommand{EnrollmentID: e.ID})
	assert.ErrorIs(t, err, shared.ErrPaymentRequired)
}

func TestEvaluateReadinessCountsOnlyCurrentUnit(t *testing.T) {
	f := newFixture(t)
	learner, _, e := f.paidLearner()
	f.complete(learner, e.ID, "reading", "quiz")

	require.NoError(t, f.units.Save(t.Context(), &activity.WeeklyUnit{
		ID:          "unit-week-2",
		ProgrammeID: testProgramme,
		Title:       "Week 2: Ledgers",
		WeekStart:   timeutil.Date(2025, 3, 10),
		WeekEnd:     timeutil.Date(2025, 3, 16),
		Activities: []activity.Activity{
			{Key: "reading", Label: "Reading"},
			{Key: "journal", Label: "Journal entries"},
		},
		Credits: 8,
	}))
	f.clock.Set(timeutil.Date(2025, 3, 11).Add(8 * time.Hour))

	res, err := f.evaluateReadiness.Handle(t.Context(), command.EvaluateReadinessCommand{EnrollmentID: e.ID})
	require.NoError(t, err)
	assert.Equal(t, "unit-week-2", res.Unit.ID)
	assert.Equal(t, []string{"reading", "journal"}, res.MissingKeys)
}

// readyResult drives a paid learner to a ready result.
func readyResult(t *testing.T, f *fixture) (*enrollment.Enrollment, string) {
	t.Helper()
	learner, _, e := f.paidLearner()
	f.complete(learner, e.ID, "reading", "quiz")
	res, err := f.evaluateReadiness.Handle(t.Context(), command.EvaluateReadinessCommand{EnrollmentID: e.ID})
	require.NoError(t, err)
	require.True(t, res.Transitioned)
	return e, res.Record.ID
}

func TestApproveResult(t *testing.T) {
	f := newFixture(t)
	e, resultID := readyResult(t, f)
	facilitator, fac := f.login("facilitator@example.test", identity.RoleFacilitator)
	admin, adm := f.signUp("admin@example.test", identity.RoleAdministrator)
	learner, _ := f.login("learner@example.test", identity.RoleLearner)

	_, err := f.approveResult.Handle(t.Context(), command.ApproveResultCommand{Session: learner, ResultID: resultID})
	require.ErrorIs(t, err, shared.ErrUnauthorizedActor)

	first, err := f.approveResult.Handle(t.Context(), command.ApproveResultCommand{Session: facilitator, ResultID: resultID})
	require.NoError(t, err)
	assert.True(t, first.FirstApproval)
	assert.Equal(t, unitCredits, first.CreditsGranted)
	assert.Equal(t, result.StatusApproved, first.Record.Status)
	assert.Equal(t, fac.ID, first.Record.ApprovedBy)

	second, err := f.approveResult.Handle(t.Context(), command.ApproveResultCommand{Session: admin, ResultID: resultID})
	require.NoError(t, err)
	assert.False(t, second.FirstApproval)
	assert.Zero(t, second.CreditsGranted)
	assert.Equal(t, adm.ID, second.Record.ApprovedBy)

	current, err := f.enrollments.GetByID(t.Context(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, unitCredits, current.CreditsEarned)
	assert.Equal(t, 2, f.bus.count(shared.EventResultApproved))
}

func TestApproveResultNotReady(t *testing.T) {
	f := newFixture(t)
	learner, facilitator, e := f.paidLearner()
	f.complete(learner, e.ID, "reading")
	res, err := f.evaluateReadiness.Handle(t.Context(), command.EvaluateReadinessCommand{EnrollmentID: e.ID})
	require.NoError(t, err)

	_, err = f.approveResult.Handle(t.Context(), command.ApproveResultCommand{Session: facilitator, ResultID: res.Record.ID})
	assert.ErrorIs(t, err, shared.ErrNotReady)

	_, err = f.approveResult.Handle(t.Context(), command.ApproveResultCommand{Session: facilitator, ResultID: "missing"})
	assert.True(t, shared.IsNotFound(err), "got %v", err)
}

func TestSubmitResult(t *testing.T) {
	f := newFixture(t)
	_, resultID := readyResult(t, f)
	facilitator, _ := f.login("facilitator@example.test", identity.RoleFacilitator)

	_, err := f.submitResult.Handle(t.Context(), command.SubmitResultCommand{Session: facilitator, ResultID: resultID})
	require.ErrorIs(t, err, shared.ErrNotApproved)

	_, err = f.approveResult.Handle(t.Context(), command.ApproveResultCommand{Session: facilitator, ResultID: resultID})
	require.NoError(t, err)

	out, err := f.submitResult.Handle(t.Context(), command.SubmitResultCommand{Session: facilitator, ResultID: resultID})
	require.NoError(t, err)
	assert.False(t, out.AlreadySubmitted)
	assert.Equal(t, result.StatusSubmitted, out.Record.Status)
	assert.Equal(t, "ACK-0001", out.Record.AcknowledgementID)
	require.NotNil(t, out.Record.SubmittedAt)
	assert.Equal(t, 1, f.bus.count(shared.EventResultSubmitted))

	// The batch job submits without a session.
	again, err := f.submitResult.Handle(t.Context(), command.SubmitResultCommand{ResultID: resultID})
	require.NoError(t, err)
	assert.True(t, again.AlreadySubmitted)
	assert.Equal(t, []string{resultID}, f.submitter.Submitted())

	_, err = f.approveResult.Handle(t.Context(), command.ApproveResultCommand{Session: facilitator, ResultID: resultID})
	assert.ErrorIs(t, err, shared.ErrResultSubmitted)
}

func TestSubmitResultFailures(t *testing.T) {
	approved := func(t *testing.T) (*fixture, string) {
		f := newFixture(t)
		_, resultID := readyResult(t, f)
		facilitator, _ := f.login("facilitator@example.test", identity.RoleFacilitator)
		_, err := f.approveResult.Handle(t.Context(), command.ApproveResultCommand{Session: facilitator, ResultID: resultID})
		require.NoError(t, err)
		return f, resultID
	}

	t.Run("certification unavailable", func(t *testing.T) {
		f, resultID := approved(t)
		f.submitter.Err = shared.ErrCertificationUnavailable

		_, err := f.submitResult.Handle(t.Context(), command.SubmitResultCommand{ResultID: resultID})
		require.Error(t, err)
		assert.True(t, shared.IsRetryable(err))

		rec, err := f.results.GetByID(t.Context(), resultID)
		require.NoError(t, err)
		assert.Equal(t, result.StatusApproved, rec.Status)
	})

	t.Run("submission in progress", func(t *testing.T) {
		f, resultID := approved(t)
		release, ok, err := f.locker.Acquire(t.Context(), "result:submit:"+resultID, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = f.submitResult.Handle(t.Context(), command.SubmitResultCommand{ResultID: resultID})
		assert.ErrorIs(t, err, shared.ErrConcurrentModification)
		assert.Empty(t, f.submitter.Submitted())

		require.NoError(t, release(t.Context()))
		out, err := f.submitResult.Handle(t.Context(), command.SubmitResultCommand{ResultID: resultID})
		require.NoError(t, err)
		assert.Equal(t, result.StatusSubmitted, out.Record.Status)
	})

	t.Run("learner cannot submit", func(t *testing.T) {
		f, resultID := approved(t)
		learner, _ := f.login("learner@example.test", identity.RoleLearner)
		_, err := f.submitResult.Handle(t.Context(), command.SubmitResultCommand{Session: learner, ResultID: resultID})
		assert.ErrorIs(t, err, shared.ErrUnauthorizedActor)
	})
}
