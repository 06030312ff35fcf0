package command_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

func TestCreateProgramme(t *testing.T) {
	f := newFixture(t)
	facilitator, fac := f.signUp("facilitator@example.test", identity.RoleFacilitator)
	learner, _ := f.signUp("learner@example.test", identity.RoleLearner)

	p, err := f.createProgramme.Handle(t.Context(), command.CreateProgrammeCommand{
		Session:      facilitator,
		Name:         "  Payroll Administration ",
		NQFLevel:     5,
		TotalCredits: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, "Payroll Administration", p.Name)
	assert.Equal(t, fac.ID, p.FacilitatorID)
	assert.NotEmpty(t, p.ID)

	_, err = f.programmes.Get(t.Context(), p.ID)
	require.NoError(t, err)

	_, err = f.createProgramme.Handle(t.Context(), command.CreateProgrammeCommand{
		Session: learner, Name: "Nope", NQFLevel: 5, TotalCredits: 60,
	})
	assert.ErrorIs(t, err, shared.ErrUnauthorizedActor)

	_, err = f.createProgramme.Handle(t.Context(), command.CreateProgrammeCommand{
		Session: facilitator, Name: "Too high", NQFLevel: 11, TotalCredits: 60,
	})
	assert.True(t, shared.IsValidation(err), "got %v", err)
}

func TestScheduleUnit(t *testing.T) {
	f := newFixture(t)
	facilitator, fac := f.signUp("facilitator@example.test", identity.RoleFacilitator)
	stranger, _ := f.signUp("stranger@example.test", identity.RoleFacilitator)
	admin, _ := f.signUp("admin@example.test", identity.RoleAdministrator)
	learner, _ := f.signUp("learner@example.test", identity.RoleLearner)
	f.seedProgramme(fac.ID)

	cmd := func() command.ScheduleUnitCommand {
		return command.ScheduleUnitCommand{
			ProgrammeID: testProgramme,
			Title:       "Week 2: Ledgers",
			WeekStart:   timeutil.Date(2025, 3, 10),
			WeekEnd:     timeutil.Date(2025, 3, 16),
			Activities:  []activity.Activity{{Key: "reading", Label: "Reading"}},
			Credits:     8,
		}
	}

	c := cmd()
	c.Session = facilitator
	unit, err := f.scheduleUnit.Handle(t.Context(), c)
	require.NoError(t, err)
	assert.NotEmpty(t, unit.ID)
	assert.Equal(t, "2025-03-10", timeutil.FormatDate(unit.WeekStart))

	t.Run("update keeps creation time", func(t *testing.T) {
		f.clock.Advance(30 * time.Second)
		c := cmd()
		c.Session = admin
		c.UnitID = unit.ID
		c.Title = "Week 2: General ledger"
		updated, err := f.scheduleUnit.Handle(t.Context(), c)
		require.NoError(t, err)
		assert.Equal(t, unit.ID, updated.ID)
		assert.Equal(t, unit.CreatedAt, updated.CreatedAt)
		assert.True(t, updated.UpdatedAt.After(unit.UpdatedAt))
	})

	rejected := []struct {
		name    string
		mutate  func(*command.ScheduleUnitCommand)
		wantErr func(error) bool
	}{
		{"other facilitator", func(c *command.ScheduleUnitCommand) { c.Session = stranger }, isErr(shared.ErrUnauthorizedActor)},
		{"learner", func(c *command.ScheduleUnitCommand) { c.Session = learner }, isErr(shared.ErrUnauthorizedActor)},
		{"reversed week", func(c *command.ScheduleUnitCommand) {
			c.Session = facilitator
			c.WeekEnd = timeutil.Date(2025, 3, 1)
		}, shared.IsValidation},
		{"duplicate keys", func(c *command.ScheduleUnitCommand) {
			c.Session = facilitator
			c.Activities = append(c.Activities, activity.Activity{Key: "reading", Label: "Again"})
		}, shared.IsValidation},
		{"no activities", func(c *command.ScheduleUnitCommand) {
			c.Session = facilitator
			c.Activities = nil
		}, shared.IsValidation},
		{"unknown programme", func(c *command.ScheduleUnitCommand) {
			c.Session = facilitator
			c.ProgrammeID = "missing"
		}, shared.IsNotFound},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			c := cmd()
			tt.mutate(&c)
			_, err := f.scheduleUnit.Handle(t.Context(), c)
			require.Error(t, err)
			assert.True(t, tt.wantErr(err), "got %v", err)
		})
	}
}

func isErr(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func TestRecordCompletion(t *testing.T) {
	t.Run("payment gate", func(t *testing.T) {
		f := newFixture(t)
		_, fac := f.signUp("facilitator@example.test", identity.RoleFacilitator)
		f.seedProgramme(fac.ID)
		learner, _ := f.signUp("learner@example.test", identity.RoleLearner)
		e := f.enrol(learner)

		_, err := f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
			Session: learner, EnrollmentID: e.ID, ActivityKey: "reading",
		})
		assert.ErrorIs(t, err, shared.ErrPaymentRequired)
	})

	t.Run("progress advances", func(t *testing.T) {
		f := newFixture(t)
		learner, _, e := f.paidLearner()

		res, err := f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
			Session: learner, EnrollmentID: e.ID, ActivityKey: " reading ",
		})
		require.NoError(t, err)
		assert.Equal(t, "reading", res.Completion.ActivityKey)
		assert.Equal(t, testUnit, res.Completion.UnitID)
		assert.Equal(t, 50, res.ProgressPercent)
		assert.Equal(t, 1, f.bus.count(shared.EventActivityCompleted))

		// Ungated keys are accepted but never count toward progress.
		res, err = f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
			Session: learner, EnrollmentID: e.ID, ActivityKey: activity.KeyChat,
		})
		require.NoError(t, err)
		assert.Equal(t, 50, res.ProgressPercent)

		res, err = f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
			Session: learner, EnrollmentID: e.ID, ActivityKey: "quiz",
		})
		require.NoError(t, err)
		assert.Equal(t, 100, res.ProgressPercent)

		stored, err := f.enrollments.GetByID(t.Context(), e.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, stored.ProgressPercent)
	})

	t.Run("unknown key", func(t *testing.T) {
		f := newFixture(t)
		learner, _, e := f.paidLearner()
		_, err := f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
			Session: learner, EnrollmentID: e.ID, ActivityKey: "essay",
		})
		assert.ErrorIs(t, err, shared.ErrUnknownActivity)
	})

	t.Run("foreign enrollment", func(t *testing.T) {
		f := newFixture(t)
		_, _, e := f.paidLearner()
		other, _ := f.signUp("other@example.test", identity.RoleLearner)
		_, err := f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
			Session: other, EnrollmentID: e.ID, ActivityKey: "reading",
		})
		assert.ErrorIs(t, err, shared.ErrUnauthorizedActor)
	})

	t.Run("cancelled enrollment", func(t *testing.T) {
		f := newFixture(t)
		learner, _, e := f.paidLearner()
		_, err := f.cancelEnrollment.Handle(t.Context(), command.CancelEnrollmentCommand{Session: learner, EnrollmentID: e.ID})
		require.NoError(t, err)
		_, err = f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
			Session: learner, EnrollmentID: e.ID, ActivityKey: "reading",
		})
		assert.ErrorIs(t, err, shared.ErrEnrollmentCancelled)
	})
}

func TestRecordCompletionOutsideWeek(t *testing.T) {
	f := newFixture(t)
	_, _, e := f.paidLearner()

	f.clock.Set(timeutil.Date(2025, 4, 14).Add(9 * time.Hour))
	learner, _ := f.login("learner@example.test", identity.RoleLearner)

	f.strictWeek = true
	_, err := f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
		Session: learner, EnrollmentID: e.ID, ActivityKey: "reading",
	})
	require.ErrorIs(t, err, shared.ErrNoActiveWeek)

	f.strictWeek = false
	res, err := f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
		Session: learner, EnrollmentID: e.ID, ActivityKey: "reading",
	})
	require.NoError(t, err)
	assert.Equal(t, testUnit, res.Unit.ID)
}

func TestRecordCompletionEvidence(t *testing.T) {
	f := newFixture(t)
	learner, _, e := f.paidLearner()

	blob := func() *command.Evidence {
		return &command.Evidence{Blob: &activity.Blob{
			FileName:    "quiz.pdf",
			ContentType: "application/pdf",
			Content:     strings.NewReader("%PDF-1.4 answers"),
		}}
	}

	_, err := f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
		Session: learner, EnrollmentID: e.ID, ActivityKey: "quiz", Evidence: blob(),
	})
	require.True(t, shared.IsValidation(err), "got %v", err)

	f.evidenceEnabled = true
	res, err := f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
		Session: learner, EnrollmentID: e.ID, ActivityKey: "quiz", Evidence: blob(),
	})
	require.NoError(t, err)
	require.True(t, res.Completion.HasEvidence())

	content, ok := f.evidence.Blob(res.Completion.EvidenceRef)
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.4 answers", string(content))

	res, err = f.recordCompletion.Handle(t.Context(), command.RecordCompletionCommand{
		Session: learner, EnrollmentID: e.ID, ActivityKey: "reading",
		Evidence: &command.Evidence{Ref: "gs://evidence/external-ref"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gs://evidence/external-ref", res.Completion.EvidenceRef)
}
