package enrollment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var enrolledAt = time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	e, err := New("enr-1", "learner-1", "prog-1", 30, enrolledAt)
	require.NoError(t, err)

	assert.Equal(t, PaymentPending, e.PaymentStatus)
	assert.Zero(t, e.CreditsEarned)
	assert.Zero(t, e.ProgressPercent)
	assert.Equal(t, 30, e.CreditsTotal)
	assert.True(t, e.IsActive())
	assert.False(t, e.IsUnlocked())
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("", "", "prog-1", -1, enrolledAt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.ErrorIs(t, err, ErrEmptyLearner)
	assert.ErrorIs(t, err, ErrInvalidCredits)
	assert.NotErrorIs(t, err, ErrEmptyProgramme)
}

func TestEnrollment_IsUnlocked(t *testing.T) {
	cancelledAt := enrolledAt.Add(time.Hour)

	tests := []struct {
		name      string
		status    PaymentStatus
		cancelled *time.Time
		want      bool
	}{
		{"paid", PaymentPaid, nil, true},
		{"pending", PaymentPending, nil, false},
		{"failed", PaymentFailed, nil, false},
		{"paid but cancelled", PaymentPaid, &cancelledAt, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Enrollment{PaymentStatus: tt.status, CancelledAt: tt.cancelled}
			assert.Equal(t, tt.want, e.IsUnlocked())
		})
	}
}

func TestEnrollment_CappedCredits(t *testing.T) {
	e := &Enrollment{CreditsEarned: 25, CreditsTotal: 30}

	assert.Equal(t, 28, e.CappedCredits(3))
	assert.Equal(t, 30, e.CappedCredits(5))
	assert.Equal(t, 30, e.CappedCredits(50))
}

func TestEnrollment_Validate_Progress(t *testing.T) {
	e := &Enrollment{ID: "e", LearnerID: "l", ProgrammeID: "p", PaymentStatus: PaymentPaid, ProgressPercent: 101}
	assert.ErrorIs(t, e.Validate(), ErrInvalidProgress)

	e.ProgressPercent = 100
	assert.NoError(t, e.Validate())
}

func TestEnrollment_BelongsTo(t *testing.T) {
	e := &Enrollment{LearnerID: "learner-1"}
	assert.True(t, e.BelongsTo("learner-1"))
	assert.False(t, e.BelongsTo("learner-2"))
}
