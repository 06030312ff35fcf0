package paygate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

func awaitingAttempt(enrollmentID string) *payment.Attempt {
	return &payment.Attempt{
		EnrollmentID: enrollmentID,
		LearnerID:    "learner-1",
		Method:       payment.Method("visa"),
		Step:         payment.StepAwaitingVerification,
	}
}

func TestGateway_Verify(t *testing.T) {
	g := NewGateway(Config{})

	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"four digits", "1234", false},
		{"eight digits", "12345678", false},
		{"surrounding spaces", " 123456 ", false},
		{"too short", "123", true},
		{"letters", "12ab", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Verify(t.Context(), awaitingAttempt("enr-"+tt.name), tt.code)
			if tt.wantErr {
				assert.ErrorIs(t, err, shared.ErrVerificationFailed)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGateway_ThrottlesRepeatedFailures(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	g := NewGateway(Config{
		RateLimiter: RateLimiterConfig{BurstSize: 2, RefillEvery: time.Minute},
		Clock:       clock,
	})
	attempt := awaitingAttempt("enr-1")

	assert.ErrorIs(t, g.Verify(t.Context(), attempt, "x"), shared.ErrVerificationFailed)
	assert.ErrorIs(t, g.Verify(t.Context(), attempt, "x"), shared.ErrVerificationFailed)

	err := g.Verify(t.Context(), attempt, "1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRateLimited)
	assert.NotErrorIs(t, err, shared.ErrVerificationFailed)

	// Other enrollments have their own bucket.
	assert.NoError(t, g.Verify(t.Context(), awaitingAttempt("enr-2"), "1234"))

	clock.Advance(time.Minute)
	assert.NoError(t, g.Verify(t.Context(), attempt, "1234"))
}

func TestRateLimiter_RefillCappedAtBurst(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(RateLimiterConfig{BurstSize: 1, RefillEvery: time.Second}, clock)

	ok, _ := rl.TryAllow("k")
	require.True(t, ok)

	ok, wait := rl.TryAllow("k")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	clock.Advance(time.Hour)
	ok, _ = rl.TryAllow("k")
	assert.True(t, ok)
	ok, _ = rl.TryAllow("k")
	assert.False(t, ok)
}
