package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

var startedAt = time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)

func validCard() Details {
	return Details{CardNumber: "4111 1111 1111 1111", Expiry: "12/29", CVV: "123"}
}

func TestAttempt_HappyPath(t *testing.T) {
	a := NewAttempt("enr-1", "learner-1", startedAt)
	assert.Equal(t, StepCollectingDetails, a.Step)

	require.NoError(t, a.SubmitDetails(MethodVisa, validCard(), startedAt.Add(time.Minute)))
	assert.Equal(t, StepAwaitingVerification, a.Step)
	assert.Equal(t, "1111", a.CardLast4)

	require.NoError(t, a.Succeed(startedAt.Add(2*time.Minute)))
	assert.Equal(t, StepSucceeded, a.Step)
	assert.True(t, a.Step.IsTerminal())

	assert.ErrorIs(t, a.SubmitDetails(MethodVisa, validCard(), startedAt), shared.ErrInvalidPaymentStep)
	assert.ErrorIs(t, a.Fail(startedAt), shared.ErrInvalidPaymentStep)
}

func TestAttempt_FailedCanRestart(t *testing.T) {
	a := NewAttempt("enr-1", "learner-1", startedAt)
	require.NoError(t, a.SubmitDetails(MethodPayPal, Details{}, startedAt))
	assert.Empty(t, a.CardLast4)

	require.NoError(t, a.Fail(startedAt))
	assert.Equal(t, StepFailed, a.Step)
	assert.Equal(t, 1, a.Failures)

	require.NoError(t, a.SubmitDetails(MethodMastercard, validCard(), startedAt))
	assert.Equal(t, StepAwaitingVerification, a.Step)
	assert.Equal(t, 1, a.Failures)
}

func TestAttempt_ConfirmRequiresDetails(t *testing.T) {
	a := NewAttempt("enr-1", "learner-1", startedAt)
	assert.ErrorIs(t, a.Succeed(startedAt), shared.ErrInvalidPaymentStep)
	assert.ErrorIs(t, a.Fail(startedAt), shared.ErrInvalidPaymentStep)
}

func TestAttempt_InvalidDetailsKeepStep(t *testing.T) {
	a := NewAttempt("enr-1", "learner-1", startedAt)

	err := a.SubmitDetails(MethodVisa, Details{CardNumber: "12", Expiry: "13/29", CVV: "1"}, startedAt)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.ErrorIs(t, err, ErrInvalidCardNumber)
	assert.ErrorIs(t, err, ErrInvalidExpiry)
	assert.ErrorIs(t, err, ErrInvalidCVV)
	assert.Equal(t, StepCollectingDetails, a.Step)

	assert.ErrorIs(t, a.SubmitDetails(Method("cash"), Details{}, startedAt), shared.ErrInvalidInput)
}

func TestValidateCodeShape(t *testing.T) {
	assert.NoError(t, ValidateCodeShape("1234"))
	assert.NoError(t, ValidateCodeShape(" 12345678 "))
	assert.ErrorIs(t, ValidateCodeShape("123"), ErrMalformedCode)
	assert.ErrorIs(t, ValidateCodeShape("123456789"), ErrMalformedCode)
	assert.ErrorIs(t, ValidateCodeShape("abcd"), ErrMalformedCode)
}

func TestDetails_Validate(t *testing.T) {
	tests := []struct {
		name    string
		details Details
		wantErr error
	}{
		{name: "spaced number", details: Details{CardNumber: "4111 1111 1111 1111", Expiry: "12/29", CVV: "123"}},
		{name: "dashed number", details: Details{CardNumber: "5500-0000-0000-0004", Expiry: " 01/30 ", CVV: "1234"}},
		{name: "signed number", details: Details{CardNumber: "-411111111111", Expiry: "12/29", CVV: "123"}, wantErr: ErrInvalidCardNumber},
		{name: "too long", details: Details{CardNumber: "41111111111111111111", Expiry: "12/29", CVV: "123"}, wantErr: ErrInvalidCardNumber},
		{name: "single digit month", details: Details{CardNumber: "4111111111111111", Expiry: "1/29", CVV: "123"}, wantErr: ErrInvalidExpiry},
		{name: "four digit year", details: Details{CardNumber: "4111111111111111", Expiry: "12/2029", CVV: "123"}, wantErr: ErrInvalidExpiry},
		{name: "decimal cvv", details: Details{CardNumber: "4111111111111111", Expiry: "12/29", CVV: "1.5"}, wantErr: ErrInvalidCVV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.details.Validate(MethodMastercard)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, shared.ErrValidation)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.NoError(t, Details{}.Validate(MethodPayPal))
	assert.ErrorIs(t, ValidateCodeShape("-123"), ErrMalformedCode)
	assert.ErrorIs(t, ValidateCodeShape(""), ErrMalformedCode)
}
