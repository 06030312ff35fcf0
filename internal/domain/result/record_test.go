package result

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

func TestNewDraft(t *testing.T) {
	now := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

	r, err := NewDraft("res-1", "enr-1", "unit-1", "Week 1", now)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, r.Status)
	assert.NotNil(t, r.EvidenceRefs)
	assert.False(t, r.IsPastDraft())

	_, err = NewDraft("res-1", "", "unit-1", "Week 1", now)
	assert.ErrorIs(t, err, ErrIncompleteKey)
}

func TestStatus_Order(t *testing.T) {
	assert.True(t, StatusSubmitted.AtLeast(StatusApproved))
	assert.True(t, StatusReady.AtLeast(StatusReady))
	assert.False(t, StatusDraft.AtLeast(StatusReady))
	assert.False(t, Status("archived").IsValid())

	st, err := ParseStatus("approved")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	_, err = ParseStatus("archived")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestRecord_Guards(t *testing.T) {
	tests := []struct {
		status     Status
		approveErr error
		submitErr  error
	}{
		{StatusDraft, shared.ErrNotReady, shared.ErrNotApproved},
		{StatusReady, nil, shared.ErrNotApproved},
		{StatusApproved, nil, nil},
		{StatusSubmitted, shared.ErrResultSubmitted, shared.ErrNotApproved},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			r := &Record{Status: tt.status}
			assertErr(t, tt.approveErr, r.CanApprove())
			assertErr(t, tt.submitErr, r.CanSubmit())
		})
	}
}

func assertErr(t *testing.T, want, got error) {
	t.Helper()
	if want == nil {
		assert.NoError(t, got)
		return
	}
	assert.ErrorIs(t, got, want)
}
