package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

func day(d int) time.Time {
	return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
}

func unit(id string, start, end time.Time) *WeeklyUnit {
	return &WeeklyUnit{
		ID:          id,
		ProgrammeID: "prog-1",
		WeekStart:   start,
		WeekEnd:     end,
		Activities: []Activity{
			{Key: "video", Label: "Watch"},
			{Key: "quiz", Label: "Quiz", RequiresQuestionSet: true},
			{Key: KeyChat, Label: "Chat"},
		},
	}
}

func TestWeeklyUnit_Validate(t *testing.T) {
	u := unit("u1", day(3), day(9))
	require.NoError(t, u.Validate())

	bad := &WeeklyUnit{
		WeekStart:  day(9),
		WeekEnd:    day(3),
		Credits:    -1,
		Activities: []Activity{{Key: "a", Label: "A"}, {Key: "a", Label: "again"}, {Key: "b"}},
	}
	err := bad.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingProgrammeID)
	assert.ErrorIs(t, err, ErrInvalidWeekRange)
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.ErrorIs(t, err, ErrEmptyLabel)

	empty := &WeeklyUnit{ProgrammeID: "p", WeekStart: day(3), WeekEnd: day(3)}
	assert.ErrorIs(t, empty.Validate(), ErrNoActivities)
}

func TestWeeklyUnit_RequiredKeysSkipUngated(t *testing.T) {
	u := unit("u1", day(3), day(9))
	u.Activities = append(u.Activities, Activity{Key: KeyLiveSession, Label: "Live"}, Activity{Key: KeyAskAI, Label: "AI"})

	assert.Equal(t, []string{"video", "quiz"}, u.RequiredKeys())

	a, ok := u.Activity("quiz")
	require.True(t, ok)
	assert.True(t, a.RequiresQuestionSet)

	_, ok = u.Activity("missing")
	assert.False(t, ok)
}

func TestSelectCurrentUnit(t *testing.T) {
	week1 := unit("w1", day(3), day(9))
	week2 := unit("w2", day(10), day(16))
	overlap := unit("w0", day(10), day(12))
	units := []*WeeklyUnit{week2, week1, overlap}

	tests := []struct {
		name          string
		now           time.Time
		wantID        string
		wantInSession bool
	}{
		{"inside first week", day(5).Add(10 * time.Hour), "w1", true},
		{"last day is inclusive", day(9).Add(23 * time.Hour), "w1", true},
		{"overlap resolved by id", day(11), "w0", true},
		{"before every window falls back to earliest", day(1), "w1", false},
		{"after every window falls back to earliest", day(30), "w1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, inSession, err := SelectCurrentUnit(units, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.ID)
			assert.Equal(t, tt.wantInSession, inSession)
		})
	}

	// Input order is left alone.
	assert.Equal(t, "w2", units[0].ID)
}

func TestSelectCurrentUnit_NoUnits(t *testing.T) {
	_, _, err := SelectCurrentUnit(nil, day(1))
	assert.ErrorIs(t, err, shared.ErrNoUnitsDefined)
}

func TestCompletedKeys(t *testing.T) {
	got := CompletedKeys([]*Completion{
		{ActivityKey: "video", EvidenceRef: "gs://b/o"},
		{ActivityKey: "quiz"},
	})
	require.Len(t, got, 2)
	assert.True(t, got["video"].HasEvidence())
	assert.False(t, got["quiz"].HasEvidence())
}
