package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/internal/infrastructure/persistence/memory"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

type fixture struct {
	results   *memory.ResultRepository
	submitter *memory.Submitter
	job       *SubmitApprovedResultsJob
	enabled   bool
}

func newFixture(t *testing.T, approved int) *fixture {
	t.Helper()

	ctx := context.Background()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	f := &fixture{
		results:   memory.NewResultRepository(),
		submitter: memory.NewSubmitter(),
		enabled:   true,
	}

	for i := 0; i < approved; i++ {
		draft, err := result.NewDraft(fmt.Sprintf("res-%d", i), "enr-1", fmt.Sprintf("unit-%d", i), "Module", clock.Now())
		require.NoError(t, err)
		_, err = f.results.GetOrCreateDraft(ctx, draft)
		require.NoError(t, err)
		_, err = f.results.MarkReady(ctx, draft.ID, []string{"gs://bucket/e"}, clock.Now())
		require.NoError(t, err)
		_, matched, err := f.results.MarkApproved(ctx, draft.ID, "fac-1", clock.Now())
		require.NoError(t, err)
		require.True(t, matched)
		clock.Advance(time.Minute)
	}

	handler := command.NewSubmitResultHandler(
		nil, f.results, f.submitter, memory.NewLocker(clock.Now), nil, clock, time.Minute, logger.Nop(),
	)
	f.job = NewSubmitApprovedResultsJob(f.results, handler, func() bool { return f.enabled }, 10, logger.Nop())
	return f
}

func TestSubmitApprovedResultsJob_SubmitsEveryApprovedRecord(t *testing.T) {
	f := newFixture(t, 3)

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, []string{"res-0", "res-1", "res-2"}, f.submitter.Submitted())
	stats := f.job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Found)
	assert.Equal(t, 3, stats.Submitted)

	remaining, err := f.results.ListByStatus(context.Background(), result.StatusApproved, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// A second run has nothing left to do.
	require.NoError(t, f.job.Run(context.Background()))
	assert.Len(t, f.submitter.Submitted(), 3)
	assert.Equal(t, 0, f.job.LastStats().Found)
}

func TestSubmitApprovedResultsJob_Disabled(t *testing.T) {
	f := newFixture(t, 2)
	f.enabled = false

	require.NoError(t, f.job.Run(context.Background()))

	assert.Empty(t, f.submitter.Submitted())
	assert.Nil(t, f.job.LastStats())
}

func TestSubmitApprovedResultsJob_UnavailableEndpointDefers(t *testing.T) {
	f := newFixture(t, 2)
	f.submitter.Err = shared.ErrCertificationUnavailable

	require.NoError(t, f.job.Run(context.Background()))

	stats := f.job.LastStats()
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)

	remaining, err := f.results.ListByStatus(context.Background(), result.StatusApproved, 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestSubmitApprovedResultsJob_RejectionFailsRun(t *testing.T) {
	f := newFixture(t, 1)
	f.submitter.Err = shared.ErrCertificationRejected

	err := f.job.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCertificationRejected)
	assert.Equal(t, 1, f.job.LastStats().Failed)

	rec, err := f.results.GetByID(context.Background(), "res-0")
	require.NoError(t, err)
	assert.Equal(t, result.StatusApproved, rec.Status)
}

func TestSubmitApprovedResultsJob_BatchSize(t *testing.T) {
	f := newFixture(t, 3)
	f.job.batchSize = 2

	require.NoError(t, f.job.Run(context.Background()))
	assert.Equal(t, []string{"res-0", "res-1"}, f.submitter.Submitted())

	require.NoError(t, f.job.Run(context.Background()))
	assert.Equal(t, []string{"res-0", "res-1", "res-2"}, f.submitter.Submitted())
}
