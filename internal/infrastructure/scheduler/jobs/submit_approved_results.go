// Package jobs contains the scheduled jobs of LearnPath.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/learnpath/learnpath-core/internal/application/command"
	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT APPROVED RESULTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ResultSubmitter hands one approved record to certification.
type ResultSubmitter interface {
	Handle(ctx context.Context, cmd command.SubmitResultCommand) (*command.SubmitResultResult, error)
}

// SubmitApprovedResultsJob submits every approved result record in batches.
// Records that fail stay approved and are picked up by the next run.
type SubmitApprovedResultsJob struct {
	results   result.Repository
	submitter ResultSubmitter
	enabled   func() bool
	batchSize int
	logger    *logger.Logger

	lastStats atomic.Value // *SubmitStats
}

// SubmitStats contains statistics from one run.
type SubmitStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Found     int
	Submitted int
	Skipped   int
	Failed    int
}

// NewSubmitApprovedResultsJob creates the job. enabled may be nil.
func NewSubmitApprovedResultsJob(
	results result.Repository,
	submitter ResultSubmitter,
	enabled func() bool,
	batchSize int,
	log *logger.Logger,
) *SubmitApprovedResultsJob {
	if batchSize <= 0 {
		batchSize = 50
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitApprovedResultsJob{
		results:   results,
		submitter: submitter,
		enabled:   enabled,
		batchSize: batchSize,
		logger:    log.Named("submit_approved_results"),
	}
}

// Name returns the job name.
func (j *SubmitApprovedResultsJob) Name() string {
	return "submit_approved_results"
}

// Description returns a human-readable description.
func (j *SubmitApprovedResultsJob) Description() string {
	return "Submits approved result records to the certification endpoint"
}

// Run executes one batch.
func (j *SubmitApprovedResultsJob) Run(ctx context.Context) error {
	if j.enabled != nil && !j.enabled() {
		j.logger.Debug("auto submission disabled, skipping")
		return nil
	}

	stats := &SubmitStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	records, err := j.results.ListByStatus(ctx, result.StatusApproved, j.batchSize)
	if err != nil {
		return fmt.Errorf("list approved results: %w", err)
	}
	stats.Found = len(records)

	var lastErr error
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := j.submitter.Handle(ctx, command.SubmitResultCommand{ResultID: rec.ID})
		switch {
		case err == nil && res.AlreadySubmitted:
			stats.Skipped++
		case err == nil:
			stats.Submitted++
		case shared.IsRetryable(err):
			// Another caller holds the lock or the endpoint is down.
			stats.Skipped++
			j.logger.Warn("result submission deferred", logger.ResultID(rec.ID), logger.Err(err))
		default:
			stats.Failed++
			lastErr = err
			j.logger.Error("result submission failed", logger.ResultID(rec.ID), logger.Err(err))
		}
	}

	j.logger.Info("approved results processed",
		logger.Int("found", stats.Found),
		logger.Int("submitted", stats.Submitted),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
	)

	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d submissions failed: %w", stats.Failed, stats.Found, lastErr)
	}
	return nil
}

// LastStats returns the statistics of the previous run, or nil.
func (j *SubmitApprovedResultsJob) LastStats() *SubmitStats {
	if s, ok := j.lastStats.Load().(*SubmitStats); ok {
		return s
	}
	return nil
}
