package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/learnpath/learnpath-core/internal/domain/enrollment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentRepository implements enrollment.Repository for PostgreSQL.
// Mutations return the number of rows the guard let through.
type EnrollmentRepository struct {
	conn *Connection
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(conn *Connection) *EnrollmentRepository {
	return &EnrollmentRepository{conn: conn}
}

const enrollmentColumns = `id, learner_id, programme_id, payment_status, credits_earned, credits_total,
	progress_percent, enrolled_at, cancelled_at, updated_at`

// Create inserts an enrollment. The partial unique index on active pairs
// turns a concurrent duplicate into ErrAlreadyEnrolled.
func (r *EnrollmentRepository) Create(ctx context.Context, e *enrollment.Enrollment) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO enrollments (`+enrollmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		e.ID, e.LearnerID, e.ProgrammeID, string(e.PaymentStatus),
		e.CreditsEarned, e.CreditsTotal, e.ProgressPercent,
		e.EnrolledAt, e.CancelledAt, e.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			if ViolatedConstraint(err) == "enrollments_active_pair_key" {
				return shared.ErrAlreadyEnrolled
			}
			return shared.NewDomainError("enrollment", "Create", shared.ErrAlreadyExists, "enrollment id already used")
		}
		if IsForeignKeyViolation(err) {
			return shared.ErrIdentityNotFound
		}
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

// GetByID returns an enrollment by ID.
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*enrollment.Enrollment, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)
	return scanEnrollment(row)
}

// GetActive returns the active enrollment of the pair.
func (r *EnrollmentRepository) GetActive(ctx context.Context, learnerID, programmeID string) (*enrollment.Enrollment, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE learner_id = $1 AND programme_id = $2 AND cancelled_at IS NULL
	`, learnerID, programmeID)
	return scanEnrollment(row)
}

// ListByLearner returns the learner's enrollments, newest first.
func (r *EnrollmentRepository) ListByLearner(ctx context.Context, learnerID string) ([]*enrollment.Enrollment, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE learner_id = $1
		ORDER BY enrolled_at DESC
	`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var out []*enrollment.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Guarded updates
// ─────────────────────────────────────────────────────────────────────────────

// MarkPaid sets payment_status to paid unless it already is.
func (r *EnrollmentRepository) MarkPaid(ctx context.Context, id string, at time.Time) (int64, error) {
	return r.exec(ctx, "mark paid", `
		UPDATE enrollments SET payment_status = 'paid', updated_at = $2
		WHERE id = $1 AND cancelled_at IS NULL AND payment_status <> 'paid'
	`, id, at)
}

// MarkPaymentFailed sets payment_status to failed unless the enrollment is paid.
func (r *EnrollmentRepository) MarkPaymentFailed(ctx context.Context, id string, at time.Time) (int64, error) {
	return r.exec(ctx, "mark payment failed", `
		UPDATE enrollments SET payment_status = 'failed', updated_at = $2
		WHERE id = $1 AND payment_status <> 'paid'
	`, id, at)
}

// AdvanceProgress raises progress_percent; it never lowers it.
func (r *EnrollmentRepository) AdvanceProgress(ctx context.Context, id string, percent int, at time.Time) (int64, error) {
	if percent > 100 {
		percent = 100
	}
	return r.exec(ctx, "advance progress", `
		UPDATE enrollments SET progress_percent = $2, updated_at = $3
		WHERE id = $1 AND cancelled_at IS NULL AND payment_status = 'paid'
		  AND progress_percent < $2
	`, id, percent, at)
}

// AddCredits adds delta to credits_earned, capped at credits_total.
func (r *EnrollmentRepository) AddCredits(ctx context.Context, id string, delta int, at time.Time) (int64, error) {
	if delta <= 0 {
		return 0, nil
	}
	return r.exec(ctx, "add credits", `
		UPDATE enrollments SET credits_earned = LEAST(credits_earned + $2, credits_total), updated_at = $3
		WHERE id = $1 AND cancelled_at IS NULL AND payment_status = 'paid'
		  AND credits_earned < credits_total
	`, id, delta, at)
}

// Cancel marks an active enrollment cancelled.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id string, at time.Time) (int64, error) {
	return r.exec(ctx, "cancel", `
		UPDATE enrollments SET cancelled_at = $2, updated_at = $2
		WHERE id = $1 AND cancelled_at IS NULL
	`, id, at)
}

func (r *EnrollmentRepository) exec(ctx context.Context, op, sql string, args ...any) (int64, error) {
	tag, err := r.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return tag.RowsAffected(), nil
}

func scanEnrollment(row pgx.Row) (*enrollment.Enrollment, error) {
	var (
		e      enrollment.Enrollment
		status string
	)
	err := row.Scan(
		&e.ID, &e.LearnerID, &e.ProgrammeID, &status,
		&e.CreditsEarned, &e.CreditsTotal, &e.ProgressPercent,
		&e.EnrolledAt, &e.CancelledAt, &e.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}
	e.PaymentStatus = enrollment.PaymentStatus(status)
	return &e, nil
}

var _ enrollment.Repository = (*EnrollmentRepository)(nil)
