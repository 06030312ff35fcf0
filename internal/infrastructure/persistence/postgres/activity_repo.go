package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/learnpath/learnpath-core/internal/domain/activity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY UNIT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UnitRepository implements activity.UnitRepository using PostgreSQL.
// Activities are stored as a JSONB array on the unit row.
type UnitRepository struct {
	conn *Connection
}

// NewUnitRepository creates a new UnitRepository.
func NewUnitRepository(conn *Connection) *UnitRepository {
	return &UnitRepository{conn: conn}
}

const unitColumns = `id, programme_id, title, week_start, week_end, activities,
	live_session_ref, credits, created_at, updated_at`

// Save inserts the unit or replaces every mutable column of an existing one.
func (r *UnitRepository) Save(ctx context.Context, u *activity.WeeklyUnit) error {
	activities, err := json.Marshal(u.Activities)
	if err != nil {
		return fmt.Errorf("failed to encode activities: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO weekly_units (`+unitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			programme_id = EXCLUDED.programme_id,
			title = EXCLUDED.title,
			week_start = EXCLUDED.week_start,
			week_end = EXCLUDED.week_end,
			activities = EXCLUDED.activities,
			live_session_ref = EXCLUDED.live_session_ref,
			credits = EXCLUDED.credits,
			updated_at = EXCLUDED.updated_at
	`,
		u.ID, u.ProgrammeID, u.Title, u.WeekStart, u.WeekEnd, activities,
		u.LiveSessionRef, u.Credits, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save weekly unit: %w", err)
	}
	return nil
}

// GetByID returns a unit by ID.
func (r *UnitRepository) GetByID(ctx context.Context, id string) (*activity.WeeklyUnit, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+unitColumns+` FROM weekly_units WHERE id = $1`, id)
	u, err := scanUnit(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to get weekly unit: %w", err)
	}
	return u, nil
}

// ListByProgramme returns the programme's units ordered by week start.
func (r *UnitRepository) ListByProgramme(ctx context.Context, programmeID string) ([]*activity.WeeklyUnit, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+unitColumns+` FROM weekly_units
		WHERE programme_id = $1
		ORDER BY week_start, id
	`, programmeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly units: %w", err)
	}
	defer rows.Close()

	var out []*activity.WeeklyUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan weekly unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUnit(row pgx.Row) (*activity.WeeklyUnit, error) {
	var (
		u   activity.WeeklyUnit
		raw []byte
	)
	err := row.Scan(
		&u.ID, &u.ProgrammeID, &u.Title, &u.WeekStart, &u.WeekEnd, &raw,
		&u.LiveSessionRef, &u.Credits, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// DATE comes back as UTC midnight; windows are read on the SAST calendar.
	u.WeekStart = timeutil.CalendarDate(u.WeekStart)
	u.WeekEnd = timeutil.CalendarDate(u.WeekEnd)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &u.Activities); err != nil {
			return nil, fmt.Errorf("decode activities: %w", err)
		}
	}
	return &u, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CompletionRepository implements activity.CompletionRepository using PostgreSQL.
type CompletionRepository struct {
	conn *Connection
}

// NewCompletionRepository creates a new CompletionRepository.
func NewCompletionRepository(conn *Connection) *CompletionRepository {
	return &CompletionRepository{conn: conn}
}

// Upsert records a completion. A repeat overwrites the timestamp, unit and
// evidence of the previous one.
func (r *CompletionRepository) Upsert(ctx context.Context, c *activity.Completion) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO activity_completions (enrollment_id, activity_key, unit_id, completed_at, evidence_ref)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (enrollment_id, activity_key) DO UPDATE SET
			unit_id = EXCLUDED.unit_id,
			completed_at = EXCLUDED.completed_at,
			evidence_ref = EXCLUDED.evidence_ref
	`, c.EnrollmentID, c.ActivityKey, c.UnitID, c.CompletedAt, c.EvidenceRef)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrEnrollmentNotFound
		}
		return fmt.Errorf("failed to upsert completion: %w", err)
	}
	return nil
}

// Get returns a completion.
func (r *CompletionRepository) Get(ctx context.Context, enrollmentID, activityKey string) (*activity.Completion, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT enrollment_id, activity_key, unit_id, completed_at, evidence_ref
		FROM activity_completions
		WHERE enrollment_id = $1 AND activity_key = $2
	`, enrollmentID, activityKey)

	c, err := scanCompletion(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("activity", "GetCompletion", shared.ErrNotFound, "activity not completed")
		}
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}
	return c, nil
}

// ListByEnrollment returns the enrollment's completions, oldest first.
func (r *CompletionRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]*activity.Completion, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT enrollment_id, activity_key, unit_id, completed_at, evidence_ref
		FROM activity_completions
		WHERE enrollment_id = $1
		ORDER BY completed_at, activity_key
	`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	var out []*activity.Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCompletion(row pgx.Row) (*activity.Completion, error) {
	var c activity.Completion
	if err := row.Scan(&c.EnrollmentID, &c.ActivityKey, &c.UnitID, &c.CompletedAt, &c.EvidenceRef); err != nil {
		return nil, err
	}
	return &c, nil
}

var (
	_ activity.UnitRepository       = (*UnitRepository)(nil)
	_ activity.CompletionRepository = (*CompletionRepository)(nil)
)
