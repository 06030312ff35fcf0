package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/learnpath/learnpath-core/internal/domain/result"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT RECORD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ResultRepository implements result.Repository using PostgreSQL.
type ResultRepository struct {
	conn *Connection
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(conn *Connection) *ResultRepository {
	return &ResultRepository{conn: conn}
}

const resultColumns = `id, enrollment_id, unit_id, module_name, status, evidence_refs,
	approved_by, approved_at, submitted_at, acknowledgement_id, created_at, updated_at`

// GetOrCreateDraft inserts the draft unless a record already exists for
// (enrollment, unit), then returns whichever row is stored.
func (r *ResultRepository) GetOrCreateDraft(ctx context.Context, draft *result.Record) (*result.Record, error) {
	refs := draft.EvidenceRefs
	if refs == nil {
		refs = []string{}
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO result_records (`+resultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT ON CONSTRAINT result_records_unit_key DO NOTHING
	`,
		draft.ID, draft.EnrollmentID, draft.UnitID, draft.ModuleName, string(draft.Status), refs,
		draft.ApprovedBy, draft.ApprovedAt, draft.SubmittedAt, draft.AcknowledgementID,
		draft.CreatedAt, draft.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return nil, shared.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to create result draft: %w", err)
	}

	row := r.conn.QueryRow(ctx, `
		SELECT `+resultColumns+` FROM result_records
		WHERE enrollment_id = $1 AND unit_id = $2
	`, draft.EnrollmentID, draft.UnitID)
	return scanRecord(row)
}

// GetByID returns a record by ID.
func (r *ResultRepository) GetByID(ctx context.Context, id string) (*result.Record, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+resultColumns+` FROM result_records WHERE id = $1`, id)
	return scanRecord(row)
}

// ListByStatus returns up to limit records in status, oldest first.
func (r *ResultRepository) ListByStatus(ctx context.Context, status result.Status, limit int) ([]*result.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT `+resultColumns+` FROM result_records
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, string(status), limit)
}

// ListByEnrollment returns the enrollment's records, oldest first.
func (r *ResultRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]*result.Record, error) {
	return r.query(ctx, `
		SELECT `+resultColumns+` FROM result_records
		WHERE enrollment_id = $1
		ORDER BY created_at, id
	`, enrollmentID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Transitions
// ─────────────────────────────────────────────────────────────────────────────

// MarkReady moves a draft to ready with its evidence attached.
func (r *ResultRepository) MarkReady(ctx context.Context, id string, evidenceRefs []string, at time.Time) (int64, error) {
	if evidenceRefs == nil {
		evidenceRefs = []string{}
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE result_records SET status = 'ready', evidence_refs = $2, updated_at = $3
		WHERE id = $1 AND status = 'draft'
	`, id, evidenceRefs, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark result ready: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkApproved records the approver on a ready or approved record. The row
// is locked so the returned previous status is the one that was overwritten.
// A missing record or one in any other status yields matched=false.
func (r *ResultRepository) MarkApproved(ctx context.Context, id, approverID string, at time.Time) (result.Status, bool, error) {
	var (
		previous result.Status
		matched  bool
	)

	err := r.conn.InTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM result_records WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			if IsNoRows(err) {
				return nil
			}
			return fmt.Errorf("failed to lock result record: %w", err)
		}

		current := result.Status(status)
		if current != result.StatusReady && current != result.StatusApproved {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE result_records
			SET status = 'approved', approved_by = $2, approved_at = $3, updated_at = $3
			WHERE id = $1
		`, id, approverID, at)
		if err != nil {
			return fmt.Errorf("failed to approve result record: %w", err)
		}
		previous, matched = current, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return previous, matched, nil
}

// MarkSubmitted moves an approved record to submitted.
func (r *ResultRepository) MarkSubmitted(ctx context.Context, id, acknowledgementID string, at time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE result_records
		SET status = 'submitted', acknowledgement_id = $2, submitted_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'approved'
	`, id, acknowledgementID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark result submitted: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *ResultRepository) query(ctx context.Context, sql string, args ...any) ([]*result.Record, error) {
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list result records: %w", err)
	}
	defer rows.Close()

	var out []*result.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*result.Record, error) {
	var (
		rec    result.Record
		status string
	)
	err := row.Scan(
		&rec.ID, &rec.EnrollmentID, &rec.UnitID, &rec.ModuleName, &status, &rec.EvidenceRefs,
		&rec.ApprovedBy, &rec.ApprovedAt, &rec.SubmittedAt, &rec.AcknowledgementID,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to scan result record: %w", err)
	}
	rec.Status = result.Status(status)
	return &rec, nil
}

var _ result.Repository = (*ResultRepository)(nil)
