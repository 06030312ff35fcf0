package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/learnpath/learnpath-core/internal/domain/programme"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// ProgrammeStore implements programme.Store for programmes created by
// facilitators. Seed programmes live in the catalog package.
type ProgrammeStore struct {
	conn *Connection
}

// NewProgrammeStore creates a new ProgrammeStore.
func NewProgrammeStore(conn *Connection) *ProgrammeStore {
	return &ProgrammeStore{conn: conn}
}

const programmeColumns = `id, name, nqf_level, total_credits, description, facilitator_id, created_at`

// Create inserts a programme.
func (s *ProgrammeStore) Create(ctx context.Context, p *programme.Programme) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO programmes (`+programmeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Name, p.NQFLevel, p.TotalCredits, p.Description, p.FacilitatorID, p.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("programme", "Create", shared.ErrAlreadyExists, "programme id already used")
		}
		return fmt.Errorf("failed to create programme: %w", err)
	}
	return nil
}

// Get returns a programme by ID.
func (s *ProgrammeStore) Get(ctx context.Context, id string) (*programme.Programme, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+programmeColumns+` FROM programmes WHERE id = $1`, id)
	p, err := scanProgramme(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgrammeNotFound
		}
		return nil, fmt.Errorf("failed to get programme: %w", err)
	}
	return p, nil
}

// List returns all stored programmes, oldest first.
func (s *ProgrammeStore) List(ctx context.Context) ([]*programme.Programme, error) {
	return s.query(ctx, `SELECT `+programmeColumns+` FROM programmes ORDER BY created_at, id`)
}

// ListByFacilitator returns the facilitator's programmes.
func (s *ProgrammeStore) ListByFacilitator(ctx context.Context, facilitatorID string) ([]*programme.Programme, error) {
	return s.query(ctx, `
		SELECT `+programmeColumns+` FROM programmes
		WHERE facilitator_id = $1
		ORDER BY created_at, id
	`, facilitatorID)
}

func (s *ProgrammeStore) query(ctx context.Context, sql string, args ...any) ([]*programme.Programme, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list programmes: %w", err)
	}
	defer rows.Close()

	var out []*programme.Programme
	for rows.Next() {
		p, err := scanProgramme(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan programme: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProgramme(row pgx.Row) (*programme.Programme, error) {
	var p programme.Programme
	if err := row.Scan(&p.ID, &p.Name, &p.NQFLevel, &p.TotalCredits, &p.Description, &p.FacilitatorID, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

var _ programme.Store = (*ProgrammeStore)(nil)
