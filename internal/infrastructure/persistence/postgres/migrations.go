package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/learnpath/learnpath-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
	logger     *logger.Logger
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
		logger:     conn.logger.Named("migrator"),
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}
		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.InTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insert, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}

		m.logger.Info("migration applied",
			logger.Int("version", mig.Version),
			logger.String("name", mig.Name),
		)
	}

	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), lastVersion)
		return err
	})
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_identities", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_catalog", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_enrollments", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_results", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: IDENTITIES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    role VARCHAR(20) NOT NULL,
    email VARCHAR(254) NOT NULL,
    first_name VARCHAR(100) NOT NULL,
    surname VARCHAR(100) NOT NULL DEFAULT '',
    date_of_birth DATE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT profiles_email_key UNIQUE (email),
    CONSTRAINT valid_role CHECK (role IN ('learner', 'facilitator', 'administrator'))
);

CREATE TABLE IF NOT EXISTS credentials (
    subject_id TEXT PRIMARY KEY,
    email VARCHAR(254) NOT NULL,
    password_hash BYTEA NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT credentials_email_key UNIQUE (email)
);

CREATE TABLE IF NOT EXISTS consents (
    identity_id TEXT PRIMARY KEY REFERENCES profiles(id) ON DELETE CASCADE,
    accepted BOOLEAN NOT NULL,
    decided_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

const migration001Down = `
DROP TABLE IF EXISTS consents;
DROP TABLE IF EXISTS credentials;
DROP TABLE IF EXISTS profiles;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CATALOG AND WEEKLY UNITS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS programmes (
    id TEXT PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    nqf_level SMALLINT NOT NULL,
    total_credits INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    facilitator_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_nqf_level CHECK (nqf_level BETWEEN 1 AND 10),
    CONSTRAINT valid_total_credits CHECK (total_credits > 0)
);

CREATE INDEX IF NOT EXISTS idx_programmes_facilitator ON programmes(facilitator_id);

-- Units may reference seed programmes that have no row here, so there is
-- no foreign key on programme_id.
CREATE TABLE IF NOT EXISTS weekly_units (
    id TEXT PRIMARY KEY,
    programme_id TEXT NOT NULL,
    title VARCHAR(200) NOT NULL DEFAULT '',
    week_start DATE NOT NULL,
    week_end DATE NOT NULL,
    activities JSONB NOT NULL DEFAULT '[]'::jsonb,
    live_session_ref TEXT NOT NULL DEFAULT '',
    credits INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_week CHECK (week_start <= week_end),
    CONSTRAINT valid_credits CHECK (credits >= 0)
);

CREATE INDEX IF NOT EXISTS idx_weekly_units_programme ON weekly_units(programme_id, week_start);
`

const migration002Down = `
DROP TABLE IF EXISTS weekly_units;
DROP TABLE IF EXISTS programmes;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: ENROLLMENTS AND COMPLETIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS enrollments (
    id TEXT PRIMARY KEY,
    learner_id TEXT NOT NULL REFERENCES profiles(id),
    programme_id TEXT NOT NULL,
    payment_status VARCHAR(20) NOT NULL DEFAULT 'pending',
    credits_earned INTEGER NOT NULL DEFAULT 0,
    credits_total INTEGER NOT NULL,
    progress_percent SMALLINT NOT NULL DEFAULT 0,
    enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
    cancelled_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_payment_status CHECK (payment_status IN ('pending', 'paid', 'failed')),
    CONSTRAINT valid_progress CHECK (progress_percent BETWEEN 0 AND 100),
    CONSTRAINT valid_credits_earned CHECK (credits_earned BETWEEN 0 AND credits_total)
);

-- At most one active enrollment per (learner, programme).
CREATE UNIQUE INDEX IF NOT EXISTS enrollments_active_pair_key
    ON enrollments(learner_id, programme_id) WHERE cancelled_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_enrollments_learner ON enrollments(learner_id, enrolled_at DESC);

CREATE TABLE IF NOT EXISTS activity_completions (
    enrollment_id TEXT NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
    activity_key VARCHAR(100) NOT NULL,
    unit_id TEXT NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    evidence_ref TEXT NOT NULL DEFAULT '',

    PRIMARY KEY (enrollment_id, activity_key)
);
`

const migration003Down = `
DROP TABLE IF EXISTS activity_completions;
DROP TABLE IF EXISTS enrollments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: RESULT RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS result_records (
    id TEXT PRIMARY KEY,
    enrollment_id TEXT NOT NULL REFERENCES enrollments(id) ON DELETE CASCADE,
    unit_id TEXT NOT NULL,
    module_name VARCHAR(200) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'draft',
    evidence_refs TEXT[] NOT NULL DEFAULT '{}',
    approved_by TEXT NOT NULL DEFAULT '',
    approved_at TIMESTAMP WITH TIME ZONE,
    submitted_at TIMESTAMP WITH TIME ZONE,
    acknowledgement_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT result_records_unit_key UNIQUE (enrollment_id, unit_id),
    CONSTRAINT valid_result_status CHECK (status IN ('draft', 'ready', 'approved', 'submitted'))
);

CREATE INDEX IF NOT EXISTS idx_result_records_status ON result_records(status, created_at);
`

const migration004Down = `
DROP TABLE IF EXISTS result_records;
`
