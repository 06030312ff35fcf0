package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/internal/infrastructure/auth"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// IdentityRepository implements identity.Repository for PostgreSQL.
type IdentityRepository struct {
	conn *Connection
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(conn *Connection) *IdentityRepository {
	return &IdentityRepository{conn: conn}
}

const profileColumns = `id, role, email, first_name, surname, date_of_birth, created_at`

// Create inserts a profile.
func (r *IdentityRepository) Create(ctx context.Context, id *identity.Identity) error {
	var dob *time.Time
	if !id.DateOfBirth.IsZero() {
		d := id.DateOfBirth
		dob = &d
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.ID, string(id.Role), id.Email.String(), id.FirstName, id.Surname, dob, id.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateAccount
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// GetByID returns a profile by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*identity.Identity, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	return scanIdentity(row)
}

// GetByEmail returns a profile by normalized email.
func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = $1`, auth.NormalizeEmail(email))
	return scanIdentity(row)
}

func scanIdentity(row pgx.Row) (*identity.Identity, error) {
	var (
		id    identity.Identity
		role  string
		email string
		dob   *time.Time
	)
	err := row.Scan(&id.ID, &role, &email, &id.FirstName, &id.Surname, &dob, &id.CreatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	id.Role = identity.Role(role)
	id.Email = shared.Email(email)
	if dob != nil {
		id.DateOfBirth = *dob
	}
	return &id, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ConsentRepository implements identity.ConsentRepository for PostgreSQL.
type ConsentRepository struct {
	conn *Connection
}

// NewConsentRepository creates a new ConsentRepository.
func NewConsentRepository(conn *Connection) *ConsentRepository {
	return &ConsentRepository{conn: conn}
}

// Upsert records the latest decision of the identity.
func (r *ConsentRepository) Upsert(ctx context.Context, c identity.Consent) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO consents (identity_id, accepted, decided_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id) DO UPDATE
		SET accepted = EXCLUDED.accepted, decided_at = EXCLUDED.decided_at
	`, c.IdentityID, c.Accepted, c.DecidedAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrIdentityNotFound
		}
		return fmt.Errorf("failed to upsert consent: %w", err)
	}
	return nil
}

// Get returns the identity's current decision.
func (r *ConsentRepository) Get(ctx context.Context, identityID string) (*identity.Consent, error) {
	var c identity.Consent
	err := r.conn.QueryRow(ctx, `
		SELECT identity_id, accepted, decided_at FROM consents WHERE identity_id = $1
	`, identityID).Scan(&c.IdentityID, &c.Accepted, &c.DecidedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("identity", "GetConsent", shared.ErrNotFound, "no consent recorded")
		}
		return nil, fmt.Errorf("failed to get consent: %w", err)
	}
	return &c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CREDENTIAL STORE
// ══════════════════════════════════════════════════════════════════════════════

// CredentialStore implements auth.CredentialStore for PostgreSQL.
type CredentialStore struct {
	conn *Connection
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(conn *Connection) *CredentialStore {
	return &CredentialStore{conn: conn}
}

// Create inserts a credential.
func (s *CredentialStore) Create(ctx context.Context, c *auth.Credential) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO credentials (subject_id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`, c.SubjectID, auth.NormalizeEmail(c.Email), c.PasswordHash, c.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateAccount
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// GetByEmail returns the credential registered for email.
func (s *CredentialStore) GetByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	var c auth.Credential
	err := s.conn.QueryRow(ctx, `
		SELECT subject_id, email, password_hash, created_at FROM credentials WHERE email = $1
	`, auth.NormalizeEmail(email)).Scan(&c.SubjectID, &c.Email, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

var (
	_ identity.Repository        = (*IdentityRepository)(nil)
	_ identity.ConsentRepository = (*ConsentRepository)(nil)
	_ auth.CredentialStore       = (*CredentialStore)(nil)
)
