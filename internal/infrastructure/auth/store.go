// Package auth implements identity.AuthProvider with bcrypt password hashes
// and HMAC-signed JWT session tokens.
package auth

import (
	"context"
	"strings"
	"time"
)

// Credential is the stored login secret of one subject.
type Credential struct {
	SubjectID    string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// CredentialStore persists credentials.
type CredentialStore interface {
	// Create returns shared.ErrDuplicateAccount when the email is taken.
	Create(ctx context.Context, c *Credential) error

	// GetByEmail returns an error matching shared.ErrNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*Credential, error)
}

// RevocationList records signed-out token IDs.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
