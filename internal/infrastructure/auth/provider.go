package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

// Provider implements identity.AuthProvider.
type Provider struct {
	creds     CredentialStore
	tokens    *TokenIssuer
	revoked   RevocationList
	cost      int
	dummyHash []byte
	now       func() time.Time
	logger    *logger.Logger
}

// ProviderConfig configures the provider.
type ProviderConfig struct {
	Credentials CredentialStore
	Tokens      *TokenIssuer
	Revocations RevocationList

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	Now    func() time.Time
	Logger *logger.Logger
}

// NewProvider creates the provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Credentials == nil || cfg.Tokens == nil || cfg.Revocations == nil {
		return nil, errors.New("auth: credentials, tokens and revocations are required")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	// Unknown emails are compared against this hash so both paths cost the same.
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	return &Provider{
		creds:     cfg.Credentials,
		tokens:    cfg.Tokens,
		revoked:   cfg.Revocations,
		cost:      cfg.BcryptCost,
		dummyHash: dummy,
		now:       cfg.Now,
		logger:    cfg.Logger.Named("auth"),
	}, nil
}

// SignUp stores a bcrypt hash and returns the new subject ID.
func (p *Provider) SignUp(ctx context.Context, email, password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", shared.NewDomainError("auth", "SignUp", shared.ErrValidation, "password is longer than 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}

	cred := &Credential{
		SubjectID:    uuid.NewString(),
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.creds.Create(ctx, cred); err != nil {
		return "", err
	}
	return cred.SubjectID, nil
}

// SignIn checks the password and issues a session token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.ProviderSession, error) {
	cred, err := p.creds.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if shared.IsNotFound(err) {
			_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(password))
			return nil, shared.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: load credentials: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}

	token, claims, err := p.tokens.Issue(cred.SubjectID)
	if err != nil {
		return nil, err
	}
	return &identity.ProviderSession{
		Token:     token,
		SubjectID: cred.SubjectID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SignOut revokes the token until it expires. Invalid or expired tokens
// are already unusable, so they are ignored.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return nil
	}
	if err := p.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Sub(p.now())); err != nil {
		return fmt.Errorf("auth: sign out: %w", err)
	}
	p.logger.Debug("token revoked", logger.IdentityID(claims.Subject))
	return nil
}

// ResolveSession returns the subject of a live, non-revoked token.
func (p *Provider) ResolveSession(ctx context.Context, token string) (string, error) {
	claims, err := p.tokens.Parse(token)
	if err != nil {
		return "", shared.ErrNotAuthenticated
	}
	revoked, err := p.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return "", fmt.Errorf("auth: resolve session: %w", err)
	}
	if revoked {
		return "", shared.ErrNotAuthenticated
	}
	return claims.Subject, nil
}

var _ identity.AuthProvider = (*Provider)(nil)
