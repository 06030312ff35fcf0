// Package memory provides mutex-guarded in-process implementations of every
// repository and port. They back the development profile and the
// application tests, and honour the same conditional-update semantics as
// the Postgres and Redis adapters.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/internal/infrastructure/auth"
)

// IdentityRepository implements identity.Repository.
type IdentityRepository struct {
	mu      sync.RWMutex
	byID    map[string]*identity.Identity
	byEmail map[string]string
}

// NewIdentityRepository creates an empty repository.
func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{
		byID:    make(map[string]*identity.Identity),
		byEmail: make(map[string]string),
	}
}

func (r *IdentityRepository) Create(_ context.Context, id *identity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := auth.NormalizeEmail(id.Email.String())
	if _, ok := r.byID[id.ID]; ok {
		return shared.ErrDuplicateAccount
	}
	if _, ok := r.byEmail[email]; ok {
		return shared.ErrDuplicateAccount
	}
	cp := *id
	r.byID[id.ID] = &cp
	r.byEmail[email] = id.ID
	return nil
}

func (r *IdentityRepository) GetByID(_ context.Context, id string) (*identity.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrIdentityNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	r.mu.RLock()
	id, ok := r.byEmail[auth.NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, shared.ErrIdentityNotFound
	}
	return r.GetByID(ctx, id)
}

// ConsentRepository implements identity.ConsentRepository.
type ConsentRepository struct {
	mu       sync.RWMutex
	consents map[string]identity.Consent
}

// NewConsentRepository creates an empty repository.
func NewConsentRepository() *ConsentRepository {
	return &ConsentRepository{consents: make(map[string]identity.Consent)}
}

func (r *ConsentRepository) Upsert(_ context.Context, c identity.Consent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consents[c.IdentityID] = c
	return nil
}

func (r *ConsentRepository) Get(_ context.Context, identityID string) (*identity.Consent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.consents[identityID]
	if !ok {
		return nil, shared.NewDomainError("identity", "GetConsent", shared.ErrNotFound, "no consent recorded")
	}
	return &c, nil
}

// CredentialStore implements auth.CredentialStore.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]auth.Credential
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]auth.Credential)}
}

func (s *CredentialStore) Create(_ context.Context, c *auth.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := auth.NormalizeEmail(c.Email)
	if _, ok := s.creds[email]; ok {
		return shared.ErrDuplicateAccount
	}
	cp := *c
	cp.Email = email
	s.creds[email] = cp
	return nil
}

func (s *CredentialStore) GetByEmail(_ context.Context, email string) (*auth.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[auth.NormalizeEmail(email)]
	if !ok {
		return nil, shared.ErrIdentityNotFound
	}
	return &c, nil
}

// SessionCache implements identity.SessionCache with expiry by clock.
type SessionCache struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]sessionEntry
}

type sessionEntry struct {
	identity  identity.Identity
	expiresAt time.Time
}

// NewSessionCache creates an empty cache. now may be nil.
func NewSessionCache(now func() time.Time) *SessionCache {
	if now == nil {
		now = time.Now
	}
	return &SessionCache{clock: now, entries: make(map[string]sessionEntry)}
}

func (c *SessionCache) Put(_ context.Context, token string, id *identity.Identity, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = sessionEntry{identity: *id, expiresAt: c.clock().Add(ttl)}
	return nil
}

func (c *SessionCache) Get(_ context.Context, token string) (*identity.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[token]
	if !ok {
		return nil, shared.ErrNotAuthenticated
	}
	if !c.clock().Before(e.expiresAt) {
		delete(c.entries, token)
		return nil, shared.ErrNotAuthenticated
	}
	cp := e.identity
	return &cp, nil
}

func (c *SessionCache) Evict(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
	return nil
}

// RevocationList implements auth.RevocationList.
type RevocationList struct {
	mu      sync.Mutex
	clock   func() time.Time
	revoked map[string]time.Time
}

// NewRevocationList creates an empty list. now may be nil.
func NewRevocationList(now func() time.Time) *RevocationList {
	if now == nil {
		now = time.Now
	}
	return &RevocationList{clock: now, revoked: make(map[string]time.Time)}
}

func (l *RevocationList) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[tokenID] = l.clock().Add(ttl)
	return nil
}

func (l *RevocationList) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !l.clock().Before(until) {
		delete(l.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

var (
	_ identity.Repository        = (*IdentityRepository)(nil)
	_ identity.ConsentRepository = (*ConsentRepository)(nil)
	_ identity.SessionCache      = (*SessionCache)(nil)
	_ auth.CredentialStore       = (*CredentialStore)(nil)
	_ auth.RevocationList        = (*RevocationList)(nil)
)
