package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// cachedIdentity is the stored form of a resolved identity.
type cachedIdentity struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	Surname     string    `json:"surname,omitempty"`
	DateOfBirth time.Time `json:"date_of_birth,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionCache caches identities by session token. Tokens are hashed
// before they are used as keys.
type SessionCache struct {
	cache *Cache
}

// NewSessionCache creates an identity.SessionCache backed by Redis.
func NewSessionCache(cache *Cache) *SessionCache {
	return &SessionCache{cache: cache}
}

func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return PrefixSession + hex.EncodeToString(sum[:])
}

// Put stores the identity for ttl.
func (c *SessionCache) Put(ctx context.Context, token string, id *identity.Identity, ttl time.Duration) error {
	if id == nil {
		return ErrCacheNilValue
	}
	v := cachedIdentity{
		ID:          id.ID,
		Role:        id.Role.String(),
		Email:       id.Email.String(),
		FirstName:   id.FirstName,
		Surname:     id.Surname,
		DateOfBirth: id.DateOfBirth,
		CreatedAt:   id.CreatedAt,
	}
	if err := c.cache.Set(ctx, sessionKey(token), v, ttl); err != nil {
		return fmt.Errorf("cache session: %w", err)
	}
	return nil
}

// Get returns the cached identity or shared.ErrNotAuthenticated on a miss.
func (c *SessionCache) Get(ctx context.Context, token string) (*identity.Identity, error) {
	var v cachedIdentity
	if err := c.cache.Get(ctx, sessionKey(token), &v); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrNotAuthenticated
		}
		return nil, fmt.Errorf("read cached session: %w", err)
	}
	role, err := identity.ParseRole(v.Role)
	if err != nil {
		// Stale entry from an older role set.
		_ = c.cache.Delete(ctx, sessionKey(token))
		return nil, shared.ErrNotAuthenticated
	}
	return &identity.Identity{
		ID:          v.ID,
		Role:        role,
		Email:       shared.Email(v.Email),
		FirstName:   v.FirstName,
		Surname:     v.Surname,
		DateOfBirth: v.DateOfBirth,
		CreatedAt:   v.CreatedAt,
	}, nil
}

// Evict removes the entry for token.
func (c *SessionCache) Evict(ctx context.Context, token string) error {
	return c.cache.Delete(ctx, sessionKey(token))
}

var _ identity.SessionCache = (*SessionCache)(nil)
