package redis

import (
	"context"
	"fmt"
	"time"
)

// RevocationList records signed-out token IDs until the token would
// have expired anyway.
type RevocationList struct {
	cache *Cache
}

// NewRevocationList creates a Redis-backed revocation list.
func NewRevocationList(cache *Cache) *RevocationList {
	return &RevocationList{cache: cache}
}

// Revoke marks tokenID as revoked for ttl. A non-positive ttl is a no-op
// because the token is already expired.
func (r *RevocationList) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if _, err := r.cache.SetNX(ctx, PrefixRevoked+tokenID, "1", ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked.
func (r *RevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ok, err := r.cache.Exists(ctx, PrefixRevoked+tokenID)
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return ok, nil
}
