package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnpath/learnpath-core/internal/domain/result"
)

// Locker implements result.Locker with SET NX and a compare-and-delete release.
// Each acquisition writes a unique owner token so a holder whose lock expired
// cannot release a lock taken by someone else.
type Locker struct {
	cache *Cache
}

// NewLocker creates a Redis-backed lock.
func NewLocker(cache *Cache) *Locker {
	return &Locker{cache: cache}
}

// Acquire tries to take key for ttl. ok is false when another holder owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	owner := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, PrefixLock+key, owner, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if _, err := l.cache.DeleteIfEquals(ctx, PrefixLock+key, owner); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

var _ result.Locker = (*Locker)(nil)
