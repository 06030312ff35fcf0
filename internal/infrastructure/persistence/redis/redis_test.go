package redis

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/domain/identity"
	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// offlineCache never dials: every call below fails before reaching Redis.
func offlineCache(t *testing.T) *Cache {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client, "learnpath:")
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, "learnpath:", cfg.KeyPrefix)
}

func TestCacheGuards(t *testing.T) {
	c := offlineCache(t)
	ctx := t.Context()

	assert.Equal(t, "learnpath:payment:attempt:enr-1", c.Key(PrefixPayment+"enr-1"))
	assert.ErrorIs(t, c.Set(ctx, "", "v", time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", "v", 0), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Get(ctx, "", &struct{}{}), ErrCacheKeyEmpty)

	_, err := c.SetNX(ctx, "k", "v", -time.Second)
	assert.ErrorIs(t, err, ErrCacheInvalidTTL)
	assert.NoError(t, c.Delete(ctx))

	// An expired token needs no revocation entry.
	assert.NoError(t, NewRevocationList(c).Revoke(ctx, "jti-1", 0))
}

func TestSessionKeyHidesToken(t *testing.T) {
	key := sessionKey("eyJhbGciOiJIUzI1NiJ9.secret")
	assert.True(t, strings.HasPrefix(key, PrefixSession))
	assert.NotContains(t, key, "secret")
	assert.Equal(t, key, sessionKey("eyJhbGciOiJIUzI1NiJ9.secret"))
	assert.NotEqual(t, key, sessionKey("other"))
}

// liveCache connects to LEARNPATH_TEST_REDIS_ADDR and skips without it.
// Keys live under a per-test prefix.
func liveCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("LEARNPATH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEARNPATH_TEST_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	c := NewCacheFromClient(client, "learnpath-test:"+uuid.NewString()+":")
	require.NoError(t, c.Ping(t.Context()))
	return c
}

func TestAttemptStore(t *testing.T) {
	store := NewAttemptStore(liveCache(t))
	ctx := t.Context()

	_, err := store.Get(ctx, "enr-1")
	require.ErrorIs(t, err, shared.ErrNoPaymentAttempt)

	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	a := payment.NewAttempt("enr-1", "learner-1", now)
	require.NoError(t, a.SubmitDetails(payment.MethodVisa,
		payment.Details{CardNumber: "4111111111111111", Expiry: "12/29", CVV: "123"}, now))
	require.NoError(t, a.Fail(now))
	require.NoError(t, store.Save(ctx, a, time.Minute))

	got, err := store.Get(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StepFailed, got.Step)
	assert.Equal(t, 1, got.Failures)
	assert.Equal(t, "1111", got.CardLast4)

	require.NoError(t, store.Delete(ctx, "enr-1"))
	require.NoError(t, store.Delete(ctx, "enr-1"))
	_, err = store.Get(ctx, "enr-1")
	assert.ErrorIs(t, err, shared.ErrNoPaymentAttempt)
}

func TestLocker(t *testing.T) {
	l := NewLocker(liveCache(t))
	ctx := t.Context()

	release, ok, err := l.Acquire(ctx, "result:res-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "result:res-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = l.Acquire(ctx, "result:res-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionCacheAndRevocation(t *testing.T) {
	c := liveCache(t)
	ctx := t.Context()

	sessions := NewSessionCache(c)
	addr, err := shared.NewEmail("lerato@example.test")
	require.NoError(t, err)
	id, err := identity.NewIdentity("id-1", identity.RoleLearner, addr, "Lerato", "Mokoena", time.Time{})
	require.NoError(t, err)

	require.NoError(t, sessions.Put(ctx, "token-1", id, time.Minute))
	got, err := sessions.Get(ctx, "token-1")
	require.NoError(t, err)
	assert.Equal(t, id.ID, got.ID)
	assert.Equal(t, identity.RoleLearner, got.Role)

	require.NoError(t, sessions.Evict(ctx, "token-1"))
	_, err = sessions.Get(ctx, "token-1")
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)

	revocations := NewRevocationList(c)
	revoked, err := revocations.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
	require.NoError(t, revocations.Revoke(ctx, "jti-1", time.Minute))
	revoked, err = revocations.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}
