package paygate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/learnpath/learnpath-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - keyed token bucket
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// BurstSize is how many codes may be tried back to back
	BurstSize int

	// RefillEvery adds one token per interval
	RefillEvery time.Duration

	// IdleTTL drops limiters not touched for this long
	IdleTTL time.Duration
}

// DefaultRateLimiterConfig returns defaults for verification code checks.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		BurstSize:   5,
		RefillEvery: time.Minute,
		IdleTTL:     30 * time.Minute,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one rate.Limiter per key. All calls pass the injected
// clock's time so tests can move it.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  RateLimiterConfig
	clock   timeutil.Clock
}

// NewRateLimiter creates a keyed limiter.
func NewRateLimiter(config RateLimiterConfig, clock timeutil.Clock) *RateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	if config.RefillEvery <= 0 {
		config.RefillEvery = time.Minute
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &RateLimiter{
		entries: make(map[string]*entry),
		config:  config,
		clock:   clock,
	}
}

// TryAllow takes a token for key. When none is available it returns false
// and the time until the next token.
func (rl *RateLimiter) TryAllow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.evictIdle(now)

	e, ok := rl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(rl.config.RefillEvery), rl.config.BurstSize)}
		rl.entries[key] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, rl.config.RefillEvery
	}
	if wait := r.DelayFrom(now); wait > 0 {
		// a rejected try keeps no reservation
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Reset forgets key, e.g. after a successful verification.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	if rl.config.IdleTTL <= 0 {
		return
	}
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) > rl.config.IdleTTL {
			delete(rl.entries, key)
		}
	}
}
