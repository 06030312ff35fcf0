package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// AttemptStore keeps in-flight payment attempts as JSON with a TTL.
// An expired attempt is indistinguishable from one that never existed.
type AttemptStore struct {
	cache *Cache
}

// NewAttemptStore creates a payment.AttemptStore backed by Redis.
func NewAttemptStore(cache *Cache) *AttemptStore {
	return &AttemptStore{cache: cache}
}

// Save writes the attempt, replacing any previous one for the enrollment.
func (s *AttemptStore) Save(ctx context.Context, attempt *payment.Attempt, ttl time.Duration) error {
	if err := s.cache.Set(ctx, PrefixPayment+attempt.EnrollmentID, attempt, ttl); err != nil {
		return fmt.Errorf("save payment attempt: %w", err)
	}
	return nil
}

// Get returns the attempt or shared.ErrNoPaymentAttempt.
func (s *AttemptStore) Get(ctx context.Context, enrollmentID string) (*payment.Attempt, error) {
	var attempt payment.Attempt
	if err := s.cache.Get(ctx, PrefixPayment+enrollmentID, &attempt); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrNoPaymentAttempt
		}
		return nil, fmt.Errorf("get payment attempt: %w", err)
	}
	return &attempt, nil
}

// Delete discards the attempt. Deleting a missing attempt is not an error.
func (s *AttemptStore) Delete(ctx context.Context, enrollmentID string) error {
	if err := s.cache.Delete(ctx, PrefixPayment+enrollmentID); err != nil {
		return fmt.Errorf("delete payment attempt: %w", err)
	}
	return nil
}

var _ payment.AttemptStore = (*AttemptStore)(nil)
