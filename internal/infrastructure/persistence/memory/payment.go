package memory

import (
	"context"
	"sync"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/notification"
	"github.com/learnpath/learnpath-core/internal/domain/payment"
	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// AttemptStore implements payment.AttemptStore with expiry by clock.
type AttemptStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]attemptEntry
}

type attemptEntry struct {
	attempt   payment.Attempt
	expiresAt time.Time
}

// NewAttemptStore creates an empty store. now may be nil.
func NewAttemptStore(now func() time.Time) *AttemptStore {
	if now == nil {
		now = time.Now
	}
	return &AttemptStore{clock: now, entries: make(map[string]attemptEntry)}
}

func (s *AttemptStore) Save(_ context.Context, a *payment.Attempt, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[a.EnrollmentID] = attemptEntry{attempt: *a, expiresAt: s.clock().Add(ttl)}
	return nil
}

func (s *AttemptStore) Get(_ context.Context, enrollmentID string) (*payment.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[enrollmentID]
	if !ok {
		return nil, shared.ErrNoPaymentAttempt
	}
	if !s.clock().Before(e.expiresAt) {
		delete(s.entries, enrollmentID)
		return nil, shared.ErrNoPaymentAttempt
	}
	cp := e.attempt
	return &cp, nil
}

func (s *AttemptStore) Delete(_ context.Context, enrollmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, enrollmentID)
	return nil
}

// Outbox implements notification.Sender by recording messages.
type Outbox struct {
	mu       sync.Mutex
	messages []notification.Message
	clock    func() time.Time

	// Err, when set, is returned by Send.
	Err error
}

// NewOutbox creates an empty outbox. now may be nil.
func NewOutbox(now func() time.Time) *Outbox {
	if now == nil {
		now = time.Now
	}
	return &Outbox{clock: now}
}

func (o *Outbox) Send(_ context.Context, msg notification.Message) (notification.DeliveryResult, error) {
	if o.Err != nil {
		return notification.DeliveryResult{Retryable: true}, o.Err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return notification.DeliveryResult{StatusCode: 202, DeliveredAt: o.clock()}, nil
}

// Messages returns a copy of the sent messages.
func (o *Outbox) Messages() []notification.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notification.Message(nil), o.messages...)
}

var (
	_ payment.AttemptStore = (*AttemptStore)(nil)
	_ notification.Sender  = (*Outbox)(nil)
)
