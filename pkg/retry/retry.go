// Package retry runs outbound calls under an exponential backoff policy.
// Scheduling is delegated to cenkalti/backoff; this package decides which
// errors deserve another try and carries the presets for the certification
// endpoint, the mail provider and the database.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryableError marks a failure as transient.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks err as transient. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// Retrier holds one retry policy. It is safe for concurrent use; every Do
// starts from a fresh backoff schedule.
type Retrier struct {
	maxAttempts int
	initial     time.Duration
	maxDelay    time.Duration
	multiplier  float64
	jitter      float64
	retryIf     func(error) bool
	onRetry     func(attempt int, err error, delay time.Duration)
}

// Option adjusts a Retrier.
type Option func(*Retrier)

// WithMaxAttempts caps the number of calls, the first one included.
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithInitialDelay sets the wait before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.initial = d
		}
	}
}

// WithMaxDelay caps the wait between two calls.
func WithMaxDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d > 0 {
			r.maxDelay = d
		}
	}
}

// WithRetryIf replaces the default classifier, which only retries errors
// marked with Retryable.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.retryIf = fn
		}
	}
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

func withGrowth(multiplier, jitter float64) Option {
	return func(r *Retrier) {
		r.multiplier = multiplier
		r.jitter = jitter
	}
}

// New builds a Retrier: 3 attempts, 100ms doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		maxAttempts: 3,
		initial:     100 * time.Millisecond,
		maxDelay:    30 * time.Second,
		multiplier:  2.0,
		jitter:      0.1,
		retryIf:     IsRetryable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = r.maxDelay
	b.Multiplier = r.multiplier
	b.RandomizationFactor = r.jitter
	return b
}

// Do calls operation until it succeeds, returns an error the classifier
// rejects, or runs out of attempts. The returned error is the last one the
// operation produced with the Retryable mark removed. A context that ends
// before the first call yields the context error.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var last error
	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		attempt++
		err := operation(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		last = err
		if !r.retryIf(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(r.schedule()),
		backoff.WithMaxTries(uint(r.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if r.onRetry != nil {
				r.onRetry(attempt, err, delay)
			}
		}),
	)
	if err == nil {
		return nil
	}
	if last == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	if marked, ok := last.(*RetryableError); ok {
		return marked.Err
	}
	return last
}

// Do builds a one-off Retrier from opts and runs operation under it.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// CertificationRetrier is used for result handoffs. The endpoint is slow
// and rate limited.
func CertificationRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(4),
		WithInitialDelay(time.Second),
		WithMaxDelay(20*time.Second),
		withGrowth(2.0, 0.2),
		WithOnRetry(onRetry),
	)
}

// NotificationRetrier is used for outbound e-mail.
func NotificationRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(200*time.Millisecond),
		WithMaxDelay(5*time.Second),
		withGrowth(1.5, 0.1),
	)
}

// DatabaseRetrier is used while the pool is being opened.
func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		withGrowth(2.0, 0.05),
	)
}
