// Package circuitbreaker stops calling an outbound collaborator after a run of
// failures and lets trial calls through once a cooldown has passed.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling out while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned while every half-open trial slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings configure a breaker. Zero fields take the defaults noted below.
type Settings struct {
	Name string
	// MaxFailures is the run of consecutive failures that opens a closed
	// breaker. Default 5.
	MaxFailures int
	// Recoveries is the run of half-open successes that closes it again.
	// Default 1.
	Recoveries int
	// Cooldown is how long the breaker stays open. Default 30s.
	Cooldown time.Duration
	// MaxTrials bounds concurrent calls while half-open. Default 1.
	MaxTrials int
	// Counted reports whether err should count against the collaborator.
	// Nil counts every error.
	Counted func(error) bool
	// OnStateChange runs under the breaker lock and must not call back into it.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards one collaborator. Results of calls admitted before
// the latest state change are ignored.
type CircuitBreaker struct {
	s   Settings
	now func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int
	successes  int
	trials     int
	openedAt   time.Time
}

// New returns a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.Recoveries <= 0 {
		s.Recoveries = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.MaxTrials <= 0 {
		s.MaxTrials = 1
	}
	return &CircuitBreaker{s: s, now: time.Now}
}

// Execute calls fn unless the breaker refuses, and records the outcome.
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(generation, err)
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.cooldown()
	switch cb.state {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.trials >= cb.s.MaxTrials {
			return 0, ErrTooManyRequests
		}
		cb.trials++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(generation uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation {
		return
	}
	failed := err != nil && (cb.s.Counted == nil || cb.s.Counted(err))

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.s.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.trials--
		if failed {
			cb.transition(StateOpen)
			return
		}
		cb.successes++
		if cb.successes >= cb.s.Recoveries {
			cb.transition(StateClosed)
		}
	}
}

// cooldown moves an open breaker to half-open once Cooldown has elapsed.
func (cb *CircuitBreaker) cooldown() {
	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.s.Cooldown)) {
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.generation++
	cb.failures, cb.successes, cb.trials = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.s.OnStateChange != nil {
		cb.s.OnStateChange(cb.s.Name, from, to)
	}
}

// State reports the current state, applying any elapsed cooldown.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cooldown()
	return cb.state
}

// IsOpen is used by the readiness check.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

func (cb *CircuitBreaker) Name() string { return cb.s.Name }

// CertificationBreaker guards the certification endpoint, which recovers slowly.
func CertificationBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          "certification",
		MaxFailures:   3,
		Recoveries:    2,
		Cooldown:      time.Minute,
		MaxTrials:     1,
		OnStateChange: onStateChange,
	})
}

// MailBreaker guards the outbound mail provider.
func MailBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          "mail",
		MaxFailures:   5,
		Recoveries:    1,
		Cooldown:      30 * time.Second,
		MaxTrials:     2,
		OnStateChange: onStateChange,
	})
}
