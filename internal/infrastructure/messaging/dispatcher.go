package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
	"github.com/learnpath/learnpath-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher registers named handlers on an event bus and wraps each with
// panic recovery, logging, retry with backoff and a dead letter queue for
// events that still fail after the last attempt.
type Dispatcher struct {
	bus         shared.EventSubscriber
	retryOpts   []retry.Option
	deadLetterQ *DeadLetterQueue
	logger      *logger.Logger
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	Bus shared.EventSubscriber

	// MaxAttempts per event and handler, including the first one.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// DeadLetterQueueSize is the max size of the DLQ (0 disables it).
	DeadLetterQueueSize int

	Logger *logger.Logger
}

// DefaultDispatcherConfig returns defaults for bus.
func DefaultDispatcherConfig(bus shared.EventSubscriber) DispatcherConfig {
	return DispatcherConfig{
		Bus:                 bus,
		MaxAttempts:         3,
		InitialBackoff:      200 * time.Millisecond,
		MaxBackoff:          5 * time.Second,
		DeadLetterQueueSize: 1000,
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	d := &Dispatcher{
		bus:    config.Bus,
		logger: config.Logger.Named("dispatcher"),
		retryOpts: []retry.Option{
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(config.InitialBackoff),
			retry.WithMaxDelay(config.MaxBackoff),
			// Validation and not-found failures will not improve on retry.
			retry.WithRetryIf(func(err error) bool {
				return !shared.IsValidation(err) && !shared.IsNotFound(err) && !errors.Is(err, ErrHandlerPanic)
			}),
		},
	}
	if config.DeadLetterQueueSize > 0 {
		d.deadLetterQ = NewDeadLetterQueue(config.DeadLetterQueueSize)
	}
	return d
}

// Register subscribes handler under name for eventType.
func (d *Dispatcher) Register(eventType shared.EventType, name string, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	return d.bus.Subscribe(eventType, d.wrap(name, handler))
}

func (d *Dispatcher) wrap(name string, handler shared.EventHandler) shared.EventHandler {
	log := d.logger.With(logger.String("handler", name))

	return func(event shared.Event) error {
		start := time.Now()
		attempts := 0

		err := retry.Do(context.Background(), func(context.Context) error {
			attempts++
			return safeCall(handler, event)
		}, append(d.retryOpts, retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying handler",
				logger.String("event_type", string(event.EventType())),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}))...)

		if err != nil {
			log.Error("handler failed",
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Int("attempts", attempts),
				logger.Err(err),
			)
			if d.deadLetterQ != nil {
				d.deadLetterQ.Add(DeadLetterEntry{
					Event:    event,
					Handler:  name,
					Error:    err.Error(),
					Attempts: attempts,
					FailedAt: time.Now().UTC(),
				})
			}
			return err
		}

		log.Debug("handler done",
			logger.String("event_type", string(event.EventType())),
			logger.Latency(time.Since(start)),
		)
		return nil
	}
}

func safeCall(handler shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return handler(event)
}

// DeadLetterQueue returns the DLQ, or nil when disabled.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is an event that exhausted its retries.
type DeadLetterEntry struct {
	Event    shared.Event
	Handler  string
	Error    string
	Attempts int
	FailedAt time.Time
}

// DeadLetterQueue is a bounded FIFO of failed events. The oldest entry is
// dropped when full.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a DLQ holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Size returns the number of entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}
