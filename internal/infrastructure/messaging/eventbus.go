// Package messaging delivers domain events to in-process handlers and, when
// Redis is configured, between the API server and the worker.
package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

var (
	ErrEventBusClosed    = errors.New("event bus is closed")
	ErrHandlerPanic      = errors.New("handler panicked")
	ErrEventNotSupported = errors.New("event type not supported")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-PROCESS BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures an InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// Async runs every delivery on its own goroutine; Publish returns before
	// handlers finish.
	Async bool
	// Workers bounds concurrent async deliveries. Default 10.
	Workers int64
	Logger  *logger.Logger
}

func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{Async: true, Workers: 10}
}

// BusStats counts deliveries since the bus was created.
type BusStats struct {
	Published int64
	Delivered int64
	Failed    int64
}

// InMemoryEventBus implements shared.EventBus inside one process. Handler
// errors and panics are logged and never reach the publisher.
type InMemoryEventBus struct {
	async   bool
	workers *semaphore.Weighted
	log     *logger.Logger

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	// stop is cancelled by Close; queued async deliveries are dropped.
	stop     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	published, delivered, failed atomic.Int64
}

func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Workers <= 0 {
		config.Workers = 10
	}
	stop, cancel := context.WithCancel(context.Background())
	return &InMemoryEventBus{
		async:   config.Async,
		workers: semaphore.NewWeighted(config.Workers),
		log:     config.Logger.Named("eventbus"),
		byType:  make(map[shared.EventType][]shared.EventHandler),
		stop:    stop,
		cancel:  cancel,
	}
}

func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(handler, func() { b.byType[eventType] = append(b.byType[eventType], handler) })
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(handler, func() { b.wildcard = append(b.wildcard, handler) })
}

func (b *InMemoryEventBus) add(handler shared.EventHandler, register func()) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	register()
	return nil
}

// Publish hands event to its subscribers. In synchronous mode every handler
// has run when Publish returns.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := append(append([]shared.EventHandler(nil), b.byType[event.EventType()]...), b.wildcard...)
	if b.async {
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, handler := range targets {
		if !b.async {
			b.deliver(event, handler)
			continue
		}
		go func(handler shared.EventHandler) {
			defer b.inflight.Done()
			if err := b.workers.Acquire(b.stop, 1); err != nil {
				b.log.Debug("delivery dropped on close", logger.String("event_type", string(event.EventType())))
				return
			}
			defer b.workers.Release(1)
			b.deliver(event, handler)
		}(handler)
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, handler shared.EventHandler) {
	err := safeCall(handler, event)
	if err == nil {
		b.delivered.Add(1)
		return
	}
	b.failed.Add(1)
	b.log.Error("event handler failed",
		logger.String("event_type", string(event.EventType())),
		logger.String("aggregate_id", event.AggregateID()),
		logger.Err(err),
	)
}

// Drain waits for async deliveries already started.
func (b *InMemoryEventBus) Drain() { b.inflight.Wait() }

// Stats returns the delivery counters.
func (b *InMemoryEventBus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
	}
}

// Close refuses new work, drops queued async deliveries and waits for
// running ones.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.inflight.Wait()
	b.log.Info("event bus closed")
	return nil
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
