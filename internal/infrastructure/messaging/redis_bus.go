package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
	rediscache "github.com/learnpath/learnpath-core/internal/infrastructure/persistence/redis"
	"github.com/learnpath/learnpath-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBus fans events out over Redis Pub/Sub so that the API server and
// the worker see each other's events. Local handlers run for local events
// directly; remote events are decoded into their concrete types first.
type RedisEventBus struct {
	cache      *rediscache.Cache
	localBus   *InMemoryEventBus
	channel    string
	instanceID string
	logger     *logger.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	Cache *rediscache.Cache

	// Channel is the Pub/Sub channel (default: rediscache.ChannelEvents).
	Channel string

	// InstanceID identifies this process so its own events are not handled twice.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *logger.Logger
}

// NewRedisEventBus creates a Redis-backed event bus and starts listening.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Cache == nil {
		return nil, errors.New("redis cache is required")
	}
	if config.Channel == "" {
		config.Channel = rediscache.ChannelEvents
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := &RedisEventBus{
		cache:      config.Cache,
		localBus:   NewInMemoryEventBus(config.LocalBusConfig),
		channel:    config.Channel,
		instanceID: config.InstanceID,
		logger:     config.Logger.Named("redis_eventbus"),
		ctx:        ctx,
		cancel:     cancel,
	}

	pubsub := bus.cache.Subscribe(ctx, bus.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		defer pubsub.Close()
		bus.subscriptionLoop(pubsub.Channel())
	}()

	return bus, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish sends an event to Redis and to local handlers.
// A Redis failure is logged; local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := Encode(b.instanceID, event)
	if err != nil {
		return err
	}
	if err := b.cache.Publish(b.ctx, b.channel, data); err != nil {
		b.logger.Error("failed to publish to redis",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}

	return b.localBus.Publish(event)
}

func (b *RedisEventBus) subscriptionLoop(messages <-chan *goredis.Message) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handleRemote([]byte(msg.Payload))
		}
	}
}

func (b *RedisEventBus) handleRemote(raw []byte) {
	event, origin, err := Decode(raw)
	if origin == b.instanceID {
		return
	}
	if err != nil {
		b.logger.Warn("dropping undecodable event", logger.Err(err))
		return
	}
	if b.ctx.Err() != nil {
		return
	}
	if err := b.localBus.Publish(event); err != nil {
		b.logger.Error("failed to process remote event", logger.Err(err))
	}
}

// Close stops the listener and drains local handlers.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	return b.localBus.Close()
}

var _ shared.EventBus = (*RedisEventBus)(nil)
