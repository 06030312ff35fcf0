// Package redis keeps LearnPath's short-lived state: payment attempts,
// resolved sessions, revoked token IDs and result submission locks. It also
// carries the Pub/Sub channel that links the API server and the worker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key namespaces under Config.KeyPrefix.
const (
	PrefixPayment = "payment:attempt:"
	PrefixSession = "session:"
	PrefixRevoked = "revoked:"
	PrefixLock    = "lock:"
	ChannelEvents = "events"
)

var (
	ErrCacheMiss          = errors.New("cache: key not found")
	ErrCacheConnection    = errors.New("cache: connection failed")
	ErrCacheSerialization = errors.New("cache: serialization failed")
	ErrCacheInvalidTTL    = errors.New("cache: invalid TTL")
	ErrCacheKeyEmpty      = errors.New("cache: key cannot be empty")
	ErrCacheNilValue      = errors.New("cache: value cannot be nil")
)

type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeyPrefix is prepended to every key and channel.
	KeyPrefix string
}

func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "learnpath:",
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Cache stores JSON values under namespaced keys. Every write carries a TTL.
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache dials Redis and fails unless it answers within DialTimeout.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	c := NewCacheFromClient(client, cfg.KeyPrefix)

	ctx, cancel := context.WithTimeout(context.Background(), max(cfg.DialTimeout, time.Second))
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

func NewCacheFromClient(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return nil
}

// Key returns key under this cache's prefix.
func (c *Cache) Key(key string) string { return c.prefix + key }

func (c *Cache) keys(keys []string) []string {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	return full
}

func checkWrite(key string, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		return ErrCacheInvalidTTL
	}
	return nil
}

// Set stores value as JSON.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := checkWrite(key, ttl); err != nil {
		return err
	}
	if value == nil {
		return ErrCacheNilValue
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Set(ctx, c.Key(key), data, ttl).Err()
}

// Get decodes the value under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, c.Key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// Delete removes keys; absent keys are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, c.keys(keys)...).Err()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.Key(key)).Result()
	return n > 0, err
}

// SetNX writes value only when key is absent and reports whether it did.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := checkWrite(key, ttl); err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, c.Key(key), value, ttl).Result()
}

// releaseIfOwner deletes KEYS[1] only while it still holds ARGV[1].
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DeleteIfEquals removes key when its value is expected and reports whether
// it did.
func (c *Cache) DeleteIfEquals(ctx context.Context, key, expected string) (bool, error) {
	n, err := releaseIfOwner.Run(ctx, c.client, []string{c.Key(key)}, expected).Int()
	return n == 1, err
}

func (c *Cache) Publish(ctx context.Context, channel string, message []byte) error {
	return c.client.Publish(ctx, c.Key(channel), message).Err()
}

// Subscribe listens on the namespaced channels. The caller closes the PubSub.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, c.keys(channels)...)
}
