package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/illmade-knight/go-dualcache/pkg/codec"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis backend.
type RedisConfig struct {
	Addr        string        `yaml:"addr" mapstructure:"addr"`
	Password    string        `yaml:"password" mapstructure:"password"`
	DB          int           `yaml:"db" mapstructure:"db"`
	PoolSize    int           `yaml:"pool_size" mapstructure:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`

	// KeyPrefix is prepended to every key sent to Redis. Empty by default so
	// keys reach the store unchanged.
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`

	// SingleFlight coalesces concurrent GetOrAdd calls for the same key
	// within this process.
	SingleFlight bool `yaml:"single_flight" mapstructure:"single_flight"`
	// LockExpiry enables a Redlock mutex around population when positive, so
	// that only one process populates a key at a time.
	LockExpiry time.Duration `yaml:"lock_expiry" mapstructure:"lock_expiry"`
	// LockTries bounds lock acquisition attempts; zero uses the redsync default.
	LockTries int `yaml:"lock_tries" mapstructure:"lock_tries"`
}

// RedisCache is a generic Cache backed by Redis. Values cross the network in
// their codec encoding and expire on an absolute TTL set by the server.
//
// All calls share one go-redis client, whose connection pool is safe for
// concurrent use.
type RedisCache[V any] struct {
	client     redis.UniversalClient
	ownsClient bool
	codec      codec.Codec
	keyPrefix  string
	guard      populationGuard[V]
	logger     zerolog.Logger
	closeOnce  sync.Once
	closeErr   error
}

// NewRedisCache creates and connects a new generic RedisCache that owns its
// client. It pings the Redis server to ensure connectivity before returning.
func NewRedisCache[V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisCache[V], error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is required", ErrInvalidConfig)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	c := newRedisCache[V](rdb, cfg, logger)
	c.ownsClient = true
	return c, nil
}

// NewRedisCacheFromClient creates a RedisCache over a client shared with the
// rest of the application. Close does not close a shared client.
func NewRedisCacheFromClient[V any](
	client redis.UniversalClient,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisCache[V], error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg == nil {
		cfg = &RedisConfig{}
	}
	return newRedisCache[V](client, cfg, logger), nil
}

func newRedisCache[V any](client redis.UniversalClient, cfg *RedisConfig, logger zerolog.Logger) *RedisCache[V] {
	componentLogger := logger.With().Str("component", "RedisCache").Logger()

	var locker populationLock
	if cfg.LockExpiry > 0 {
		locker = &redsyncLock{
			rs:     redsync.New(goredis.NewPool(client)),
			prefix: "lock:" + cfg.KeyPrefix,
			expiry: cfg.LockExpiry,
			tries:  cfg.LockTries,
			logger: componentLogger,
		}
	}

	return &RedisCache[V]{
		client:    client,
		codec:     codec.Default,
		keyPrefix: cfg.KeyPrefix,
		guard:     newPopulationGuard[V](cfg.SingleFlight, locker, componentLogger),
		logger:    componentLogger,
	}
}

// WithCodec replaces the codec used for values. It must be called before the
// cache is shared between goroutines.
func (c *RedisCache[V]) WithCodec(cd codec.Codec) *RedisCache[V] {
	if cd != nil {
		c.codec = cd
	}
	return c
}

// Set encodes the value and stores it with an absolute TTL. A non-positive
// expiration stores the value without a TTL.
func (c *RedisCache[V]) Set(ctx context.Context, key string, value V, expiration time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	payload, err := c.codec.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to marshal data for caching.")
		return fmt.Errorf("failed to marshal data for %s: %w", key, err)
	}

	if err := c.client.Set(ctx, c.keyPrefix+key, payload, normalizeExpiration(expiration)).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to set data in Redis cache.")
		return fmt.Errorf("failed to set in redis for %s: %w", key, err)
	}

	c.logger.Debug().Str("key", key).Dur("expiration", expiration).Msg("Stored data in Redis cache.")
	return nil
}

// Get retrieves and decodes a value. Missing keys, Redis errors and payloads
// the codec rejects are all reported as not found.
func (c *RedisCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if key == "" {
		return zero, false
	}
	payload, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("Redis get failed, treating as cache miss.")
		}
		return zero, false
	}

	var value V
	if err := c.codec.Unmarshal(payload, &value); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Str("codec", c.codec.Name()).Msg("Failed to unmarshal cached data, treating as cache miss.")
		return zero, false
	}

	c.logger.Debug().Str("key", key).Msg("Redis cache hit.")
	return value, true
}

// Remove deletes the key from Redis.
func (c *RedisCache[V]) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to delete key from Redis cache.")
		return fmt.Errorf("redis del failed for key %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key is present. A failed check reports false.
func (c *RedisCache[V]) Exists(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	n, err := c.client.Exists(ctx, c.keyPrefix+key).Result()
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Redis exists failed, treating as absent.")
		return false
	}
	return n > 0
}

// GetOrAdd implements Cache.
func (c *RedisCache[V]) GetOrAdd(ctx context.Context, key string, populate Populate[V], expiration time.Duration) (V, error) {
	if key == "" {
		var zero V
		return zero, ErrEmptyKey
	}
	return c.guard.getOrAdd(ctx, c, key, populate, expiration)
}

// Expiration implements Cache.
func (c *RedisCache[V]) Expiration() ExpirationMode {
	return ExpirationAbsolute
}

// Close closes the Redis client connection if this cache owns it. Repeated
// calls return the result of the first.
func (c *RedisCache[V]) Close() error {
	c.closeOnce.Do(func() {
		if !c.ownsClient {
			return
		}
		c.logger.Info().Msg("Closing Redis client connection...")
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}

// redsyncLock is a Redlock mutex per key, held for the duration of a single
// population.
type redsyncLock struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
	tries  int
	logger zerolog.Logger
}

func (l *redsyncLock) lock(ctx context.Context, key string) (func(), error) {
	opts := []redsync.Option{redsync.WithExpiry(l.expiry)}
	if l.tries > 0 {
		opts = append(opts, redsync.WithTries(l.tries))
	}
	mutex := l.rs.NewMutex(l.prefix+key, opts...)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire population lock for %s: %w", key, err)
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); err != nil || !ok {
			l.logger.Warn().Err(err).Str("key", key).Msg("Failed to release population lock, it will be held until expiry.")
		}
	}, nil
}
