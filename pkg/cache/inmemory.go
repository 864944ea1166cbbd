// cache/inmemory.go
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

// InMemoryConfig holds configuration for the in-process backend.
type InMemoryConfig struct {
	// Capacity bounds the number of entries; the least recently used entry is
	// evicted when it is exceeded. Zero means unbounded.
	Capacity uint64 `yaml:"capacity" mapstructure:"capacity"`
	// SingleFlight coalesces concurrent GetOrAdd calls for the same key so
	// populate runs once per key at a time.
	SingleFlight bool `yaml:"single_flight" mapstructure:"single_flight"`
}

// InMemoryCache is a generic, thread-safe, in-process Cache. Values are kept
// as they are, without encoding, and expire on a sliding window: every Get
// that finds an entry pushes its expiry forward by the entry's own duration.
// Exists does not extend the window.
type InMemoryCache[V any] struct {
	store     *ttlcache.Cache[string, V]
	ownsStore bool
	guard     populationGuard[V]
	logger    zerolog.Logger
	closeOnce sync.Once
}

// NewInMemoryCache creates an in-memory cache with its own store and starts the
// store's expiry janitor. Close stops the janitor.
func NewInMemoryCache[V any](cfg *InMemoryConfig, logger zerolog.Logger) *InMemoryCache[V] {
	if cfg == nil {
		cfg = &InMemoryConfig{}
	}
	var opts []ttlcache.Option[string, V]
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, V](cfg.Capacity))
	}
	store := ttlcache.New[string, V](opts...)
	go store.Start()

	c := newInMemoryCache(store, cfg, logger)
	c.ownsStore = true
	c.logger.Debug().Uint64("capacity", cfg.Capacity).Msg("InMemoryCache initialized.")
	return c
}

// NewInMemoryCacheFromStore wraps an existing store. The caller keeps
// ownership of the store and its janitor; Close leaves both untouched. The
// store must have touch-on-hit enabled (the ttlcache default) for sliding
// expiration to hold.
func NewInMemoryCacheFromStore[V any](
	store *ttlcache.Cache[string, V],
	cfg *InMemoryConfig,
	logger zerolog.Logger,
) (*InMemoryCache[V], error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if cfg == nil {
		cfg = &InMemoryConfig{}
	}
	return newInMemoryCache(store, cfg, logger), nil
}

func newInMemoryCache[V any](store *ttlcache.Cache[string, V], cfg *InMemoryConfig, logger zerolog.Logger) *InMemoryCache[V] {
	componentLogger := logger.With().Str("component", "InMemoryCache").Logger()
	return &InMemoryCache[V]{
		store:  store,
		guard:  newPopulationGuard[V](cfg.SingleFlight, nil, componentLogger),
		logger: componentLogger,
	}
}

// Set stores the value with a sliding expiration of the given duration.
func (c *InMemoryCache[V]) Set(_ context.Context, key string, value V, expiration time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	ttl := ttlcache.NoTTL
	if d := normalizeExpiration(expiration); d != NoExpiration {
		ttl = d
	}
	c.store.Set(key, value, ttl)
	return nil
}

// Get returns the value for key and slides its expiration.
func (c *InMemoryCache[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V
	if key == "" {
		return zero, false
	}
	item := c.store.Get(key)
	if item == nil {
		c.logger.Debug().Str("key", key).Msg("Cache miss.")
		return zero, false
	}
	return item.Value(), true
}

// Remove deletes the entry for key if present.
func (c *InMemoryCache[V]) Remove(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// Exists reports whether a live entry is present without touching it.
func (c *InMemoryCache[V]) Exists(_ context.Context, key string) bool {
	if key == "" {
		return false
	}
	return c.store.Has(key)
}

// GetOrAdd implements Cache. The initial lookup slides an existing entry's
// expiration like any other Get.
func (c *InMemoryCache[V]) GetOrAdd(ctx context.Context, key string, populate Populate[V], expiration time.Duration) (V, error) {
	if key == "" {
		var zero V
		return zero, ErrEmptyKey
	}
	return c.guard.getOrAdd(ctx, c, key, populate, expiration)
}

// Expiration implements Cache.
func (c *InMemoryCache[V]) Expiration() ExpirationMode {
	return ExpirationSliding
}

// Len returns the number of entries held, including expired entries the
// janitor has not yet removed.
func (c *InMemoryCache[V]) Len() int {
	return c.store.Len()
}

// Close stops the store's janitor if this cache started it.
func (c *InMemoryCache[V]) Close() error {
	c.closeOnce.Do(func() {
		if c.ownsStore {
			c.store.Stop()
			c.logger.Debug().Msg("InMemoryCache store stopped.")
		}
	})
	return nil
}
