package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Kind selects the backend New constructs.
type Kind string

const (
	KindMemory    Kind = "memory"
	KindRedis     Kind = "redis"
	KindFirestore Kind = "firestore"
)

// ParseKind converts a configuration string into a Kind, ignoring case and
// surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMemory, KindRedis, KindFirestore:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Config holds the backend selection and each backend's settings. Only the
// section matching Kind is read.
type Config struct {
	Kind      Kind            `yaml:"kind" mapstructure:"kind"`
	Memory    InMemoryConfig  `yaml:"memory" mapstructure:"memory"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Firestore FirestoreConfig `yaml:"firestore" mapstructure:"firestore"`
}

// DefaultConfig returns a configuration for an unbounded in-memory cache.
func DefaultConfig() Config {
	return Config{
		Kind: KindMemory,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Firestore: FirestoreConfig{
			CollectionName: "cache",
		},
	}
}

// New creates the backend selected by cfg.Kind. The returned cache owns any
// connection it opened and releases it on Close.
func New[V any](ctx context.Context, cfg *Config, logger zerolog.Logger) (Cache[V], error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: cache config is required", ErrInvalidConfig)
	}
	switch cfg.Kind {
	case KindMemory:
		return NewInMemoryCache[V](&cfg.Memory, logger), nil

	case KindRedis:
		c, err := NewRedisCache[V](ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return c, nil

	case KindFirestore:
		c, err := NewFirestoreCache[V](ctx, &cfg.Firestore, logger)
		if err != nil {
			return nil, err
		}
		return c, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
