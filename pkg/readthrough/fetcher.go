// Package readthrough resolves keys from a source of truth through a cache.
package readthrough

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/illmade-knight/go-dualcache/pkg/cache"
	"github.com/rs/zerolog"
)

// Fetcher is a generic function type for fetching data by a key.
type Fetcher[V any] func(ctx context.Context, key string) (V, error)

// SourceFetcher is a generic interface for a source of truth.
type SourceFetcher[V any] interface {
	Fetch(ctx context.Context, key string) (V, error)
	io.Closer
}

// SourceFunc adapts a plain function to a SourceFetcher with nothing to close.
type SourceFunc[V any] func(ctx context.Context, key string) (V, error)

func (f SourceFunc[V]) Fetch(ctx context.Context, key string) (V, error) { return f(ctx, key) }

func (f SourceFunc[V]) Close() error { return nil }

// Config holds configuration for the read-through fetcher.
type Config struct {
	// TTL is the expiration given to values loaded from the source. The
	// cache backend decides whether it is sliding or absolute.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// CacheFallbackFetcher serves keys from a cache and falls back to the source
// on a miss, storing what the source returns.
type CacheFallbackFetcher[V any] struct {
	ttl    time.Duration
	cache  cache.Cache[V]
	source SourceFetcher[V]
	logger zerolog.Logger
}

// New creates a CacheFallbackFetcher. A nil cfg uses no expiration.
func New[V any](
	c cache.Cache[V],
	source SourceFetcher[V],
	cfg *Config,
	logger zerolog.Logger,
) (*CacheFallbackFetcher[V], error) {
	if c == nil || source == nil {
		return nil, errors.New("cache and source cannot be nil")
	}
	var ttl time.Duration
	if cfg != nil {
		ttl = cfg.TTL
	}
	return &CacheFallbackFetcher[V]{
		ttl:    ttl,
		cache:  c,
		source: source,
		logger: logger.With().Str("component", "CacheFallbackFetcher").Logger(),
	}, nil
}

// sourceError marks a failure that came from the source rather than the cache.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

// Fetch returns the cached value for key, loading it from the source on a
// miss. A value the source returned is handed back even when storing it
// fails; the failure is only logged.
func (f *CacheFallbackFetcher[V]) Fetch(ctx context.Context, key string) (V, error) {
	var zero V
	value, err := f.cache.GetOrAdd(ctx, key, func(ctx context.Context) (V, error) {
		f.logger.Debug().Str("key", key).Msg("Cache miss. Falling back to source.")
		v, err := f.source.Fetch(ctx, key)
		if err != nil {
			return v, &sourceError{err: err}
		}
		return v, nil
	}, f.ttl)
	if err == nil {
		return value, nil
	}

	var srcErr *sourceError
	switch {
	case errors.As(err, &srcErr):
		f.logger.Error().Err(srcErr.err).Str("key", key).Msg("Error fetching from source.")
		return zero, fmt.Errorf("error fetching from source: %w", srcErr.err)
	case errors.Is(err, cache.ErrEmptyKey), ctx.Err() != nil:
		return zero, err
	default:
		f.logger.Error().Err(err).Str("key", key).Msg("Failed to write source value to cache.")
		return value, nil
	}
}

// Func returns Fetch as a plain Fetcher.
func (f *CacheFallbackFetcher[V]) Func() Fetcher[V] {
	return f.Fetch
}

// Close closes the cache and then the source.
func (f *CacheFallbackFetcher[V]) Close() error {
	if err := f.cache.Close(); err != nil {
		f.logger.Error().Err(err).Msg("Error closing cache.")
		return fmt.Errorf("error closing cache: %w", err)
	}
	if err := f.source.Close(); err != nil {
		f.logger.Error().Err(err).Msg("Error closing source.")
		return fmt.Errorf("error closing source: %w", err)
	}
	return nil
}
