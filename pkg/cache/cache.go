// Package cache provides a backend-agnostic caching façade with an
// in-process backend and networked backends that share one contract for
// reads, writes, existence checks, removal and get-or-add.
//
// Reads fail open: a backend that cannot be reached, or a payload that cannot
// be decoded, is reported as a miss. Writes fail loud: Set and Remove return
// the backend error so callers can decide what a lost write means to them.
package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrEmptyKey is returned by writes given an empty key.
	ErrEmptyKey = errors.New("cache: key must not be empty")
	// ErrInvalidKey is returned by writes given a key the backend cannot store.
	ErrInvalidKey = errors.New("cache: key is not valid for this backend")
	// ErrNilPopulate is returned by GetOrAdd when no populate function is given.
	ErrNilPopulate = errors.New("cache: populate function cannot be nil")
	// ErrNilClient is returned when a backend is constructed without its client.
	ErrNilClient = errors.New("cache: client cannot be nil")
	// ErrNilStore is returned when a memory backend is constructed without its store.
	ErrNilStore = errors.New("cache: store cannot be nil")
	// ErrUnknownKind is returned by New for an unsupported backend kind.
	ErrUnknownKind = errors.New("cache: unknown backend kind")
	// ErrInvalidConfig is returned when a backend configuration is incomplete.
	ErrInvalidConfig = errors.New("cache: invalid configuration")
)

// NoExpiration stores an entry until it is removed or evicted.
const NoExpiration time.Duration = 0

// ExpirationMode reports how a backend applies an entry's expiration.
type ExpirationMode int

const (
	// ExpirationSliding resets the entry's lifetime on every successful Get,
	// including the lookup GetOrAdd performs before deciding to populate.
	ExpirationSliding ExpirationMode = iota + 1
	// ExpirationAbsolute fixes the entry's lifetime when it is written.
	ExpirationAbsolute
)

func (m ExpirationMode) String() string {
	switch m {
	case ExpirationSliding:
		return "sliding"
	case ExpirationAbsolute:
		return "absolute"
	default:
		return "unknown"
	}
}

// Populate computes the value for a key that GetOrAdd found missing.
type Populate[V any] func(ctx context.Context) (V, error)

// Cache is the façade every backend implements. Keys are non-empty strings
// compared byte for byte. An expiration of zero or less means the entry does
// not expire.
type Cache[V any] interface {
	// Set stores value under key, replacing any previous entry.
	Set(ctx context.Context, key string, value V, expiration time.Duration) error
	// Get returns the live value for key and whether it was found. Backend
	// and decoding failures are reported as not found.
	Get(ctx context.Context, key string) (V, bool)
	// Remove deletes the entry for key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Exists reports whether a live entry is present. Failures report false.
	Exists(ctx context.Context, key string) bool
	// GetOrAdd returns the cached value for key or, on a miss, the value
	// computed by populate after storing it. A populate error is returned
	// unchanged and nothing is written.
	//
	// Population is at most once per call. Unless the backend was built with
	// single-flight enabled, concurrent calls for the same absent key may each
	// populate, and the last write wins.
	GetOrAdd(ctx context.Context, key string, populate Populate[V], expiration time.Duration) (V, error)
	// Expiration reports whether the backend slides or fixes entry lifetimes.
	Expiration() ExpirationMode
	// Close releases connections the backend owns. It is safe to call more
	// than once; the cache must not be used afterwards.
	io.Closer
}

// normalizeExpiration maps every non-positive duration onto NoExpiration so
// that a negative value can never reach a store as "expire now" or, for
// go-redis, as KEEPTTL.
func normalizeExpiration(expiration time.Duration) time.Duration {
	if expiration <= 0 {
		return NoExpiration
	}
	return expiration
}
