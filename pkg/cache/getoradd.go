package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// entryStore is the part of a backend that GetOrAdd composes.
type entryStore[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, expiration time.Duration) error
}

// populationLock is an advisory lock held while a single key is populated.
type populationLock interface {
	lock(ctx context.Context, key string) (unlock func(), err error)
}

// populationGuard runs the get-or-add algorithm for a backend. With neither
// a flight group nor a lock it is the plain check-then-set sequence.
type populationGuard[V any] struct {
	flight *singleflight.Group
	locker populationLock
	logger zerolog.Logger
}

func newPopulationGuard[V any](singleFlight bool, locker populationLock, logger zerolog.Logger) populationGuard[V] {
	g := populationGuard[V]{locker: locker, logger: logger}
	if singleFlight {
		g.flight = &singleflight.Group{}
	}
	return g
}

func (g *populationGuard[V]) getOrAdd(
	ctx context.Context,
	s entryStore[V],
	key string,
	populate Populate[V],
	expiration time.Duration,
) (V, error) {
	var zero V
	if populate == nil {
		return zero, ErrNilPopulate
	}
	if value, ok := s.Get(ctx, key); ok {
		return value, nil
	}

	if g.flight == nil {
		return g.populate(ctx, s, key, populate, expiration, false)
	}

	// The flight ignores caller cancellation; each caller stops waiting when
	// its own ctx is done. The flight re-checks the store because a previous
	// flight for the same key may have finished between our miss and DoChan.
	flightCtx := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(key, func() (any, error) {
		return g.populate(flightCtx, s, key, populate, expiration, true)
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			g.logger.Debug().Str("key", key).Msg("Joined in-flight population.")
		}
		value, _ := res.Val.(V)
		return value, res.Err
	}
}

func (g *populationGuard[V]) populate(
	ctx context.Context,
	s entryStore[V],
	key string,
	populate Populate[V],
	expiration time.Duration,
	recheck bool,
) (V, error) {
	var zero V
	if g.locker != nil {
		unlock, err := g.locker.lock(ctx, key)
		switch {
		case err == nil:
			defer unlock()
			recheck = true
		case ctx.Err() != nil:
			return zero, ctx.Err()
		default:
			g.logger.Warn().Err(err).Str("key", key).Msg("Population lock unavailable, populating without it.")
		}
	}

	if recheck {
		if value, ok := s.Get(ctx, key); ok {
			return value, nil
		}
	}

	value, err := populate(ctx)
	if err != nil {
		return zero, err
	}
	if err := s.Set(ctx, key, value, expiration); err != nil {
		return value, err
	}
	return value, nil
}
