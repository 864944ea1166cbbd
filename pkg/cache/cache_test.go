package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-dualcache/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// record is a structured value used to check round-trip fidelity.
type record struct {
	ID       string            `json:"id"`
	Count    int               `json:"count"`
	Labels   map[string]string `json:"labels,omitempty"`
	Optional *string           `json:"optional"`
}

// backendFactories builds fresh, empty caches of one backend for each test.
type backendFactories struct {
	strings             func(t *testing.T) cache.Cache[string]
	ints                func(t *testing.T) cache.Cache[int]
	records             func(t *testing.T) cache.Cache[record]
	singleFlightStrings func(t *testing.T) cache.Cache[string]
}

// runConformance checks the behaviour every backend must share.
func runConformance(t *testing.T, f backendFactories) {
	ctx := context.Background()

	t.Run("Get on a key never set is a miss", func(t *testing.T) {
		c := f.strings(t)

		value, found := c.Get(ctx, "never-set")

		assert.False(t, found)
		assert.Empty(t, value)
	})

	t.Run("Set then Get round-trips the value", func(t *testing.T) {
		// Arrange
		c := f.records(t)
		opt := "present"
		in := record{ID: "r-1", Count: 7, Labels: map[string]string{"env": "test"}, Optional: &opt}

		// Act
		require.NoError(t, c.Set(ctx, "record:1", in, time.Minute))
		out, found := c.Get(ctx, "record:1")

		// Assert
		require.True(t, found)
		assert.Equal(t, in, out)
	})

	t.Run("Set overwrites an existing entry", func(t *testing.T) {
		c := f.strings(t)

		require.NoError(t, c.Set(ctx, "a", "v1", cache.NoExpiration))
		require.NoError(t, c.Set(ctx, "a", "v2", cache.NoExpiration))
		value, found := c.Get(ctx, "a")

		require.True(t, found)
		assert.Equal(t, "v2", value)
	})

	t.Run("Stored zero values are found", func(t *testing.T) {
		ints := f.ints(t)
		strs := f.strings(t)

		require.NoError(t, ints.Set(ctx, "zero", 0, cache.NoExpiration))
		require.NoError(t, strs.Set(ctx, "empty", "", cache.NoExpiration))

		n, found := ints.Get(ctx, "zero")
		assert.True(t, found, "a stored zero must not read as a miss")
		assert.Equal(t, 0, n)

		s, found := strs.Get(ctx, "empty")
		assert.True(t, found, "a stored empty string must not read as a miss")
		assert.Equal(t, "", s)
	})

	t.Run("Non-positive expiration means no expiration", func(t *testing.T) {
		c := f.strings(t)

		require.NoError(t, c.Set(ctx, "zero-ttl", "kept", 0))
		require.NoError(t, c.Set(ctx, "negative-ttl", "kept", -5*time.Second))

		for _, key := range []string{"zero-ttl", "negative-ttl"} {
			value, found := c.Get(ctx, key)
			assert.True(t, found, "key %s should not expire immediately", key)
			assert.Equal(t, "kept", value)
		}
	})

	t.Run("Remove deletes and tolerates absent keys", func(t *testing.T) {
		c := f.strings(t)
		require.NoError(t, c.Set(ctx, "doomed", "v", cache.NoExpiration))

		require.NoError(t, c.Remove(ctx, "doomed"))
		require.NoError(t, c.Remove(ctx, "doomed"), "removing an absent key is not an error")
		require.NoError(t, c.Remove(ctx, "never-existed"))

		_, found := c.Get(ctx, "doomed")
		assert.False(t, found)
	})

	t.Run("Exists tracks the entry lifecycle", func(t *testing.T) {
		c := f.ints(t)

		assert.False(t, c.Exists(ctx, "missing"))
		require.NoError(t, c.Set(ctx, "missing", 1, cache.NoExpiration))
		assert.True(t, c.Exists(ctx, "missing"))
		require.NoError(t, c.Remove(ctx, "missing"))
		assert.False(t, c.Exists(ctx, "missing"))
	})

	t.Run("Empty keys are rejected on write and miss on read", func(t *testing.T) {
		c := f.strings(t)

		assert.ErrorIs(t, c.Set(ctx, "", "v", cache.NoExpiration), cache.ErrEmptyKey)
		_, err := c.GetOrAdd(ctx, "", func(context.Context) (string, error) { return "v", nil }, cache.NoExpiration)
		assert.ErrorIs(t, err, cache.ErrEmptyKey)

		_, found := c.Get(ctx, "")
		assert.False(t, found)
		assert.False(t, c.Exists(ctx, ""))
	})

	t.Run("GetOrAdd on an absent key populates exactly once", func(t *testing.T) {
		// Arrange
		c := f.strings(t)
		var calls atomic.Int32
		populate := func(context.Context) (string, error) {
			calls.Add(1)
			return "computed", nil
		}

		// Act
		value, err := c.GetOrAdd(ctx, "lazy", populate, time.Minute)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "computed", value)
		assert.Equal(t, int32(1), calls.Load())

		stored, found := c.Get(ctx, "lazy")
		require.True(t, found)
		assert.Equal(t, value, stored)
	})

	t.Run("GetOrAdd on a present key never populates", func(t *testing.T) {
		c := f.strings(t)
		require.NoError(t, c.Set(ctx, "present", "cached", cache.NoExpiration))

		value, err := c.GetOrAdd(ctx, "present", func(context.Context) (string, error) {
			t.Fatal("populate must not be called on a hit")
			return "", nil
		}, time.Minute)

		require.NoError(t, err)
		assert.Equal(t, "cached", value)
	})

	t.Run("GetOrAdd treats a stored zero value as a hit", func(t *testing.T) {
		c := f.ints(t)
		require.NoError(t, c.Set(ctx, "zero", 0, cache.NoExpiration))

		var calls atomic.Int32
		value, err := c.GetOrAdd(ctx, "zero", func(context.Context) (int, error) {
			calls.Add(1)
			return 99, nil
		}, cache.NoExpiration)

		require.NoError(t, err)
		assert.Equal(t, 0, value)
		assert.Zero(t, calls.Load())
	})

	t.Run("GetOrAdd propagates populate failures and writes nothing", func(t *testing.T) {
		// Arrange
		c := f.strings(t)
		sourceErr := errors.New("source is down")

		// Act
		_, err := c.GetOrAdd(ctx, "failing", func(context.Context) (string, error) {
			return "", sourceErr
		}, time.Minute)

		// Assert
		require.Error(t, err)
		assert.True(t, errors.Is(err, sourceErr))
		assert.False(t, c.Exists(ctx, "failing"), "a failed populate must not leave an entry")
	})

	t.Run("GetOrAdd requires a populate function", func(t *testing.T) {
		c := f.strings(t)

		_, err := c.GetOrAdd(ctx, "k", nil, cache.NoExpiration)

		assert.ErrorIs(t, err, cache.ErrNilPopulate)
	})

	t.Run("Concurrent GetOrAdd without single-flight may populate once per caller", func(t *testing.T) {
		// Arrange: every populate call blocks until all callers are inside
		// populate, which guarantees each of them observed the miss.
		const callers = 5
		c := f.strings(t)
		var calls atomic.Int32
		allIn := make(chan struct{})
		var closeOnce sync.Once

		populate := func(context.Context) (string, error) {
			if calls.Add(1) == callers {
				closeOnce.Do(func() { close(allIn) })
			}
			select {
			case <-allIn:
			case <-time.After(5 * time.Second):
			}
			return "herd", nil
		}

		// Act
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				value, err := c.GetOrAdd(ctx, "herd", populate, time.Minute)
				assert.NoError(t, err)
				assert.Equal(t, "herd", value)
			}()
		}
		wg.Wait()

		// Assert: the documented thundering-herd behaviour.
		assert.Equal(t, int32(callers), calls.Load())
	})

	t.Run("Concurrent GetOrAdd with single-flight populates exactly once", func(t *testing.T) {
		// Arrange
		const callers = 20
		c := f.singleFlightStrings(t)
		var calls atomic.Int32
		start := make(chan struct{})

		populate := func(context.Context) (string, error) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			return "once", nil
		}

		// Act
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				value, err := c.GetOrAdd(ctx, "flight", populate, time.Minute)
				assert.NoError(t, err)
				assert.Equal(t, "once", value)
			}()
		}
		close(start)
		wg.Wait()

		// Assert
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Close is idempotent", func(t *testing.T) {
		c := f.strings(t)

		assert.NoError(t, c.Close())
		assert.NoError(t, c.Close())
	})
}
