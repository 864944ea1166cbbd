package main

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-dualcache/pkg/cache"
	"github.com/illmade-knight/go-dualcache/pkg/cacheserver"
	"github.com/illmade-knight/go-dualcache/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartService_ServesConfiguredBackend(t *testing.T) {
	// Arrange
	mr := miniredis.RunT(t)
	config := &cacheserver.Config{
		BaseConfig: microservice.BaseConfig{HTTPPort: "127.0.0.1:0"},
		DefaultTTL: time.Hour,
		Cache:      cache.DefaultConfig(),
	}
	config.Cache.Kind = cache.KindRedis
	config.Cache.Redis.Addr = mr.Addr()
	config.Cache.Redis.KeyPrefix = "svc:"

	svc, err := startService(context.Background(), config, zerolog.Nop())
	require.NoError(t, err)

	// Act
	req, err := http.NewRequest(http.MethodPut, "http://127.0.0.1"+svc.server.GetHTTPPort()+"/cache/greeting", strings.NewReader(`{"text":"hello"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	// Assert
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, mr.Exists("svc:greeting"))
	assert.Equal(t, time.Hour, mr.TTL("svc:greeting"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.stop(ctx))
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	config := &cacheserver.Config{
		BaseConfig: microservice.BaseConfig{HTTPPort: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Cache:      cache.DefaultConfig(),
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, config, zerolog.Nop()) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRun_FailsOnBadBackend(t *testing.T) {
	config := &cacheserver.Config{Cache: cache.Config{Kind: "memcached"}}

	err := run(context.Background(), config, zerolog.Nop())

	assert.ErrorIs(t, err, cache.ErrUnknownKind)
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger("debug", "svc").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger("", "svc").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger("nonsense", "svc").GetLevel())
}
