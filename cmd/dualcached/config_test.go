package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-dualcache/pkg/cache"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringP("config-file", "c", "", "")
	cmd.Flags().String("http_port", "", "")
	cmd.Flags().String("log_level", "", "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig(newTestCommand(t), "DUALCACHE_TEST_DEFAULTS")

	require.NoError(t, err)
	assert.Equal(t, ":8080", config.HTTPPort)
	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, cache.KindMemory, config.Cache.Kind)
	assert.Equal(t, "localhost:6379", config.Cache.Redis.Addr)
	assert.Equal(t, 5*time.Second, config.Cache.Redis.DialTimeout)
	assert.Equal(t, 10*time.Second, config.ShutdownTimeout)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("DUALCACHE_TEST_ENV_CACHE_KIND", "Redis")
	t.Setenv("DUALCACHE_TEST_ENV_CACHE_REDIS_ADDR", "redis:6379")
	t.Setenv("DUALCACHE_TEST_ENV_CACHE_REDIS_LOCK_EXPIRY", "3s")
	t.Setenv("DUALCACHE_TEST_ENV_DEFAULT_TTL", "90s")

	config, err := LoadConfig(newTestCommand(t), "DUALCACHE_TEST_ENV")

	require.NoError(t, err)
	assert.Equal(t, cache.KindRedis, config.Cache.Kind)
	assert.Equal(t, "redis:6379", config.Cache.Redis.Addr)
	assert.Equal(t, 3*time.Second, config.Cache.Redis.LockExpiry)
	assert.Equal(t, 90*time.Second, config.DefaultTTL)
}

func TestLoadConfig_FileAndFlags(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http_port: ":9000"
log_level: debug
cache:
  kind: memory
  memory:
    capacity: 500
    single_flight: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// Act
	config, err := LoadConfig(newTestCommand(t, "-c", path, "--http_port", ":9100"), "DUALCACHE_TEST_FILE")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ":9100", config.HTTPPort, "flags take precedence over the file")
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, uint64(500), config.Cache.Memory.Capacity)
	assert.True(t, config.Cache.Memory.SingleFlight)
}

func TestLoadConfig_UnknownKind(t *testing.T) {
	t.Setenv("DUALCACHE_TEST_KIND_CACHE_KIND", "memcached")

	_, err := LoadConfig(newTestCommand(t), "DUALCACHE_TEST_KIND")

	assert.ErrorIs(t, err, cache.ErrUnknownKind)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(newTestCommand(t, "-c", filepath.Join(t.TempDir(), "absent.yaml")), "DUALCACHE_TEST_MISSING")

	assert.Error(t, err)
}
