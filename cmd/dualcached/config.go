package main

import (
	"strings"

	"github.com/illmade-knight/go-dualcache/pkg/cache"
	"github.com/illmade-knight/go-dualcache/pkg/cacheserver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DUALCACHE"

// LoadConfig loads the config from defaults, the environment, flags and,
// when given, a config file.
func LoadConfig(cmd *cobra.Command, envPrefix string) (*cacheserver.Config, error) {
	v := viper.New()
	defaults := cache.DefaultConfig()

	// Setting defaults for this application. Every key needs a default for
	// AutomaticEnv to pick up its environment variable.
	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", ":8080")
	v.SetDefault("service_name", "dualcached")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("default_ttl", "0s")
	v.SetDefault("cache.kind", string(defaults.Kind))
	v.SetDefault("cache.memory.capacity", defaults.Memory.Capacity)
	v.SetDefault("cache.memory.single_flight", defaults.Memory.SingleFlight)
	v.SetDefault("cache.redis.addr", defaults.Redis.Addr)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 0)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", "")
	v.SetDefault("cache.redis.single_flight", false)
	v.SetDefault("cache.redis.lock_expiry", "0s")
	v.SetDefault("cache.redis.lock_tries", 0)
	v.SetDefault("cache.firestore.project_id", "")
	v.SetDefault("cache.firestore.collection_name", defaults.Firestore.CollectionName)
	v.SetDefault("cache.firestore.credentials_file", "")
	v.SetDefault("cache.firestore.single_flight", false)

	// Read Config from ENV
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	// Read Config from Flags
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	// Read Config from file
	if configFile, err := cmd.Flags().GetString("config-file"); err == nil && configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config cacheserver.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	kind, err := cache.ParseKind(string(config.Cache.Kind))
	if err != nil {
		return nil, err
	}
	config.Cache.Kind = kind

	return &config, nil
}
