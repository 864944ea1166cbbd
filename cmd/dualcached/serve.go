package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-dualcache/pkg/cache"
	"github.com/illmade-knight/go-dualcache/pkg/cacheserver"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start Server",
	RunE:  serve,
}

func init() {
	serveCmd.Flags().String("http_port", "", "Address the HTTP server listens on (eg :8080)")
	serveCmd.Flags().String("log_level", "", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, _ []string) error {
	config, err := LoadConfig(cmd, envPrefix)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(config.LogLevel, config.ServiceName)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, config, logger)
}

// service is a running cache server and the cache it serves.
type service struct {
	server *cacheserver.Server
	cache  cache.Cache[json.RawMessage]
	logger zerolog.Logger
}

// startService builds the configured cache and starts serving it.
func startService(ctx context.Context, config *cacheserver.Config, logger zerolog.Logger) (*service, error) {
	c, err := cache.New[json.RawMessage](ctx, &config.Cache, logger)
	if err != nil {
		logger.Error().Err(err).Str("kind", string(config.Cache.Kind)).Msg("Failed to create cache.")
		return nil, err
	}

	server := cacheserver.New(config, c, logger)
	if err := server.Start(); err != nil {
		_ = c.Close()
		return nil, err
	}
	logger.Info().
		Str("kind", string(config.Cache.Kind)).
		Str("expiration", c.Expiration().String()).
		Str("port", server.GetHTTPPort()).
		Msg("dualcached started.")

	return &service{server: server, cache: c, logger: logger}, nil
}

// stop shuts the server down and then closes the cache.
func (s *service) stop(ctx context.Context) error {
	shutdownErr := s.server.Shutdown(ctx)
	if err := s.cache.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing cache.")
		if shutdownErr == nil {
			return err
		}
	}
	return shutdownErr
}

// run serves until ctx is cancelled.
func run(ctx context.Context, config *cacheserver.Config, logger zerolog.Logger) error {
	svc, err := startService(ctx, config, logger)
	if err != nil {
		return err
	}

	<-ctx.Done()

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return svc.stop(shutdownCtx)
}

func newLogger(level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", service).Logger()
}
