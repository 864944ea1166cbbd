// Package cacheserver exposes a cache.Cache of JSON documents over HTTP.
package cacheserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-dualcache/pkg/cache"
	"github.com/illmade-knight/go-dualcache/pkg/microservice"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds the size of a stored document.
const maxBodyBytes = 1 << 20

// RequestIDHeader carries the id assigned to each request.
const RequestIDHeader = "X-Request-ID"

// Config holds the configuration for the cache server.
type Config struct {
	microservice.BaseConfig `yaml:",inline" mapstructure:",squash"`

	// DefaultTTL applies to PUTs without a ttl query parameter.
	DefaultTTL time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	Cache      cache.Config  `yaml:"cache" mapstructure:"cache"`
}

// Server serves GET, HEAD, PUT and DELETE on /cache/{key}.
type Server struct {
	*microservice.BaseServer
	cache      cache.Cache[json.RawMessage]
	defaultTTL time.Duration
	logger     zerolog.Logger
}

var _ microservice.Service = (*Server)(nil)

// New creates a Server over c. The server does not own c.
func New(cfg *Config, c cache.Cache[json.RawMessage], logger zerolog.Logger) *Server {
	serverLogger := logger.With().Str("component", "CacheServer").Logger()
	s := &Server{
		BaseServer: microservice.NewBaseServer(serverLogger, cfg.HTTPPort),
		cache:      c,
		defaultTTL: cfg.DefaultTTL,
		logger:     serverLogger,
	}
	s.Mux().HandleFunc("GET /cache/{key...}", s.handleGet)
	s.Mux().HandleFunc("HEAD /cache/{key...}", s.handleHead)
	s.Mux().HandleFunc("PUT /cache/{key...}", s.handlePut)
	s.Mux().HandleFunc("DELETE /cache/{key...}", s.handleDelete)
	s.SetHandler(s.withRequestID)
	return s
}

// Handler returns the routed handler, for use without a listener.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.Mux())
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		logger := s.logger.With().Str("request_id", id).Logger()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context())))

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Handled request.")
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, found := s.cache.Get(r.Context(), key)
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(value)
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	if !s.cache.Exists(r.Context(), r.PathValue("key")) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	ttl, err := s.parseTTL(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body must be valid JSON", http.StatusBadRequest)
		return
	}

	if err := s.cache.Set(r.Context(), key, json.RawMessage(body), ttl); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Remove(r.Context(), r.PathValue("key")); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) parseTTL(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("ttl")
	if raw == "" {
		return s.defaultTTL, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: %w", raw, err)
	}
	return ttl, nil
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, cache.ErrEmptyKey) || errors.Is(err, cache.ErrInvalidKey) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("key", r.PathValue("key")).Msg("Cache write failed.")
	http.Error(w, "cache unavailable", http.StatusInternalServerError)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
