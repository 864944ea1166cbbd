package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-dualcache/pkg/codec"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore backend.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	CollectionName  string `yaml:"collection_name" mapstructure:"collection_name"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	SingleFlight    bool   `yaml:"single_flight" mapstructure:"single_flight"`
}

// firestoreEntry is the document stored per key. ExpiresAt is the field a
// Firestore TTL policy should be configured on; reads enforce it regardless.
type firestoreEntry struct {
	Payload   string     `firestore:"payload"`
	ExpiresAt *time.Time `firestore:"expiresAt,omitempty"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
}

func (e *firestoreEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// ALLOW FIRESTORE TO BE USED IN LOW VOLUME DEPLOYMENTS
// don't use it like this in high volume deployments - that's what redis is for.

// FirestoreCache is a Cache that keeps one document per key. Values are stored
// in their codec encoding with an absolute expiration.
type FirestoreCache[V any] struct {
	client     *firestore.Client
	ownsClient bool
	collection string
	codec      codec.Codec
	guard      populationGuard[V]
	logger     zerolog.Logger
	now        func() time.Time
	closeOnce  sync.Once
	closeErr   error
}

// NewFirestoreCache creates a Firestore client for cfg.ProjectID and a cache
// that owns it. FIRESTORE_EMULATOR_HOST is honoured by the client.
func NewFirestoreCache[V any](
	ctx context.Context,
	cfg *FirestoreConfig,
	logger zerolog.Logger,
) (*FirestoreCache[V], error) {
	if cfg == nil || cfg.ProjectID == "" || cfg.CollectionName == "" {
		return nil, fmt.Errorf("%w: firestore project id and collection name are required", ErrInvalidConfig)
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	c := newFirestoreCache[V](client, cfg, logger)
	c.ownsClient = true
	return c, nil
}

// NewFirestoreCacheFromClient creates a FirestoreCache over an existing
// client. The client's lifecycle is managed externally.
func NewFirestoreCacheFromClient[V any](
	client *firestore.Client,
	cfg *FirestoreConfig,
	logger zerolog.Logger,
) (*FirestoreCache[V], error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, fmt.Errorf("%w: firestore collection name is required", ErrInvalidConfig)
	}
	return newFirestoreCache[V](client, cfg, logger), nil
}

func newFirestoreCache[V any](client *firestore.Client, cfg *FirestoreConfig, logger zerolog.Logger) *FirestoreCache[V] {
	componentLogger := logger.With().Str("component", "FirestoreCache").Logger()
	componentLogger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreCache initialized.")
	return &FirestoreCache[V]{
		client:     client,
		collection: cfg.CollectionName,
		codec:      codec.Default,
		guard:      newPopulationGuard[V](cfg.SingleFlight, nil, componentLogger),
		logger:     componentLogger,
		now:        time.Now,
	}
}

// validDocumentID reports whether key can be used as a Firestore document ID.
func validDocumentID(key string) bool {
	if key == "" || key == "." || key == ".." || strings.Contains(key, "/") {
		return false
	}
	if len(key) > 1500 {
		return false
	}
	return !(strings.HasPrefix(key, "__") && strings.HasSuffix(key, "__"))
}

func (c *FirestoreCache[V]) doc(key string) *firestore.DocumentRef {
	return c.client.Collection(c.collection).Doc(key)
}

// fetch returns the live entry for key, or nil when there is none or it
// cannot be read.
func (c *FirestoreCache[V]) fetch(ctx context.Context, key string) *firestoreEntry {
	if !validDocumentID(key) {
		return nil
	}
	snap, err := c.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			c.logger.Warn().Err(err).Str("key", key).Msg("Firestore get failed, treating as cache miss.")
		}
		return nil
	}
	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to map Firestore document data, treating as cache miss.")
		return nil
	}
	if entry.expired(c.now()) {
		c.logger.Debug().Str("key", key).Msg("Firestore entry expired.")
		return nil
	}
	return &entry
}

// Set encodes the value and writes it, replacing any existing document.
func (c *FirestoreCache[V]) Set(ctx context.Context, key string, value V, expiration time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if !validDocumentID(key) {
		return fmt.Errorf("%w: %q is not a valid firestore document id", ErrInvalidKey, key)
	}
	payload, err := c.codec.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to marshal data for caching.")
		return fmt.Errorf("failed to marshal data for %s: %w", key, err)
	}

	now := c.now()
	entry := firestoreEntry{Payload: string(payload), UpdatedAt: now}
	if d := normalizeExpiration(expiration); d != NoExpiration {
		expiresAt := now.Add(d)
		entry.ExpiresAt = &expiresAt
	}

	if _, err := c.doc(key).Set(ctx, entry); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", key, err)
	}
	c.logger.Debug().Str("key", key).Msg("Successfully wrote data to Firestore.")
	return nil
}

// Get reads and decodes the document for key.
func (c *FirestoreCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	entry := c.fetch(ctx, key)
	if entry == nil {
		return zero, false
	}
	var value V
	if err := c.codec.Unmarshal([]byte(entry.Payload), &value); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Str("codec", c.codec.Name()).Msg("Failed to unmarshal cached data, treating as cache miss.")
		return zero, false
	}
	return value, true
}

// Remove deletes the document for key.
func (c *FirestoreCache[V]) Remove(ctx context.Context, key string) error {
	if !validDocumentID(key) {
		return nil
	}
	if _, err := c.doc(key).Delete(ctx); err != nil {
		// It's often acceptable to ignore "not found" errors on delete.
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("firestore delete failed for key %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a live document exists for key.
func (c *FirestoreCache[V]) Exists(ctx context.Context, key string) bool {
	return c.fetch(ctx, key) != nil
}

// GetOrAdd implements Cache.
func (c *FirestoreCache[V]) GetOrAdd(ctx context.Context, key string, populate Populate[V], expiration time.Duration) (V, error) {
	if key == "" {
		var zero V
		return zero, ErrEmptyKey
	}
	return c.guard.getOrAdd(ctx, c, key, populate, expiration)
}

// Expiration implements Cache.
func (c *FirestoreCache[V]) Expiration() ExpirationMode {
	return ExpirationAbsolute
}

// Close closes the Firestore client if this cache created it.
func (c *FirestoreCache[V]) Close() error {
	c.closeOnce.Do(func() {
		if !c.ownsClient {
			c.logger.Info().Msg("FirestoreCache does not close the injected Firestore client.")
			return
		}
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}
