package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/browserq/browserq/job"
)

// Ensure Store implements the job contract at compile time.
var _ job.Store = (*Store)(nil)

// Store is a Redis implementation of store.Store. Job records are JSON
// strings; per-status sets index them for list and count queries. The
// status compare-and-set runs server-side as a Lua script so the check
// and the write are one atomic step.
type Store struct {
	client *goredis.Client
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Redis store from an existing client.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Migrate is a no-op for the Redis store; there is no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
