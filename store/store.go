// Package store defines the aggregate persistence interface. The job
// package owns the job-level contract; this composite adds lifecycle
// operations. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/browserq/browserq/job"
)

// Store is the aggregate persistence interface. A single backend
// implements the job contract plus lifecycle operations.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
