// Package gateway implements the intake path: validate the submitted
// input, durably create the pending job record, and hand the job id to
// the dispatch queue. Acceptance is defined by the record existing; the
// submitter polls for the outcome later.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/backoff"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
	"github.com/browserq/browserq/queue"
)

// Gateway accepts scrape submissions.
type Gateway struct {
	store      job.Store
	dispatcher queue.Dispatcher
	logger     *slog.Logger
	backoff    backoff.Strategy
	retries    int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithBackoff sets the retry strategy for transient store failures.
func WithBackoff(s backoff.Strategy) Option {
	return func(g *Gateway) { g.backoff = s }
}

// WithRetries sets how many times a failed create is retried.
func WithRetries(n int) Option {
	return func(g *Gateway) { g.retries = n }
}

// New creates a Gateway over the given store and dispatcher.
func New(st job.Store, d queue.Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		store:      st,
		dispatcher: d,
		logger:     slog.Default(),
		backoff:    backoff.DefaultStrategy(),
		retries:    browserq.DefaultConfig().StoreRetries,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit validates the input, creates the pending job record, and
// enqueues its id. Validation failures return an error wrapping
// browserq.ErrInvalidInput and leave no record behind. The returned job
// is the snapshot as created (always StatusPending).
func (g *Gateway) Submit(ctx context.Context, in job.Input) (*job.Job, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.WaitUntil == "" {
		in.WaitUntil = job.WaitDOMContentLoaded
	}

	j := job.New(in)
	if err := g.create(ctx, j); err != nil {
		return nil, err
	}

	if err := g.dispatcher.Dispatch(ctx, j.ID); err != nil {
		// The record exists and is pending; the submitter gets an error
		// and may retry, producing a fresh job.
		g.logger.Error("job created but dispatch failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("dispatch job %s: %w", j.ID, err)
	}

	g.logger.Info("job accepted",
		slog.String("job_id", j.ID.String()),
		slog.String("url", in.URL),
	)
	return j, nil
}

// create writes the job record, retrying transient store failures with
// backoff. An id collision (astronomically unlikely with TypeIDs) gets
// one fresh id before giving up.
func (g *Gateway) create(ctx context.Context, j *job.Job) error {
	var lastErr error
	regenerated := false
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(g.backoff.Delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := g.store.CreateJob(ctx, j)
		if err == nil {
			return nil
		}
		if errors.Is(err, browserq.ErrJobAlreadyExists) {
			if regenerated {
				return fmt.Errorf("create job: %w", err)
			}
			regenerated = true
			j.ID = id.NewJobID()
			continue
		}
		lastErr = err
		g.logger.Warn("job create failed, retrying",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("create job after %d attempts: %w", g.retries+1, lastErr)
}

// Lookup returns the job record for the given id.
func (g *Gateway) Lookup(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return g.store.GetJob(ctx, jobID)
}

// List returns jobs filtered by status (empty status means all),
// newest first.
func (g *Gateway) List(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	return g.store.ListJobs(ctx, status, opts)
}

// Count returns the number of jobs with the given status (empty status
// counts all).
func (g *Gateway) Count(ctx context.Context, status job.Status) (int64, error) {
	return g.store.CountJobs(ctx, status)
}
