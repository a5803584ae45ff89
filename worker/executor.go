// Package worker provides the execution side of the job pipeline: an
// Executor that claims a job, drives the browser automation through
// middleware, and records the terminal outcome, plus a Pool that manages
// the worker goroutines, heartbeats, and stale-job reaping.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/backoff"
	"github.com/browserq/browserq/browser"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
	"github.com/browserq/browserq/middleware"
)

// Runner runs the browser automation for a claimed job. The returned
// session id names the remote browser session when one was acquired,
// even on failure. *browser.Scraper satisfies Runner.
type Runner interface {
	Run(ctx context.Context, in job.Input) (*browser.Result, string, error)
}

// Executor processes one job id at a time: claim, run, record.
type Executor struct {
	store    job.Store
	runner   Runner
	workerID id.WorkerID
	backoff  backoff.Strategy
	retries  int
	mw       middleware.Middleware
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger. Defaults to slog.Default.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithExecutorBackoff sets the retry strategy for terminal store writes.
func WithExecutorBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithExecutorRetries sets how many times a failed terminal write is
// retried. The claim itself is never retried.
func WithExecutorRetries(n int) ExecutorOption {
	return func(e *Executor) { e.retries = n }
}

// WithMiddleware sets the middleware chain wrapped around the run.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// NewExecutor creates an Executor for the given worker identity.
func NewExecutor(st job.Store, runner Runner, workerID id.WorkerID, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:    st,
		runner:   runner,
		workerID: workerID,
		backoff:  backoff.DefaultStrategy(),
		retries:  browserq.DefaultConfig().StoreRetries,
		mw:       middleware.Chain(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute claims and runs the job with the given id.
//
// The claim is a compare-and-set from PENDING to RUNNING. Losing the
// claim (another worker got there first, or the job is already terminal)
// is a normal outcome of redelivery: the executor exits silently without
// touching the record. A missing record is logged and dropped.
func (e *Executor) Execute(ctx context.Context, jobID id.JobID) error {
	claimed, err := e.store.TransitionJob(ctx, jobID,
		job.StatusPending, job.StatusRunning,
		job.Patch{WorkerID: e.workerID})
	if err != nil {
		switch {
		case errors.Is(err, browserq.ErrStatusConflict):
			e.logger.Debug("claim lost, skipping job",
				slog.String("job_id", jobID.String()),
			)
			return nil
		case errors.Is(err, browserq.ErrJobNotFound):
			e.logger.Warn("dispatched job has no record",
				slog.String("job_id", jobID.String()),
			)
			return nil
		default:
			return fmt.Errorf("claim job %s: %w", jobID, err)
		}
	}

	var (
		result    *browser.Result
		sessionID string
	)
	terminal := func(ctx context.Context) error {
		var runErr error
		result, sessionID, runErr = e.runner.Run(ctx, claimed.Input)
		return runErr
	}

	runErr := e.mw(ctx, claimed, terminal)
	if runErr == nil {
		data, merr := json.Marshal(result)
		if merr != nil {
			runErr = fmt.Errorf("encode result: %w", merr)
		} else {
			return e.finish(ctx, jobID, job.StatusSucceeded,
				job.Patch{Result: data, SessionID: sessionID})
		}
	}

	return e.finish(ctx, jobID, job.StatusFailed,
		job.Patch{Failure: classify(runErr), SessionID: sessionID})
}

// finish records the terminal status with bounded retries. A status
// conflict means the reaper already failed the job while this worker was
// finishing; the late result is dropped, not overwritten.
func (e *Executor) finish(ctx context.Context, jobID id.JobID, to job.Status, patch job.Patch) error {
	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.backoff.Delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		_, err := e.store.TransitionJob(ctx, jobID, job.StatusRunning, to, patch)
		if err == nil {
			e.logger.Info("job finished",
				slog.String("job_id", jobID.String()),
				slog.String("status", string(to)),
			)
			return nil
		}
		if errors.Is(err, browserq.ErrStatusConflict) {
			e.logger.Warn("terminal write lost, job already finalized",
				slog.String("job_id", jobID.String()),
				slog.String("attempted_status", string(to)),
			)
			return nil
		}
		lastErr = err
		e.logger.Warn("terminal write failed, retrying",
			slog.String("job_id", jobID.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("record %s for job %s after %d attempts: %w",
		to, jobID, e.retries+1, lastErr)
}

// classify maps a run error to the recorded failure code.
func classify(err error) *job.Failure {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &job.Failure{Code: job.FailureTimeout, Message: err.Error()}
	case errors.Is(err, browserq.ErrSessionFailed):
		return &job.Failure{Code: job.FailureSession, Message: err.Error()}
	default:
		return &job.Failure{Code: job.FailureAutomation, Message: err.Error()}
	}
}
