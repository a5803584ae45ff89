package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
	"github.com/browserq/browserq/queue"
)

// Pool manages a set of concurrent worker goroutines that receive job
// ids from the queue and execute them, plus the heartbeat and reaper
// loops that recover from crashed workers.
type Pool struct {
	store    job.Store
	source   queue.Source
	executor *Executor
	workerID id.WorkerID
	logger   *slog.Logger

	concurrency       int
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration
	limiter           *queue.Limiter

	stopCh      chan struct{}
	receiveCtx  context.Context
	stopReceive context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool

	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithHeartbeatInterval sets how often the pool refreshes heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the threshold after which running jobs
// without a heartbeat are failed with code worker_lost. A zero value
// disables the reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithLimiter sets dequeue rate limiting and a concurrency cap on top of
// the goroutine count.
func WithLimiter(l *queue.Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithPoolLogger sets the logger. Defaults to slog.Default.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates a worker pool. The executor must carry the same
// worker id so heartbeats and claims agree on the claimant.
func NewPool(st job.Store, source queue.Source, executor *Executor, workerID id.WorkerID, opts ...PoolOption) *Pool {
	cfg := browserq.DefaultConfig()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		store:             st,
		source:            source,
		executor:          executor,
		workerID:          workerID,
		logger:            slog.Default(),
		concurrency:       cfg.Concurrency,
		heartbeatInterval: cfg.HeartbeatInterval,
		staleJobThreshold: cfg.StaleJobThreshold,
		stopCh:            make(chan struct{}),
		receiveCtx:        ctx,
		stopReceive:       cancel,
		activeJobs:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.receiveLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to
// finish. If the context expires first, active runs are cancelled; their
// jobs fail with code timeout or get reaped as worker_lost later.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)
	p.stopReceive()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// receiveLoop is run by each worker goroutine.
func (p *Pool) receiveLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		d, err := p.source.Receive(p.receiveCtx)
		if err != nil {
			if errors.Is(err, browserq.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("receive error", slog.String("error", err.Error()))
			select {
			case <-time.After(time.Second):
			case <-p.stopCh:
				return
			}
			continue
		}

		if p.limiter != nil && !p.limiter.Acquire() {
			// Throttled. Hand the delivery back for later.
			if nerr := d.Nack(context.Background()); nerr != nil {
				p.logger.Warn("nack failed",
					slog.String("job_id", d.JobID.String()),
					slog.String("error", nerr.Error()),
				)
			}
			select {
			case <-time.After(100 * time.Millisecond):
			case <-p.stopCh:
				return
			}
			continue
		}

		p.process(d)

		if p.limiter != nil {
			p.limiter.Release()
		}
	}
}

// process executes one delivery and settles it. The delivery is acked
// once the executor returns without error (which includes silently
// dropped lost claims); a store failure leaves the message for
// redelivery.
func (p *Pool) process(d *queue.Delivery) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.trackJob(d.JobID.String(), cancel)
	defer p.untrackJob(d.JobID.String())

	err := p.executor.Execute(ctx, d.JobID)
	if err != nil {
		p.logger.Error("job execution error",
			slog.String("job_id", d.JobID.String()),
			slog.String("error", err.Error()),
		)
		if nerr := d.Nack(context.Background()); nerr != nil {
			p.logger.Warn("nack failed",
				slog.String("job_id", d.JobID.String()),
				slog.String("error", nerr.Error()),
			)
		}
		return
	}

	if aerr := d.Ack(context.Background()); aerr != nil {
		p.logger.Warn("ack failed",
			slog.String("job_id", d.JobID.String()),
			slog.String("error", aerr.Error()),
		)
	}
}

// heartbeatLoop periodically refreshes heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically fails running jobs whose heartbeat expired.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs()
		}
	}
}

// reapStaleJobs moves stale running jobs forward to FAILED with code
// worker_lost. The move is the same compare-and-set as a worker's
// terminal write, so a worker that turns out to be alive after all loses
// the race cleanly and its late result is dropped.
func (p *Pool) reapStaleJobs() {
	stale, err := p.store.StaleRunningJobs(context.Background(), p.staleJobThreshold)
	if err != nil {
		p.logger.Error("stale job scan failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		failure := &job.Failure{
			Code:    job.FailureWorkerLost,
			Message: "no heartbeat within " + p.staleJobThreshold.String(),
		}
		_, terr := p.store.TransitionJob(context.Background(), j.ID,
			job.StatusRunning, job.StatusFailed, job.Patch{Failure: failure})
		if terr != nil {
			if errors.Is(terr, browserq.ErrStatusConflict) {
				// The worker finished in the meantime.
				continue
			}
			p.logger.Error("reap failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", terr.Error()),
			)
			continue
		}

		p.logger.Warn("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("claimed_by", j.WorkerID.String()),
		)
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
