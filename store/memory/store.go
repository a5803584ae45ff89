// Package memory provides a fully in-memory job store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
)

// Ensure Store implements the job contract at compile time.
var _ job.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. The mutex makes
// every transition a single atomic compare-and-set with respect to
// concurrent readers and writers.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateJob persists a new pending job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return browserq.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// TransitionJob atomically moves a job between statuses under the store
// lock and returns the updated record.
func (m *Store) TransitionJob(_ context.Context, jobID id.JobID, from, to job.Status, patch job.Patch) (*job.Job, error) {
	if err := job.ValidateTransition(from, to); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, browserq.ErrJobNotFound
	}
	if j.Status != from {
		return nil, browserq.ErrStatusConflict
	}

	patch.Apply(j, to, time.Now().UTC())
	cp := *j
	return &cp, nil
}

// GetJob retrieves a job by id.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, browserq.ErrJobNotFound
	}
	// Return a copy so callers can mutate without racing with the store.
	cp := *j
	return &cp, nil
}

// ListJobs returns jobs with the given status, newest first. An empty
// status lists all jobs.
func (m *Store) ListJobs(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if status != "" && j.Status != status {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs with the given status.
func (m *Store) CountJobs(_ context.Context, status job.Status) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			count++
		}
	}
	return count, nil
}

// HeartbeatJob refreshes the heartbeat timestamp of a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return browserq.ErrJobNotFound
	}
	if j.Status != job.StatusRunning {
		return browserq.ErrStatusConflict
	}

	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	j.UpdatedAt = now
	return nil
}

// StaleRunningJobs returns running jobs whose last heartbeat is older
// than the threshold.
func (m *Store) StaleRunningJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)

	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}
