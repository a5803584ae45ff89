package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/browserq/browserq/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Patch carries the fields a status transition may set. Which fields
// are applied depends on the target status; see Apply.
type Patch struct {
	// Result is stored on the succeeded transition.
	Result json.RawMessage
	// Failure is stored on the failed transition.
	Failure *Failure
	// WorkerID records the claimant on the running transition.
	WorkerID id.WorkerID
	// SessionID records the browser session once acquired.
	SessionID string
}

// Apply mutates j in place for a transition to the given status. It is
// the single definition of what each transition writes, shared by the
// store backends so a caller observes identical records regardless of
// backend. The atomicity of the surrounding compare-and-set is each
// backend's responsibility.
func (p Patch) Apply(j *Job, to Status, now time.Time) {
	j.Status = to
	j.UpdatedAt = now

	switch to {
	case StatusRunning:
		j.WorkerID = p.WorkerID
		t := now
		j.StartedAt = &t
		j.HeartbeatAt = &t
	case StatusSucceeded:
		j.Result = p.Result
		j.Failure = nil
		t := now
		j.CompletedAt = &t
	case StatusFailed:
		j.Failure = p.Failure
		j.Result = nil
		t := now
		j.CompletedAt = &t
	}

	if p.SessionID != "" {
		j.SessionID = p.SessionID
	}
}

// Store defines the persistence contract for jobs. All mutation goes
// through CreateJob and TransitionJob; the conditional semantics of
// those two calls are what make the claim exactly-once.
type Store interface {
	// CreateJob persists a new pending job. Returns
	// browserq.ErrJobAlreadyExists when the id is already present.
	CreateJob(ctx context.Context, j *Job) error

	// TransitionJob atomically moves a job from one status to another,
	// applying the patch, and returns the updated record. The check of
	// the current status and the write are a single compare-and-set:
	// when the current status differs from `from` the store returns
	// browserq.ErrStatusConflict and writes nothing. Unknown ids return
	// browserq.ErrJobNotFound.
	TransitionJob(ctx context.Context, jobID id.JobID, from, to Status, patch Patch) (*Job, error)

	// GetJob retrieves a job by id. Read-only; a concurrent transition
	// is observed either entirely or not at all.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs with the given status, newest first.
	// An empty status lists all jobs.
	ListJobs(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs with the given status.
	// An empty status counts all jobs.
	CountJobs(ctx context.Context, status Status) (int64, error)

	// HeartbeatJob refreshes the heartbeat timestamp of a running job,
	// indicating the claiming worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// StaleRunningJobs returns running jobs whose last heartbeat is
	// older than the threshold, indicating the claiming worker may
	// have crashed.
	StaleRunningJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)
}
