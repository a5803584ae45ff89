package job

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
)

// Status represents the lifecycle status of a scrape job.
type Status string

const (
	// StatusPending means the job is created and waiting to be claimed.
	StatusPending Status = "PENDING"
	// StatusRunning means a worker has claimed the job and is driving
	// the browser session.
	StatusRunning Status = "RUNNING"
	// StatusSucceeded means the automation finished and the result is
	// recorded. Terminal.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed means the automation failed and the error is
	// recorded. Terminal.
	StatusFailed Status = "FAILED"
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status. A terminal record is
// immutable: no transition accepts a terminal status as its precondition.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether s → to is a forward move in the status
// order. The only legal moves are pending→running and running→terminal.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	}
	return false
}

// ValidateTransition returns an error when from → to is not a legal
// status move. Stores call this before attempting the conditional write
// so a malformed transition never reaches the backend.
func ValidateTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("job: unknown status %q → %q: %w", from, to, browserq.ErrStatusConflict)
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("job: illegal transition %s → %s: %w", from, to, browserq.ErrStatusConflict)
	}
	return nil
}

// WaitUntil values accepted by Input.
const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
)

// Input is the submitted request payload. Immutable after creation.
type Input struct {
	// URL is the page to scrape. Required, http or https.
	URL string `json:"url"`

	// WaitUntil selects the navigation completion event. Defaults to
	// "domcontentloaded".
	WaitUntil string `json:"waitUntil,omitempty"`

	// TimeoutMs bounds the navigation in milliseconds. Zero means the
	// executor's configured default.
	TimeoutMs int `json:"timeoutMs,omitempty"`
}

// Validate checks the input synchronously at submission time. All
// returned errors wrap browserq.ErrInvalidInput.
func (in Input) Validate() error {
	if in.URL == "" {
		return fmt.Errorf("url must not be empty: %w", browserq.ErrInvalidInput)
	}

	u, err := url.Parse(in.URL)
	if err != nil {
		return fmt.Errorf("url %q: %v: %w", in.URL, err, browserq.ErrInvalidInput)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https: %w", in.URL, browserq.ErrInvalidInput)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q: missing host: %w", in.URL, browserq.ErrInvalidInput)
	}

	switch in.WaitUntil {
	case "", WaitLoad, WaitDOMContentLoaded:
	default:
		return fmt.Errorf("waitUntil %q: must be %q or %q: %w",
			in.WaitUntil, WaitLoad, WaitDOMContentLoaded, browserq.ErrInvalidInput)
	}

	if in.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must not be negative: %w", browserq.ErrInvalidInput)
	}

	return nil
}

// Failure codes recorded on failed jobs.
const (
	FailureTimeout    = "timeout"
	FailureSession    = "session_failed"
	FailureAutomation = "automation_failed"
	FailureWorkerLost = "worker_lost"
)

// Failure describes why a job ended in StatusFailed. It is recorded on
// the job record and never surfaced to the original submitter, whose
// HTTP interaction completed at submission time.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Job is one submitted browser-automation request and its tracked
// outcome. The store owns the canonical record; gateway and executor
// always read-through and write-through.
type Job struct {
	ID     id.JobID `json:"id"`
	Status Status   `json:"status"`

	// Input is the original request payload, immutable after creation.
	Input Input `json:"input"`

	// Result is set only together with StatusSucceeded; opaque output
	// of the automation task.
	Result json.RawMessage `json:"result,omitempty"`

	// Failure is set only together with StatusFailed. Result and
	// Failure are mutually exclusive.
	Failure *Failure `json:"error,omitempty"`

	// WorkerID identifies the pool that claimed the job.
	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	// SessionID is the remote browser session used for the run, when
	// one was acquired.
	SessionID string `json:"session_id,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a pending job with a fresh id for the given input.
func New(input Input) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id.NewJobID(),
		Status:    StatusPending,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
