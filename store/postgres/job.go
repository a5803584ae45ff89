package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
)

const jobColumns = `
	id, status, input, result, failure, worker_id, session_id,
	started_at, completed_at, heartbeat_at, created_at, updated_at`

// CreateJob persists a new pending job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	input, err := json.Marshal(j.Input)
	if err != nil {
		return fmt.Errorf("browserq/postgres: marshal input: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO browserq_jobs (
			id, status, input, result, failure, worker_id, session_id,
			started_at, completed_at, heartbeat_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULL, NULL, NULL, NULL,
			NULL, NULL, NULL, $4, $5
		)`,
		j.ID.String(), string(j.Status), input, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return browserq.ErrJobAlreadyExists
		}
		return fmt.Errorf("browserq/postgres: create job: %w", err)
	}
	return nil
}

// TransitionJob atomically moves a job between statuses. The
// precondition check and the write are one conditional UPDATE; a lost
// race affects zero rows and a follow-up read disambiguates conflict
// from not-found.
func (s *Store) TransitionJob(ctx context.Context, jobID id.JobID, from, to job.Status, patch job.Patch) (*job.Job, error) {
	if err := job.ValidateTransition(from, to); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	var (
		result      []byte
		failure     []byte
		workerID    *string
		startedAt   *time.Time
		completedAt *time.Time
		heartbeatAt *time.Time
	)

	// Mirror job.Patch.Apply column for column.
	switch to {
	case job.StatusRunning:
		if !patch.WorkerID.IsNil() {
			w := patch.WorkerID.String()
			workerID = &w
		}
		startedAt = &now
		heartbeatAt = &now
	case job.StatusSucceeded:
		result = patch.Result
	case job.StatusFailed:
		if patch.Failure != nil {
			var err error
			failure, err = json.Marshal(patch.Failure)
			if err != nil {
				return nil, fmt.Errorf("browserq/postgres: marshal failure: %w", err)
			}
		}
	}
	if to.Terminal() {
		completedAt = &now
	}

	var sessionID *string
	if patch.SessionID != "" {
		sessionID = &patch.SessionID
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE browserq_jobs SET
			status = $3,
			result = $4,
			failure = $5,
			worker_id = COALESCE($6, worker_id),
			session_id = COALESCE($7, session_id),
			started_at = COALESCE($8, started_at),
			completed_at = COALESCE($9, completed_at),
			heartbeat_at = COALESCE($10, heartbeat_at),
			updated_at = $11
		WHERE id = $1 AND status = $2
		RETURNING`+jobColumns,
		jobID.String(), string(from), string(to),
		result, failure, workerID, sessionID,
		startedAt, completedAt, heartbeatAt, now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			// Zero rows: either the id is unknown or the precondition
			// did not hold. One read tells them apart.
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, browserq.ErrStatusConflict
		}
		return nil, fmt.Errorf("browserq/postgres: transition job: %w", err)
	}
	return j, nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM browserq_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, browserq.ErrJobNotFound
		}
		return nil, fmt.Errorf("browserq/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs with the given status, newest first. An empty
// status lists all jobs.
func (s *Store) ListJobs(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM browserq_jobs`
	args := []interface{}{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("browserq/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs with the given status.
func (s *Store) CountJobs(ctx context.Context, status job.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM browserq_jobs`
	args := []interface{}{}

	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("browserq/postgres: count jobs: %w", err)
	}
	return count, nil
}

// HeartbeatJob refreshes the heartbeat timestamp of a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE browserq_jobs
		SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("browserq/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return getErr
		}
		return browserq.ErrStatusConflict
	}
	return nil
}

// StaleRunningJobs returns running jobs whose last heartbeat is older
// than the threshold.
func (s *Store) StaleRunningJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM browserq_jobs
		WHERE status = 'RUNNING'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("browserq/postgres: stale running jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		statusStr string
		inputRaw  []byte
		resultRaw []byte
		failRaw   []byte
		workerStr *string
		sessStr   *string
	)
	err := row.Scan(
		&idStr, &statusStr, &inputRaw, &resultRaw, &failRaw,
		&workerStr, &sessStr,
		&j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("browserq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if unmarshalErr := json.Unmarshal(inputRaw, &j.Input); unmarshalErr != nil {
		return nil, fmt.Errorf("browserq/postgres: unmarshal input: %w", unmarshalErr)
	}
	if len(resultRaw) > 0 {
		j.Result = json.RawMessage(resultRaw)
	}
	if len(failRaw) > 0 {
		var f job.Failure
		if unmarshalErr := json.Unmarshal(failRaw, &f); unmarshalErr != nil {
			return nil, fmt.Errorf("browserq/postgres: unmarshal failure: %w", unmarshalErr)
		}
		j.Failure = &f
	}

	if workerStr != nil && *workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(*workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}
	if sessStr != nil {
		j.SessionID = *sessStr
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("browserq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("browserq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
