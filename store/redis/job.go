package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
)

// transitionScript performs the status compare-and-set server-side.
// KEYS[1] = job key, KEYS[2] = from-status set, KEYS[3] = to-status set.
// ARGV[1] = expected status, ARGV[2] = new record JSON, ARGV[3] = job id.
// Returns 1 on success, 0 when the key is missing, -1 on status conflict.
var transitionScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end
local cur = cjson.decode(raw)
if cur['status'] ~= ARGV[1] then
	return -1
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[3])
return 1
`)

// CreateJob persists a new pending job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("browserq/redis: marshal job: %w", err)
	}

	jID := j.ID.String()
	ok, err := s.client.SetNX(ctx, jobKey(jID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("browserq/redis: create job: %w", err)
	}
	if !ok {
		return browserq.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, allJobsKey, jID)
	pipe.SAdd(ctx, statusKey(j.Status), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("browserq/redis: index job: %w", err)
	}
	return nil
}

// TransitionJob atomically moves a job between statuses. The record is
// read, patched client-side, and written back only if the stored status
// still equals the expected one — checked and applied inside one Lua
// script execution.
func (s *Store) TransitionJob(ctx context.Context, jobID id.JobID, from, to job.Status, patch job.Patch) (*job.Job, error) {
	if err := job.ValidateTransition(from, to); err != nil {
		return nil, err
	}

	jID := jobID.String()

	cur, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil {
		return nil, err
	}
	if cur.Status != from {
		return nil, browserq.ErrStatusConflict
	}

	patch.Apply(cur, to, time.Now().UTC())
	raw, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("browserq/redis: marshal job: %w", err)
	}

	res, err := transitionScript.Run(ctx, s.client,
		[]string{jobKey(jID), statusKey(from), statusKey(to)},
		string(from), raw, jID,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("browserq/redis: transition job: %w", err)
	}

	switch res {
	case 1:
		return cur, nil
	case 0:
		return nil, browserq.ErrJobNotFound
	default:
		return nil, browserq.ErrStatusConflict
	}
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// ListJobs returns jobs with the given status, newest first. An empty
// status lists all jobs.
func (s *Store) ListJobs(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	key := allJobsKey
	if status != "" {
		key = statusKey(status)
	}
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("browserq/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip records deleted between SMEMBERS and GET
		}
		if status != "" && j.Status != status {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs with the given status.
func (s *Store) CountJobs(ctx context.Context, status job.Status) (int64, error) {
	key := allJobsKey
	if status != "" {
		key = statusKey(status)
	}
	count, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("browserq/redis: count jobs: %w", err)
	}
	return count, nil
}

// HeartbeatJob refreshes the heartbeat timestamp of a running job. It
// reuses the transition script with an unchanged status so a concurrent
// terminal write cannot be clobbered by a late heartbeat.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	jID := jobID.String()

	cur, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil {
		return err
	}
	if cur.Status != job.StatusRunning {
		return browserq.ErrStatusConflict
	}

	now := time.Now().UTC()
	cur.HeartbeatAt = &now
	cur.WorkerID = workerID
	cur.UpdatedAt = now

	raw, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("browserq/redis: marshal job: %w", err)
	}

	res, err := transitionScript.Run(ctx, s.client,
		[]string{jobKey(jID), statusKey(job.StatusRunning), statusKey(job.StatusRunning)},
		string(job.StatusRunning), raw, jID,
	).Int64()
	if err != nil {
		return fmt.Errorf("browserq/redis: heartbeat job: %w", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return browserq.ErrJobNotFound
	default:
		return browserq.ErrStatusConflict
	}
}

// StaleRunningJobs returns running jobs whose last heartbeat is older
// than the threshold.
func (s *Store) StaleRunningJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, statusKey(job.StatusRunning)).Result()
	if err != nil {
		return nil, fmt.Errorf("browserq/redis: stale smembers: %w", err)
	}

	cutoff := time.Now().UTC().Add(-threshold)

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.Status != job.StatusRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// getJobByKey fetches and decodes one record.
func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, browserq.ErrJobNotFound
		}
		return nil, fmt.Errorf("browserq/redis: get job: %w", err)
	}

	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("browserq/redis: unmarshal job: %w", err)
	}
	return &j, nil
}
