//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
	pgstore "github.com/browserq/browserq/store/postgres"
)

// setupTestStore creates a Postgres container and returns a connected Store.
func setupTestStore(t *testing.T) *pgstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("browserq_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := pgstore.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	// Second migrate should be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New(job.Input{URL: "https://example.com", WaitUntil: job.WaitLoad, TimeoutMs: 30000})

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, browserq.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
	if got.Input != j.Input {
		t.Errorf("input = %+v, want %+v", got.Input, j.Input)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, browserq.ErrJobNotFound) {
		t.Fatalf("unknown id: got %v, want ErrJobNotFound", err)
	}
}

func TestStore_TransitionLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New(job.Input{URL: "https://example.com"})
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	worker := id.NewWorkerID()
	claimed, err := s.TransitionJob(ctx, j.ID, job.StatusPending, job.StatusRunning,
		job.Patch{WorkerID: worker})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != job.StatusRunning || claimed.StartedAt == nil {
		t.Fatalf("claimed = %+v", claimed)
	}

	if _, err := s.TransitionJob(ctx, j.ID, job.StatusPending, job.StatusRunning, job.Patch{}); !errors.Is(err, browserq.ErrStatusConflict) {
		t.Fatalf("second claim: got %v, want ErrStatusConflict", err)
	}

	done, err := s.TransitionJob(ctx, j.ID, job.StatusRunning, job.StatusSucceeded,
		job.Patch{Result: json.RawMessage(`{"pageTitle":"Example","contentLength":1256}`), SessionID: "bb-session-1"})
	if err != nil {
		t.Fatalf("terminal write: %v", err)
	}
	if done.Failure != nil || done.CompletedAt == nil || done.SessionID != "bb-session-1" {
		t.Fatalf("terminal record = %+v", done)
	}

	// Terminal records are immutable.
	if _, err := s.TransitionJob(ctx, j.ID, job.StatusRunning, job.StatusFailed,
		job.Patch{Failure: &job.Failure{Code: job.FailureTimeout, Message: "late"}}); !errors.Is(err, browserq.ErrStatusConflict) {
		t.Fatalf("post-terminal write: got %v, want ErrStatusConflict", err)
	}

	final, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != job.StatusSucceeded || string(final.Result) != `{"pageTitle":"Example","contentLength":1256}` {
		t.Fatalf("final record mutated: %+v", final)
	}
}

func TestStore_ConcurrentClaim(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New(job.Input{URL: "https://example.com"})
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	const claimants = 16

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)

	for range claimants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionJob(ctx, j.ID, job.StatusPending, job.StatusRunning,
				job.Patch{WorkerID: id.NewWorkerID()})
			if err == nil {
				mu.Lock()
				claims++
				mu.Unlock()
				return
			}
			if !errors.Is(err, browserq.ErrStatusConflict) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if claims != 1 {
		t.Fatalf("got %d successful claims, want exactly 1", claims)
	}
}

func TestStore_HeartbeatAndStale(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New(job.Input{URL: "https://example.com"})
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	worker := id.NewWorkerID()
	if _, err := s.TransitionJob(ctx, j.ID, job.StatusPending, job.StatusRunning,
		job.Patch{WorkerID: worker}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := s.HeartbeatJob(ctx, j.ID, worker); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	stale, err := s.StaleRunningJobs(ctx, time.Hour)
	if err != nil {
		t.Fatalf("stale query: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("got %d stale jobs, want 0", len(stale))
	}

	time.Sleep(50 * time.Millisecond)
	stale, err = s.StaleRunningJobs(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("stale query: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("got %d stale jobs, want 1", len(stale))
	}
}

func TestStore_ListAndCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for range 3 {
		if err := s.CreateJob(ctx, job.New(job.Input{URL: "https://example.com"})); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	jobs, err := s.ListJobs(ctx, job.StatusPending, job.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	count, err := s.CountJobs(ctx, job.StatusPending)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	// Empty status lists everything.
	all, err := s.ListJobs(ctx, "", job.ListOpts{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d jobs for empty status, want 3", len(all))
	}
}
