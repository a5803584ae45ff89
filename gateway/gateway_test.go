package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/backoff"
	"github.com/browserq/browserq/gateway"
	"github.com/browserq/browserq/job"
	"github.com/browserq/browserq/queue"
	"github.com/browserq/browserq/store/memory"
)

func newGateway(t *testing.T) (*gateway.Gateway, *memory.Store, *queue.ChannelQueue) {
	t.Helper()
	st := memory.New()
	q := queue.NewChannelQueue(16)
	t.Cleanup(func() {
		_ = q.Close()
		_ = st.Close()
	})
	return gateway.New(st, q), st, q
}

func TestSubmit_CreatesPendingAndDispatches(t *testing.T) {
	t.Parallel()

	g, st, q := newGateway(t)

	j, err := g.Submit(context.Background(), job.Input{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Errorf("Status = %s, want PENDING", j.Status)
	}
	if j.Input.WaitUntil != job.WaitDOMContentLoaded {
		t.Errorf("WaitUntil = %q, want default %q", j.Input.WaitUntil, job.WaitDOMContentLoaded)
	}

	stored, err := st.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != job.StatusPending {
		t.Errorf("stored Status = %s, want PENDING", stored.Status)
	}

	d, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d.JobID != j.ID {
		t.Errorf("dispatched id = %s, want %s", d.JobID, j.ID)
	}
}

func TestSubmit_InvalidInputLeavesNoRecord(t *testing.T) {
	t.Parallel()

	g, st, q := newGateway(t)

	tests := []struct {
		name  string
		input job.Input
	}{
		{"empty url", job.Input{}},
		{"bad scheme", job.Input{URL: "ftp://example.com"}},
		{"bad waitUntil", job.Input{URL: "https://example.com", WaitUntil: "networkidle"}},
		{"negative timeout", job.Input{URL: "https://example.com", TimeoutMs: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Submit(context.Background(), tt.input)
			if !errors.Is(err, browserq.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	count, err := st.CountJobs(context.Background(), "")
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 0 {
		t.Errorf("store has %d jobs after rejected submissions, want 0", count)
	}
	if q.Len() != 0 {
		t.Errorf("queue has %d deliveries after rejected submissions, want 0", q.Len())
	}
}

func TestSubmit_DispatchFailureSurfaces(t *testing.T) {
	t.Parallel()

	st := memory.New()
	defer st.Close()
	q := queue.NewChannelQueue(1)
	_ = q.Close()

	g := gateway.New(st, q)
	_, err := g.Submit(context.Background(), job.Input{URL: "https://example.com"})
	if !errors.Is(err, browserq.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}

	// The record was created before dispatch failed.
	count, err := st.CountJobs(context.Background(), job.StatusPending)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 1 {
		t.Errorf("pending count = %d, want 1", count)
	}
}

// flakyStore fails CreateJob a fixed number of times before delegating.
type flakyStore struct {
	job.Store
	failures int
}

func (s *flakyStore) CreateJob(ctx context.Context, j *job.Job) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("transient store error")
	}
	return s.Store.CreateJob(ctx, j)
}

func TestSubmit_RetriesTransientCreateFailure(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	defer mem.Close()
	q := queue.NewChannelQueue(4)
	defer q.Close()

	g := gateway.New(&flakyStore{Store: mem, failures: 2}, q,
		gateway.WithRetries(3),
		gateway.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)

	j, err := g.Submit(context.Background(), job.Input{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := mem.GetJob(context.Background(), j.ID); err != nil {
		t.Fatalf("GetJob after retries: %v", err)
	}
}

func TestSubmit_ExhaustedRetries(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	defer mem.Close()
	q := queue.NewChannelQueue(4)
	defer q.Close()

	g := gateway.New(&flakyStore{Store: mem, failures: 10}, q,
		gateway.WithRetries(2),
		gateway.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)

	_, err := g.Submit(context.Background(), job.Input{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	g, _, _ := newGateway(t)

	j, err := g.Submit(context.Background(), job.Input{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := g.Lookup(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("Lookup id = %s, want %s", got.ID, j.ID)
	}
}
