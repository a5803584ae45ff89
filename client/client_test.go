package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/api"
	"github.com/browserq/browserq/client"
	"github.com/browserq/browserq/gateway"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
	"github.com/browserq/browserq/queue"
	"github.com/browserq/browserq/store/memory"
)

const testKey = "bq_test_key"

func newServer(t *testing.T) (*httptest.Server, *memory.Store, *queue.ChannelQueue) {
	t.Helper()

	st := memory.New()
	q := queue.NewChannelQueue(16)
	gw := gateway.New(st, q)

	a := api.New(gw, st, testKey)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		q.Close()
		st.Close()
	})
	return srv, st, q
}

func TestClient_SubmitAndStatus(t *testing.T) {
	t.Parallel()

	srv, st, _ := newServer(t)
	c := client.New(srv.URL, client.WithAPIKey(testKey))
	ctx := context.Background()

	jobID, err := c.Submit(ctx, job.Input{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	s, err := c.Status(ctx, jobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if s.Status != job.StatusPending {
		t.Errorf("status = %q, want %q", s.Status, job.StatusPending)
	}
	if s.JobID != jobID.String() {
		t.Errorf("jobId = %q, want %q", s.JobID, jobID)
	}

	// Record exists server-side.
	if _, err := st.GetJob(ctx, jobID); err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
}

func TestClient_SentinelErrors(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)
	ctx := context.Background()

	t.Run("unauthorized", func(t *testing.T) {
		t.Parallel()
		c := client.New(srv.URL, client.WithAPIKey("wrong"))
		_, err := c.Submit(ctx, job.Input{URL: "https://example.com"})
		if !errors.Is(err, browserq.ErrUnauthorized) {
			t.Errorf("error = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()
		c := client.New(srv.URL, client.WithAPIKey(testKey))
		_, err := c.Submit(ctx, job.Input{URL: "ftp://example.com"})
		if !errors.Is(err, browserq.ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		c := client.New(srv.URL, client.WithAPIKey(testKey))
		_, err := c.Status(ctx, id.NewJobID())
		if !errors.Is(err, browserq.ErrJobNotFound) {
			t.Errorf("error = %v, want ErrJobNotFound", err)
		}
	})
}

func TestClient_PollUntilTerminal(t *testing.T) {
	t.Parallel()

	srv, st, _ := newServer(t)
	c := client.New(srv.URL, client.WithAPIKey(testKey))
	ctx := context.Background()

	jobID, err := c.Submit(ctx, job.Input{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Drive the record to SUCCEEDED behind the poller's back.
	go func() {
		time.Sleep(30 * time.Millisecond)
		if _, err := st.TransitionJob(ctx, jobID, job.StatusPending, job.StatusRunning, job.Patch{}); err != nil {
			return
		}
		result := []byte(`{"pageTitle":"Example","contentLength":1256}`)
		st.TransitionJob(ctx, jobID, job.StatusRunning, job.StatusSucceeded, job.Patch{Result: result})
	}()

	s, err := c.Poll(ctx, jobID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if s.Status != job.StatusSucceeded {
		t.Fatalf("status = %q, want %q", s.Status, job.StatusSucceeded)
	}
	if len(s.Result) == 0 {
		t.Error("result missing from terminal projection")
	}
}

func TestClient_PollRespectsContext(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)
	c := client.New(srv.URL, client.WithAPIKey(testKey))

	ctx := context.Background()
	jobID, err := c.Submit(ctx, job.Input{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	s, err := c.Poll(pollCtx, jobID, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Poll() error = %v, want deadline exceeded", err)
	}
	if s == nil || s.Status != job.StatusPending {
		t.Errorf("last observed projection = %+v, want PENDING", s)
	}
}

func TestClient_PollKeepsSnapshotWhenStatusCallDies(t *testing.T) {
	t.Parallel()

	// First request answers immediately; later ones outlive the poll
	// deadline so the in-flight Status call fails to cancellation.
	jobID := id.NewJobID()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(time.Second):
			}
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jobId":%q,"status":"PENDING"}`, jobID)
	}))
	defer srv.Close()

	c := client.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	s, err := c.Poll(ctx, jobID, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Poll() error = %v, want deadline exceeded", err)
	}
	if s == nil || s.Status != job.StatusPending {
		t.Errorf("last observed projection = %+v, want PENDING", s)
	}
}

func TestClient_Healthy(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)
	c := client.New(srv.URL)

	if err := c.Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy() error = %v", err)
	}
}
