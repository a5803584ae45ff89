package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/browserq/browserq/api"
	"github.com/browserq/browserq/gateway"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
	"github.com/browserq/browserq/queue"
	"github.com/browserq/browserq/store/memory"
)

const testKey = "test-api-key"

func newServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()

	st := memory.New()
	q := queue.NewChannelQueue(16)
	gw := gateway.New(st, q)
	srv := httptest.NewServer(api.New(gw, st, testKey).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = q.Close()
		_ = st.Close()
	})
	return srv, st
}

func doJSON(t *testing.T, method, url, key, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestSubmit_Accepted(t *testing.T) {
	t.Parallel()

	srv, st := newServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/scrape", testKey,
		`{"url": "https://example.com", "waitUntil": "load"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	jobID, err := id.ParseJobID(out.JobID)
	if err != nil {
		t.Fatalf("returned jobId %q does not parse: %v", out.JobID, err)
	}

	stored, err := st.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != job.StatusPending {
		t.Errorf("stored status = %s, want PENDING", stored.Status)
	}
}

func TestSubmit_ValidationError(t *testing.T) {
	t.Parallel()

	srv, st := newServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{}`},
		{"bad scheme", `{"url": "ftp://example.com"}`},
		{"not json", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/scrape", testKey, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var out struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				t.Fatalf("unmarshal error body: %v", err)
			}
			if out.Error.Code != "invalid_input" {
				t.Errorf("error code = %q, want invalid_input", out.Error.Code)
			}
		})
	}

	count, err := st.CountJobs(context.Background(), "")
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 0 {
		t.Errorf("%d records created by rejected submissions, want 0", count)
	}
}

func TestSubmit_Unauthorized(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	for _, key := range []string{"", "wrong-key"} {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/scrape", key,
			`{"url": "https://example.com"}`)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("key %q: status = %d, want 401", key, resp.StatusCode)
		}
	}
}

func TestStatus_Projection(t *testing.T) {
	t.Parallel()

	srv, st := newServer(t)

	// Submit, then drive the job to SUCCEEDED directly on the store.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/scrape", testKey,
		`{"url": "https://example.com"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	var accepted struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	jobID := id.MustParse(accepted.JobID)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/scrape/"+accepted.JobID, testKey, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("poll status = %d, want 200", resp.StatusCode)
	}
	var pending struct {
		JobID  string     `json:"jobId"`
		Status job.Status `json:"status"`
	}
	if err := json.Unmarshal(body, &pending); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pending.Status != job.StatusPending {
		t.Errorf("status = %s, want PENDING", pending.Status)
	}

	_, err := st.TransitionJob(context.Background(), jobID,
		job.StatusPending, job.StatusRunning, job.Patch{WorkerID: id.NewWorkerID()})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = st.TransitionJob(context.Background(), jobID,
		job.StatusRunning, job.StatusSucceeded,
		job.Patch{Result: json.RawMessage(`{"pageTitle":"Example Domain","contentLength":1256}`)})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/scrape/"+accepted.JobID, testKey, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("poll status = %d, want 200", resp.StatusCode)
	}
	var done struct {
		JobID  string          `json:"jobId"`
		Status job.Status      `json:"status"`
		Result json.RawMessage `json:"result"`
		Error  *job.Failure    `json:"error"`
	}
	if err := json.Unmarshal(body, &done); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if done.Status != job.StatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", done.Status)
	}
	if done.Error != nil {
		t.Errorf("error = %v, want absent", done.Error)
	}
	var result struct {
		PageTitle string `json:"pageTitle"`
	}
	if err := json.Unmarshal(done.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.PageTitle != "Example Domain" {
		t.Errorf("pageTitle = %q", result.PageTitle)
	}
}

func TestStatus_NotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	// Unknown but well-formed id.
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/scrape/"+id.NewJobID().String(), testKey, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", resp.StatusCode)
	}

	// Unparseable id gets the same 404, not a 400.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/scrape/not-a-job-id", testKey, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("bad id: status = %d, want 404", resp.StatusCode)
	}

	// Wrong prefix is also a 404.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/scrape/"+id.NewWorkerID().String(), testKey, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("wrong prefix: status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz_Unauthenticated(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthz_StoreDown(t *testing.T) {
	t.Parallel()

	st := memory.New()
	defer st.Close()
	q := queue.NewChannelQueue(1)
	defer q.Close()

	srv := httptest.NewServer(api.New(gateway.New(st, q), failingPinger{}, testKey).Handler())
	defer srv.Close()

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
