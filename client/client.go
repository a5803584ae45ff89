// Package client provides a Go client for the browserq HTTP API.
//
// Usage:
//
//	c := client.New("https://scrape.example.com", client.WithAPIKey("bq_..."))
//
//	// Submit a scrape and poll for the outcome.
//	jobID, err := c.Submit(ctx, job.Input{URL: "https://example.com"})
//	status, err := c.Poll(ctx, jobID, 2*time.Second)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
)

// Status is the poll projection returned by the service.
type Status struct {
	JobID     string          `json:"jobId"`
	Status    job.Status      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *job.Failure    `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Client talks to a browserq server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the X-Api-Key header value.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the HTTP client. Defaults to a client with a
// 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends a scrape request and returns the accepted job id.
func (c *Client) Submit(ctx context.Context, in job.Input) (id.JobID, error) {
	var resp struct {
		JobID string `json:"jobId"`
	}
	err := c.do(ctx, http.MethodPost, "/scrape", in, &resp)
	if err != nil {
		return id.Nil, err
	}

	jobID, err := id.ParseJobID(resp.JobID)
	if err != nil {
		return id.Nil, fmt.Errorf("client: server returned bad job id: %w", err)
	}
	return jobID, nil
}

// Status fetches the current projection of a job.
func (c *Client) Status(ctx context.Context, jobID id.JobID) (*Status, error) {
	var s Status
	if err := c.do(ctx, http.MethodGet, "/scrape/"+jobID.String(), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Poll fetches the job status every interval until it is terminal or
// ctx is done. When ctx expires first, the last observed projection is
// returned alongside the context error.
func (c *Client) Poll(ctx context.Context, jobID id.JobID, interval time.Duration) (*Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Status
	for {
		s, err := c.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, err
		}
		last = s
		if s.Status.Terminal() {
			return s, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
}

// Healthy reports whether the server's health endpoint returns OK.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	return nil
}

// decodeError maps the error envelope back onto the package sentinels
// so callers can use errors.Is.
func (c *Client) decodeError(resp *http.Response) error {
	var body apiError
	msg := http.StatusText(resp.StatusCode)
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("client: %s: %w", msg, browserq.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("client: %s: %w", msg, browserq.ErrJobNotFound)
	case http.StatusBadRequest:
		return fmt.Errorf("client: %s: %w", msg, browserq.ErrInvalidInput)
	default:
		return fmt.Errorf("client: status %d: %s", resp.StatusCode, msg)
	}
}
