// Package browserbase provides a browser session provider backed by the
// Browserbase REST API. Credentials come through a secrets.Provider:
// the API key and project id are stored as JSON-keyed secrets
// ({"BROWSERBASE_API_KEY": ...} and {"BROWSERBASE_PROJECT_ID": ...}).
package browserbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/browser"
	"github.com/browserq/browserq/secrets"
)

// DefaultBaseURL is the production Browserbase API endpoint.
const DefaultBaseURL = "https://api.browserbase.com"

// Secret keys expected inside the configured secrets.
const (
	apiKeyField    = "BROWSERBASE_API_KEY"
	projectIDField = "BROWSERBASE_PROJECT_ID"
)

// Config holds the provider's dependencies and secret names.
type Config struct {
	// Secrets resolves the credential secrets below.
	Secrets secrets.Provider

	// APIKeySecret is the name or ARN of the secret whose JSON value
	// holds BROWSERBASE_API_KEY.
	APIKeySecret string

	// ProjectIDSecret is the name or ARN of the secret whose JSON value
	// holds BROWSERBASE_PROJECT_ID.
	ProjectIDSecret string

	// BaseURL overrides the API endpoint. Defaults to DefaultBaseURL.
	BaseURL string

	// HTTPClient overrides the HTTP client. Defaults to a client with a
	// 30s timeout.
	HTTPClient *http.Client

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Provider creates Browserbase sessions.
type Provider struct {
	cfg Config
}

var _ browser.Provider = (*Provider)(nil)

// New creates a Browserbase provider. Secrets are resolved lazily on
// each CreateSession; wrap the secrets provider with secrets.NewCached
// to avoid a Secrets Manager round trip per job.
func New(cfg Config) (*Provider, error) {
	if cfg.Secrets == nil {
		return nil, fmt.Errorf("browserbase: Config.Secrets is required")
	}
	if cfg.APIKeySecret == "" || cfg.ProjectIDSecret == "" {
		return nil, fmt.Errorf("browserbase: APIKeySecret and ProjectIDSecret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{cfg: cfg}, nil
}

type sessionRequest struct {
	ProjectID string `json:"projectId"`
	Status    string `json:"status,omitempty"`
}

type sessionResponse struct {
	ID         string `json:"id"`
	ConnectURL string `json:"connectUrl"`
	Status     string `json:"status"`
}

// CreateSession creates a new Browserbase session. Errors wrap
// browserq.ErrSessionFailed.
func (p *Provider) CreateSession(ctx context.Context) (browser.Session, error) {
	apiKey, err := secrets.JSONKey(ctx, p.cfg.Secrets, p.cfg.APIKeySecret, apiKeyField)
	if err != nil {
		return nil, fmt.Errorf("browserbase credentials: %v: %w", err, browserq.ErrSessionFailed)
	}
	projectID, err := secrets.JSONKey(ctx, p.cfg.Secrets, p.cfg.ProjectIDSecret, projectIDField)
	if err != nil {
		return nil, fmt.Errorf("browserbase credentials: %v: %w", err, browserq.ErrSessionFailed)
	}

	var resp sessionResponse
	err = p.do(ctx, apiKey, http.MethodPost, "/v1/sessions",
		sessionRequest{ProjectID: projectID}, &resp)
	if err != nil {
		return nil, fmt.Errorf("create session: %v: %w", err, browserq.ErrSessionFailed)
	}
	if resp.ID == "" || resp.ConnectURL == "" {
		return nil, fmt.Errorf("create session: incomplete response: %w", browserq.ErrSessionFailed)
	}

	p.cfg.Logger.Info("browserbase session created",
		slog.String("session_id", resp.ID),
	)

	return &session{
		provider:   p,
		apiKey:     apiKey,
		projectID:  projectID,
		id:         resp.ID,
		connectURL: resp.ConnectURL,
	}, nil
}

func (p *Provider) do(ctx context.Context, apiKey, method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("X-BB-API-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, httpResp.StatusCode, snippet)
	}

	if out != nil {
		if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// session is a live Browserbase session.
type session struct {
	provider   *Provider
	apiKey     string
	projectID  string
	id         string
	connectURL string
}

func (s *session) ID() string         { return s.id }
func (s *session) ConnectURL() string { return s.connectURL }

// Release asks Browserbase to end the session. Browserbase also reaps
// idle sessions on its own timeout, so a failed release leaks only
// temporarily.
func (s *session) Release(ctx context.Context) error {
	err := s.provider.do(ctx, s.apiKey, http.MethodPost, "/v1/sessions/"+s.id,
		sessionRequest{ProjectID: s.projectID, Status: "REQUEST_RELEASE"}, nil)
	if err != nil {
		return fmt.Errorf("release session %s: %w", s.id, err)
	}
	return nil
}
