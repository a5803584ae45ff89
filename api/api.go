// Package api exposes the HTTP surface: scrape submission, job status
// polling, and a health endpoint. Authentication is a static API key in
// the X-Api-Key header; the health endpoint is unauthenticated.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/gateway"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/job"
)

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API wires the HTTP handlers together.
type API struct {
	gw     *gateway.Gateway
	pinger Pinger
	apiKey string
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates the API. apiKey is the static key clients must present;
// an empty key disables authentication (local development only).
func New(gw *gateway.Gateway, pinger Pinger, apiKey string, opts ...Option) *API {
	a := &API{
		gw:     gw,
		pinger: pinger,
		apiKey: apiKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", a.health)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAPIKey)
		r.Post("/scrape", a.submit)
		r.Get("/scrape/{jobId}", a.status)
	})

	return r
}

// requireAPIKey rejects requests whose X-Api-Key header does not match.
func (a *API) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey != "" {
			got := r.Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(a.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized",
					browserq.ErrUnauthorized.Error())
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// submitResponse is the 202 body.
type submitResponse struct {
	JobID string `json:"jobId"`
}

// submit handles POST /scrape.
func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	var in job.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "request body is not valid JSON")
		return
	}

	j, err := a.gw.Submit(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, browserq.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		default:
			a.logger.Error("submit failed", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "unavailable", "could not accept the job")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: j.ID.String()})
}

// statusResponse is the poll projection. Result and Error are mutually
// exclusive and only present on terminal jobs.
type statusResponse struct {
	JobID     string          `json:"jobId"`
	Status    job.Status      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *job.Failure    `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// status handles GET /scrape/{jobId}. An unparseable id is
// indistinguishable from an unknown one: both are 404.
func (a *API) status(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}

	j, err := a.gw.Lookup(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, browserq.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such job")
			return
		}
		a.logger.Error("status lookup failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not read the job")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		JobID:     j.ID.String(),
		Status:    j.Status,
		Result:    j.Result,
		Error:     j.Failure,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	})
}

// health handles GET /healthz.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.pinger.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
