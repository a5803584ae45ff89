package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/browserq/browserq/browser/cdp"
	"github.com/browserq/browserq/job"
)

// Scraper runs the scrape task: acquire a session, connect over CDP,
// navigate, and read the page title and content length.
type Scraper struct {
	provider Provider
	logger   *slog.Logger
}

// ScraperOption configures a Scraper.
type ScraperOption func(*Scraper)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) ScraperOption {
	return func(s *Scraper) { s.logger = logger }
}

// NewScraper creates a Scraper on top of the given session provider.
func NewScraper(provider Provider, opts ...ScraperOption) *Scraper {
	s := &Scraper{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the scrape for the given input. The returned session id
// is non-empty as soon as a session was acquired, even when the run
// fails afterwards, so the job record can always name the session used.
// Cancellation of ctx aborts the run; the session is still released.
func (s *Scraper) Run(ctx context.Context, in job.Input) (*Result, string, error) {
	sess, err := s.provider.CreateSession(ctx)
	if err != nil {
		return nil, "", err
	}
	sessionID := sess.ID()
	defer func() {
		// Release with a fresh context so a timed-out run still returns
		// the session.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := sess.Release(releaseCtx); rerr != nil {
			s.logger.Warn("session release failed",
				slog.String("session_id", sessionID),
				slog.String("error", rerr.Error()),
			)
		}
	}()

	s.logger.Debug("connecting to browser session",
		slog.String("session_id", sessionID),
	)

	client, err := cdp.Dial(ctx, sess.ConnectURL(), cdp.WithLogger(s.logger))
	if err != nil {
		return nil, sessionID, err
	}
	defer client.Close()

	page, err := client.AttachPage(ctx)
	if err != nil {
		return nil, sessionID, err
	}

	if err := page.Navigate(ctx, in.URL, waitEvent(in.WaitUntil)); err != nil {
		return nil, sessionID, err
	}

	title, err := page.Title(ctx)
	if err != nil {
		return nil, sessionID, err
	}
	length, err := page.ContentLength(ctx)
	if err != nil {
		return nil, sessionID, err
	}

	return &Result{
		PageTitle:     title,
		ContentLength: length,
		SessionID:     sessionID,
	}, sessionID, nil
}

const releaseTimeout = 15 * time.Second

// waitEvent maps the input's waitUntil value to the CDP lifecycle event.
func waitEvent(waitUntil string) string {
	if waitUntil == job.WaitLoad {
		return "Page.loadEventFired"
	}
	return "Page.domContentEventFired"
}
