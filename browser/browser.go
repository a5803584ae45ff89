// Package browser defines the browser session abstraction and the scrape
// task that runs against it.
//
// A [Provider] creates remote browser [Session]s; the shipped provider in
// browser/browserbase drives the Browserbase REST API. The [Scraper]
// connects to a session over the Chrome DevTools Protocol
// (browser/cdp), navigates to the requested URL, and reports the page
// title and content length.
package browser

import (
	"context"
)

// Session is a live remote browser instance. ConnectURL is a CDP
// WebSocket endpoint. Release returns the session to the provider;
// it is safe to call on a session whose work failed.
//
// ID is the provider's session identifier and is recorded on the job so
// operators can find the session in the provider's console.
type Session interface {
	ID() string
	ConnectURL() string
	Release(ctx context.Context) error
}

// Provider creates browser sessions. Creation failures should wrap
// browserq.ErrSessionFailed so callers can classify them.
type Provider interface {
	CreateSession(ctx context.Context) (Session, error)
}

// Result is the payload recorded for a successful scrape.
type Result struct {
	PageTitle     string `json:"pageTitle"`
	ContentLength int    `json:"contentLength"`
	SessionID     string `json:"sessionId,omitempty"`
}
