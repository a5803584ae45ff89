package browserq

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("browserq: no store configured")
	ErrStoreClosed = errors.New("browserq: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("browserq: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("browserq: job already exists")

	// ErrStatusConflict is returned by a conditional transition when the
	// record's current status does not match the expected one. For the
	// pending→running claim this is how every claimant but the first
	// learns it lost the race.
	ErrStatusConflict = errors.New("browserq: job status conflict")

	// Validation errors.
	ErrInvalidInput = errors.New("browserq: invalid job input")

	// Dispatch errors.
	ErrQueueClosed = errors.New("browserq: queue closed")

	// Browser session errors.
	ErrSessionFailed = errors.New("browserq: browser session failed")

	// Auth errors.
	ErrUnauthorized = errors.New("browserq: missing or invalid api key")
)
