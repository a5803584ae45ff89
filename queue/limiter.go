package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterConfig defines dequeue-side throttling for the worker pool.
type LimiterConfig struct {
	// RateLimit is the maximum sustained deliveries per second handed to
	// workers. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxConcurrency limits how many jobs may run simultaneously across
	// the local worker pool. Zero means no limit.
	MaxConcurrency int
}

// Limiter enforces dequeue rate and concurrency limits.
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	config  LimiterConfig
	limiter *rate.Limiter
	active  int
}

// NewLimiter creates a Limiter with the given configuration.
func NewLimiter(cfg LimiterConfig) *Limiter {
	l := &Limiter{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return l
}

// Acquire checks rate and concurrency limits. If the delivery is allowed
// to proceed it increments the active counter and returns true. The
// caller MUST call Release when the job completes.
func (l *Limiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limiter != nil && !l.limiter.Allow() {
		return false
	}
	if l.config.MaxConcurrency > 0 && l.active >= l.config.MaxConcurrency {
		return false
	}

	l.active++
	return true
}

// Release decrements the active job count.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}

// ActiveCount returns the current number of active jobs.
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
