package browserq

import "time"

// Config holds tunables shared by the gateway and the worker pool.
type Config struct {
	// Concurrency is the maximum number of jobs executed concurrently
	// by one worker pool.
	Concurrency int

	// QueueCapacity is the buffer size of the in-process dispatch queue.
	QueueCapacity int

	// ExecTimeout bounds a single automation run, including browser
	// session acquisition. Exceeding it fails the job.
	ExecTimeout time.Duration

	// StoreRetries is how many times a failed store write (create or
	// terminal transition) is retried before giving up.
	StoreRetries int

	// HeartbeatInterval is how often running jobs are heartbeated.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long a running job may go without a
	// heartbeat before the reaper fails it as lost.
	StaleJobThreshold time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		QueueCapacity:     256,
		ExecTimeout:       90 * time.Second,
		StoreRetries:      3,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 2 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
	}
}
