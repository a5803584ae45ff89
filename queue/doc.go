// Package queue defines the dispatch transport between the intake gateway
// and the worker pool, plus dequeue-side rate limiting.
//
// A [Dispatcher] accepts job ids after the job record is durably created;
// a [Source] yields them to workers as [Delivery] values. The payload on the
// wire is only the job id: the store remains the single source of truth for
// job state, so a redelivered id is harmless (the claim transition is a
// compare-and-set and losers drop out).
//
// Two backends ship with the module:
//
//   - [ChannelQueue]: in-process buffered channel, for single-binary
//     deployments and tests.
//   - [sqs.Queue]: Amazon SQS with long polling, for deployments where
//     intake and workers run in separate processes.
//
// # Rate limiting
//
// [Limiter] gates dequeue with a token-bucket rate limiter
// (golang.org/x/time/rate) and an active-count concurrency cap:
//
//	lim := queue.NewLimiter(queue.LimiterConfig{RateLimit: 10, MaxConcurrency: 4})
//	if lim.Acquire() {
//	    defer lim.Release()
//	    // process the job
//	}
package queue
