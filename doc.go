// Package browserq provides an asynchronous browser-automation job
// service. Callers submit a scrape job over HTTP, receive a job id
// immediately, and poll for the outcome later; a worker pool claims
// each job exactly once through a conditional status transition and
// drives a remote browser session to completion.
//
// The repository is organised as a library with a thin binary on top.
// The job package defines the record, the status state machine, and the
// Store contract; store/memory, store/postgres, and store/redis
// implement it. The gateway package creates and dispatches jobs, the
// worker package claims and executes them, and the api package exposes
// the HTTP surface.
//
// # Quick Start
//
//	st := memory.New()
//	q := queue.NewChannelQueue(256)
//	gw := gateway.New(st, q)
//
//	workerID := id.NewWorkerID()
//	exec := worker.NewExecutor(st, scraper, workerID)
//	pool := worker.NewPool(st, q, exec, workerID, worker.WithPoolConcurrency(4))
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers ("job_01h2x...").
package browserq
