package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/browserq/browserq/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// Jobs that carry a TimeoutMs in their input use that; otherwise fallback
// applies. When the deadline is exceeded the context is cancelled and the
// handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		timeout := fallback
		if j.Input.TimeoutMs > 0 {
			timeout = time.Duration(j.Input.TimeoutMs) * time.Millisecond
		}
		if timeout > 0 {
			logger.Debug("scrape timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
