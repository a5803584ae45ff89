package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/browserq/browserq/job"
)

// Logging returns middleware that logs scrape start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("scrape started",
			slog.String("job_id", j.ID.String()),
			slog.String("url", j.Input.URL),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("scrape failed",
				slog.String("job_id", j.ID.String()),
				slog.String("url", j.Input.URL),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("scrape completed",
				slog.String("job_id", j.ID.String()),
				slog.String("url", j.Input.URL),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
