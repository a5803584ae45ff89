package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/browserq/browserq/api"
	"github.com/browserq/browserq/browser"
	"github.com/browserq/browserq/browser/browserbase"
	"github.com/browserq/browserq/gateway"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/internal/config"
	"github.com/browserq/browserq/middleware"
	"github.com/browserq/browserq/queue"
	sqsqueue "github.com/browserq/browserq/queue/sqs"
	"github.com/browserq/browserq/secrets"
	"github.com/browserq/browserq/secrets/awssm"
	"github.com/browserq/browserq/store"
	"github.com/browserq/browserq/store/memory"
	"github.com/browserq/browserq/store/postgres"
	"github.com/browserq/browserq/store/redis"
	"github.com/browserq/browserq/worker"
)

// transport pairs the dispatch and receive sides of a queue backend.
type transport interface {
	queue.Dispatcher
	queue.Source
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	q, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	provider, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	scraper := browser.NewScraper(provider, browser.WithLogger(logger))

	workerID := id.NewWorkerID()
	executor := worker.NewExecutor(st, scraper, workerID,
		worker.WithExecutorLogger(logger),
		worker.WithExecutorRetries(cfg.Worker.StoreRetries),
		worker.WithMiddleware(
			middleware.Recover(logger),
			middleware.Logging(logger),
			middleware.Metrics(),
			middleware.Tracing(),
			middleware.Timeout(logger, cfg.Worker.ExecTimeout.Std()),
		),
	)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Worker.Concurrency),
		worker.WithHeartbeatInterval(cfg.Worker.HeartbeatInterval.Std()),
		worker.WithStaleJobThreshold(cfg.Worker.StaleJobThreshold.Std()),
		worker.WithPoolLogger(logger),
	}
	if cfg.Worker.RateLimit > 0 {
		poolOpts = append(poolOpts, worker.WithLimiter(queue.NewLimiter(queue.LimiterConfig{
			RateLimit:      cfg.Worker.RateLimit,
			RateBurst:      cfg.Worker.RateBurst,
			MaxConcurrency: cfg.Worker.Concurrency,
		})))
	}
	pool := worker.NewPool(st, q, executor, workerID, poolOpts...)

	gw := gateway.New(st, q,
		gateway.WithLogger(logger),
		gateway.WithRetries(cfg.Worker.StoreRetries),
	)

	a := api.New(gw, st, cfg.Server.APIKey, api.WithLogger(logger))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("store", cfg.Store.Backend),
			slog.String("queue", cfg.Queue.Backend),
			slog.String("worker_id", workerID.String()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout.Std())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("pool shutdown", slog.String("error", err.Error()))
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
		return redis.New(client, redis.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (transport, error) {
	switch cfg.Queue.Backend {
	case "channel":
		return queue.NewChannelQueue(cfg.Worker.QueueCapacity), nil
	case "sqs":
		awsCfg, err := loadAWSConfig(ctx, cfg.Queue.Region)
		if err != nil {
			return nil, err
		}
		return sqsqueue.New(awssqs.NewFromConfig(awsCfg), cfg.Queue.QueueURL,
			sqsqueue.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

func buildProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) (browser.Provider, error) {
	var sp secrets.Provider
	switch cfg.Secrets.Backend {
	case "env":
		sp = secrets.Env{}
	case "awssm":
		awsCfg, err := loadAWSConfig(ctx, cfg.Secrets.Region)
		if err != nil {
			return nil, err
		}
		sp = awssm.New(secretsmanager.NewFromConfig(awsCfg))
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Secrets.Backend)
	}

	return browserbase.New(browserbase.Config{
		Secrets:         secrets.NewCached(sp),
		APIKeySecret:    cfg.Browser.APIKeySecret,
		ProjectIDSecret: cfg.Browser.ProjectIDSecret,
		BaseURL:         cfg.Browser.BaseURL,
		Logger:          logger,
	})
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
