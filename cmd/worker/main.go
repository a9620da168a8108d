package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"previewd/internal/adapter/repo"
	"previewd/internal/deploy"
	"previewd/internal/generator"
	"previewd/internal/infra"
	"previewd/internal/pipeline"
	"previewd/internal/queue"
	"previewd/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	shutdownTracer, err := infra.InitTracer("previewd-worker", cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to init tracer")
	}
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer dbpool.Close()

	store := repo.NewPreviewRepository(dbpool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to ensure schema")
	}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb, queue.Config{
		MaxAttempts:     cfg.MaxAttempts,
		JobTimeout:      cfg.JobTimeout,
		Backoff:         queue.ExponentialBackoff(cfg.RetryBackoffBase),
		RetentionWindow: cfg.RetentionWindow,
		CompletedKeep:   cfg.CompletedKeep,
		FailedKeep:      cfg.FailedKeep,
	}, logger)

	workspaces, err := storage.NewWorkspaces(cfg.WorkspaceDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure workspaces")
	}

	gen, err := generator.NewTemplateGenerator(cfg.TemplateDir, workspaces, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure generator")
	}

	if cfg.NetlifyAuthToken == "" {
		logger.Warn().Msg("worker: netlify token missing, deploys will fail until configured")
	}
	target := deploy.NewNetlifyTarget(deploy.Options{
		AuthToken: cfg.NetlifyAuthToken,
		APIBase:   cfg.NetlifyAPIBase,
		Logger:    logger,
	})

	tracer := otel.GetTracerProvider().Tracer("previewd-worker")
	pipe := pipeline.New(store, gen, target, workspaces, pipeline.Options{Tracer: tracer}, logger)

	go jobQueue.RunCleanup(ctx, cfg.CleanupInterval)

	pool := queue.NewPool(jobQueue, pipe, cfg.WorkerConcurrency, logger)
	pool.Start(ctx)

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
