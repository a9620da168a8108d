package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"previewd/internal/adapter/repo"
	"previewd/internal/http/handlers"
	"previewd/internal/http/httpapi"
	"previewd/internal/infra"
	"previewd/internal/queue"
	"previewd/internal/status"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	shutdownTracer, err := infra.InitTracer("previewd-api", cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store := repo.NewPreviewRepository(dbpool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
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

	projector := status.NewProjector(store, jobQueue, 0)
	app := handlers.NewApp(store, jobQueue, projector, dbpool, cfg.WorkerConcurrency, logger)

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Str("addr", server.Addr()).Msg("API listening")
	if err := server.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
	logger.Info().Msg("server stopped")
}
