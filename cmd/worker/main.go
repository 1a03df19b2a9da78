package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerlab/gateway/internal/app"
	"github.com/peerlab/gateway/internal/asn"
	"github.com/peerlab/gateway/internal/enrich"
	"github.com/peerlab/gateway/internal/platform/cache"
	"github.com/peerlab/gateway/internal/prefix"
	"github.com/peerlab/gateway/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var resolver enrich.Resolver = enrich.Noop{}
	if cfg.EnrichmentConfigured() {
		idp := enrich.NewIdP(enrich.IdPConfig{
			ManagementAPI: cfg.IdPManagementAPI,
			AppID:         cfg.IdPM2MAppID,
			AppSecret:     cfg.IdPM2MAppSecret,
		})
		resolver = enrich.NewCached(idp, redisClient, cfg.EmailCacheTTL)
	} else {
		logger.Warn("identity provider not fully configured, warmup runs will be no-ops")
	}

	asnPool := asn.NewPool(cfg.ASNPoolStart, cfg.ASNPoolEnd)
	asnRepo := asn.NewRepository(pool)

	prefixPool, err := prefix.LoadPool(cfg.PrefixPoolFile, logger)
	if err != nil {
		logger.Error("load prefix pool", slog.Any("error", err))
		os.Exit(1)
	}
	prefixRepo := prefix.NewRepository(pool)

	warmupJob := jobs.NewEnrichWarmupJob(asnRepo, resolver, logger, nil)
	reportJob := jobs.NewPoolsReportJob(asnRepo, asnPool, prefixRepo, prefixPool, logger, nil)

	warmupTask, err := jobs.NewEnrichWarmupTask("all")
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	reportTask, err := jobs.NewPoolsReportTask()
	if err != nil {
		logger.Error("build report task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskEnrichWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskPoolsReport, Handler: reportJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 * * * *", Task: reportTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
