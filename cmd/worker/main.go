package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/app"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/backlog"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/company"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/identity"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
	jobmetrics "github.com/meeraPraveen/RMTLogistics-sub000/internal/jobs"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/observability"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/permissions"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/platform/db"
	"github.com/meeraPraveen/RMTLogistics-sub000/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	idpClient := idp.NewClient(idp.Config{
		Domain:       cfg.IdPDomain,
		ClientID:     cfg.IdPClientID,
		ClientSecret: cfg.IdPClientSecret,
		Audience:     cfg.IdPAudience,
		Connection:   cfg.IdPConnection,
		Timeout:      cfg.IdPTimeout,
	}, logger)

	identityRepo := identity.NewRepository(pool)
	companyRepo := company.NewRepository(pool)
	resolver := permissions.NewService(permissions.NewRepository(pool), nil)
	dispatcher := identity.NewDispatcher(idpClient, identityRepo, companyRepo, resolver)

	backlogRepo := backlog.NewRepository(pool)
	backlogService := backlog.NewService(backlogRepo, dispatcher, logger, metrics, cfg.SyncMaxRetries)

	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	drainJob := jobs.NewBacklogDrainJob(backlogService, logger, cfg.BacklogBatchSize)
	drainJob.Metrics = jobMetrics
	cleanupJob := jobs.NewCleanupJob(backlogService, logger, cfg.BacklogRetention)
	cleanupJob.Metrics = jobMetrics

	drainTask, err := jobs.NewDrainBacklogTask(cfg.BacklogBatchSize)
	if err != nil {
		logger.Error("build drain task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewCleanupBacklogTask(cfg.BacklogRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSyncDrainBacklog, Handler: drainJob.Handle},
			{Type: jobs.TaskSyncCleanupBacklog, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: drainTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "45 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis_addr", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
