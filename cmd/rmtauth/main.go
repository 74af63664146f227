package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meeraPraveen/RMTLogistics-sub000/internal/app"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/backlog"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/company"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/identity"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/idp"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/observability"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/permissions"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/platform/cache"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/platform/db"
	"github.com/meeraPraveen/RMTLogistics-sub000/internal/shared"
	"github.com/meeraPraveen/RMTLogistics-sub000/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	idpClient := idp.NewClient(idp.Config{
		Domain:       cfg.IdPDomain,
		ClientID:     cfg.IdPClientID,
		ClientSecret: cfg.IdPClientSecret,
		Audience:     cfg.IdPAudience,
		Connection:   cfg.IdPConnection,
		Timeout:      cfg.IdPTimeout,
	}, logger)

	permissionsRepo := permissions.NewRepository(dbpool)
	permissionsCache := permissions.NewRedisCache(redisClient, cfg.PermissionCacheTTL)
	permissionsService := permissions.NewService(permissionsRepo, permissionsCache)
	permissionsHandler := permissions.NewHandler(logger, permissionsService)

	identityRepo := identity.NewRepository(dbpool)
	companyRepo := company.NewRepository(dbpool)

	dispatcher := identity.NewDispatcher(idpClient, identityRepo, companyRepo, permissionsService)
	backlogRepo := backlog.NewRepository(dbpool)
	backlogService := backlog.NewService(backlogRepo, dispatcher, logger, metrics, cfg.SyncMaxRetries)
	backlogHandler := backlog.NewHandler(logger, backlogService)

	identityService := identity.NewService(identityRepo, idpClient, permissionsService,
		backlogService, companyRepo, auditLogger, metrics, logger, cfg.SyncInlineAttempts)
	identityHandler := identity.NewHandler(logger, identityService)

	companyService := company.NewService(companyRepo, idpClient, backlogService, auditLogger, logger)
	companyHandler := company.NewHandler(logger, companyService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		IdentityHandler:    identityHandler,
		CompanyHandler:     companyHandler,
		PermissionsHandler: permissionsHandler,
		BacklogHandler:     backlogHandler,
		JobHandler:         jobHandler,
		Pool:               dbpool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
