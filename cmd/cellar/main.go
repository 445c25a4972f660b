package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/cellar/internal/app"
	audithttp "github.com/odyssey-erp/cellar/internal/audit/http"
	inventoryhttp "github.com/odyssey-erp/cellar/internal/inventory/http"
	"github.com/odyssey-erp/cellar/internal/observability"
	"github.com/odyssey-erp/cellar/internal/platform/cache"
	"github.com/odyssey-erp/cellar/internal/platform/db"
	"github.com/odyssey-erp/cellar/internal/rbac"
	"github.com/odyssey-erp/cellar/internal/roles"
	"github.com/odyssey-erp/cellar/internal/shared"
	"github.com/odyssey-erp/cellar/jobs"
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

	redisClient, err := cache.New(ctx, cfg.Redis())
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
	jobClient := jobs.NewClient(cfg.Redis().Asynq(), logger)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	services := app.BuildServices(app.ServiceDeps{
		Config:  cfg,
		Logger:  logger,
		Pool:    dbpool,
		Redis:   redisClient,
		Metrics: metrics,
		Minter:  jobClient,
	})
	if err := services.RBAC.SeedPermissions(ctx, shared.AllScopes()); err != nil {
		logger.Error("seed permissions", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(cfg.Redis().Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventoryhttp.NewHandler(logger, services.Inventory, services.Guard),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, services.RBAC, services.Guard),
		RolesHandler:       roles.NewHandler(logger, services.Roles, services.Guard),
		AuditHandler:       audithttp.NewHandler(logger, services.Audit, services.Guard),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Database:           dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
