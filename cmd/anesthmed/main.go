package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/anesthmed/anesthmed/cmd/anesthmed/cli"
	"github.com/anesthmed/anesthmed/internal/alerts"
	"github.com/anesthmed/anesthmed/internal/app"
	"github.com/anesthmed/anesthmed/internal/audit"
	audithttp "github.com/anesthmed/anesthmed/internal/audit/http"
	"github.com/anesthmed/anesthmed/internal/insights"
	insightshttp "github.com/anesthmed/anesthmed/internal/insights/http"
	"github.com/anesthmed/anesthmed/internal/inventory"
	"github.com/anesthmed/anesthmed/internal/observability"
	"github.com/anesthmed/anesthmed/internal/platform/cache"
	"github.com/anesthmed/anesthmed/internal/platform/db"
	"github.com/anesthmed/anesthmed/internal/rbac"
	"github.com/anesthmed/anesthmed/internal/shared"
	"github.com/anesthmed/anesthmed/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	locker := shared.NewLocker(redisClient, cfg.LockTTL)
	settings := alerts.NewSettingsStore(pool)

	insightsCache := insights.NewCache(redisClient, cfg.InsightsCacheTTL)
	insightsCache.ListenForInvalidation(ctx)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), inventory.Dependencies{
		Audit:       auditLogger,
		Approvals:   shared.NewApprovalRecorder(pool, logger),
		Idempotency: shared.NewIdempotencyStore(pool),
		Locks:       locker,
		Changes:     insightsCache,
		Metrics:     metrics,
		Logger:      logger.With(slog.String("component", "inventory")),
	}, inventory.ServiceConfig{Location: loc})

	auditService := audit.NewService(inventoryService,
		audit.NewRedisDrafts(redisClient, cfg.AuditDraftTTL),
		audit.NewRepository(pool),
		audit.Dependencies{
			AuditLog: auditLogger,
			Locks:    locker,
			Metrics:  metrics,
			Logger:   logger.With(slog.String("component", "audit")),
			Now:      inventoryService.Now,
		})
	insightsService := insights.NewService(inventoryService, settings, insightsCache, logger.With(slog.String("component", "insights")))

	rbacService := rbac.NewService()
	rbacMiddleware := rbac.NewMiddleware(rbacService, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     rbacMiddleware,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, settings, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, auditService, rbacMiddleware),
		InsightsHandler:    insightshttp.NewHandler(logger, insightsService, rbacMiddleware),
		SettingsHandler:    alerts.NewSettingsHandler(logger, settings, insightsCache, auditLogger, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(rbacService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Ready: func(r *http.Request) error {
			if err := pool.Ping(r.Context()); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			return redisClient.Ping(r.Context()).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", loc.String()))
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
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.Run(ctx, os.Stdout, args)
}
