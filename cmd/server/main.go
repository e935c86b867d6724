package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jsha/blocktogether/internal/config"
	"github.com/jsha/blocktogether/internal/database"
	"github.com/jsha/blocktogether/internal/guard"
	"github.com/jsha/blocktogether/internal/handlers"
	"github.com/jsha/blocktogether/internal/logging"
	"github.com/jsha/blocktogether/internal/middleware"
	"github.com/jsha/blocktogether/internal/remote"
	"github.com/jsha/blocktogether/internal/routes"
	"github.com/jsha/blocktogether/internal/scheduler"
	"github.com/jsha/blocktogether/internal/services"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}
	if cfg.RemoteBearerToken == "" {
		slog.Error("REMOTE_BEARER_TOKEN environment variable is required")
		os.Exit(1)
	}
	if cfg.ReconcileEnqueue {
		slog.Info("reconciliation enqueue ENABLED, computed deltas will reach the remote service")
	} else {
		slog.Info("reconciliation running in dry-run mode")
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.Tee(logging.StdoutHandler(), pgLogHandler)))

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Engine
	clock := scheduler.NewClock()
	registry := guard.NewRegistry()
	client := remote.NewHTTPClient(cfg.RemoteBaseURL, cfg.RemoteBearerToken, cfg.RemoteRate, cfg.RemoteBurst)

	actionLog := services.NewActionLogService(database.DB)
	snapshots := services.NewSnapshotService(database.DB, client, clock, registry, cfg.RateLimitCooldown)
	fanout := services.NewFanoutService(database.DB)
	processor := services.NewProcessorService(database.DB, actionLog, snapshots, fanout, client, registry)
	reconcile := services.NewReconcileService(database.DB, actionLog, snapshots, cfg.ReconcileEnqueue)
	retention := services.NewRetentionService(database.DB, clock, cfg.UserReapAge, cfg.ActionPruneAge, cfg.PruneBatchSize, cfg.PruneBatchPause)

	sched, err := scheduler.New(16, clock)
	if err != nil {
		slog.Error("scheduler init failed", "error", err)
		os.Exit(1)
	}
	sched.Register(services.Jobs(cfg, database.DB, actionLog, snapshots, processor, reconcile, retention)...)

	jobCtx, stopJobs := context.WithCancel(context.Background())
	sched.Start(jobCtx)

	// Handlers
	healthHandler := handlers.NewHealthHandler()
	actionHandler := handlers.NewActionHandler(actionLog)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))

	// Routes
	routes.Setup(app, cfg, healthHandler, actionHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	stopJobs()
	sched.Stop(30 * time.Second)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Close database connections
	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
