/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load .env + PAYPLAN_* environment
  2. Open the store (sqlite, postgres or memory)
  3. Connect the dashboard cache (redis, else in-process)
  4. Create service, handler and router
  5. Start the status re-evaluation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     .env file to load (default: .env, missing is fine)
  -port    HTTP server port (overrides PAYPLAN_SERVER_PORT)
  -db      SQLite database path (overrides PAYPLAN_DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go. Examples:
    PAYPLAN_DB_DRIVER=postgres PAYPLAN_DB_DSN=postgres://...
    PAYPLAN_REDIS_ADDR=localhost:6379
    PAYPLAN_LOG_FORMAT=json

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close cache and database connections

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/commission-engine/api"
	"github.com/warp/commission-engine/cache"
	"github.com/warp/commission-engine/config"
	"github.com/warp/commission-engine/paymentplan"
	"github.com/warp/commission-engine/store/memory"
	"github.com/warp/commission-engine/store/postgres"
	"github.com/warp/commission-engine/store/sqlite"
)

func main() {
	// Flags
	envFile := flag.String("env", ".env", "Environment file to load")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, closeStore, err := openStore(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeStore.Close()
	logger.Info("store ready", "driver", cfg.DB.Driver)

	// Dashboard cache
	var dashCache paymentplan.DashboardCache
	if rc := cache.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.TTL, logger); rc != nil {
		defer rc.Close()
		dashCache = rc
	} else {
		dashCache = cache.NewMemory(cfg.Redis.TTL)
	}

	// Service
	svc := paymentplan.NewService(store, dashCache)
	svc.Logger = logger
	svc.Resolver = paymentplan.NewStatusResolver(cfg.Engine.DueSoonWindowDays)
	svc.Options = paymentplan.AggregateOptions{
		DueSoonWindowDays: cfg.Engine.DueSoonWindowDays,
		ProjectionDays:    cfg.Engine.ProjectionDays,
		TopN:              cfg.Engine.TopColleges,
	}

	// Scheduler
	scheduler := api.NewStatusScheduler(svc, cfg.Scheduler.Cron, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Handler + router
	handler := api.NewHandler(svc, logger)
	handler.Scheduler = scheduler
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d/api", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store and its closer.
func openStore(db config.DBConfig) (paymentplan.TxStore, io.Closer, error) {
	switch db.Driver {
	case "postgres":
		s, err := postgres.New(db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return memory.New(), closerFunc(func() error { return nil }), nil
	default:
		s, err := sqlite.New(db.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
