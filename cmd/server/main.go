/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the calendar engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config (YAML, then APP_* env)
  2. Open the configured store (sqlite, postgres or memory)
  3. Create service, factory, repair scheduler and API handler
  4. Optionally seed demo data into an empty store
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional, missing file is ignored)
  -port    HTTP server port, overrides the configured listen address
  -db      SQLite database path, overrides the configured path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the repair scheduler
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/calendar.db"

  # Run against Postgres
  APP_DB_DRIVER=postgres APP_DB_DSN=postgres://localhost/calendar ./server

  # Run on different port with demo data
  APP_SEED_SAMPLES=true ./server -port=3000

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - events/service.go: Event lifecycle
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/calendar-engine/api"
	"github.com/warp/calendar-engine/calendar"
	memstore "github.com/warp/calendar-engine/calendar/store"
	"github.com/warp/calendar-engine/config"
	"github.com/warp/calendar-engine/events"
	"github.com/warp/calendar-engine/factory"
	appLog "github.com/warp/calendar-engine/log"
	"github.com/warp/calendar-engine/store/postgres"
	"github.com/warp/calendar-engine/store/sqlite"
)

// appStore is what the server needs from any driver.
type appStore interface {
	calendar.TxStore
	api.Resetter
}

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLog.Error("[Main] failed to load config", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Listen = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.DB.SQLitePath = *dbPath
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	// Initialize store
	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg.DB)
	if err != nil {
		appLog.Error("[Main] failed to initialize store", err, "driver", cfg.DB.Driver)
		os.Exit(1)
	}
	defer closeStore()

	// Initialize service and handler
	service := events.NewService(store, nil, events.Defaults{Timezone: cfg.Timezone})
	repair := events.NewRepairScheduler(service, cfg.RepairInterval)
	handler := api.NewHandler(service, factory.NewEventFactory(cfg.WeekStartDay()), repair, store)

	if cfg.SeedSamples {
		seed(ctx, service, handler)
	}

	repair.Start()
	defer repair.Stop()

	// Create server
	server := &http.Server{
		Addr: cfg.Listen,
		Handler: api.NewRouter(handler, api.RouterOptions{
			CORSOrigins:    cfg.CORSOrigins,
			MetricsEnabled: cfg.PrometheusEnabled,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		appLog.Info("[Main] server starting", "addr", cfg.Listen, "driver", cfg.DB.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("[Main] server failed", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("[Main] shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("[Main] server forced to shutdown", err)
	}

	appLog.Info("[Main] server stopped")
}

func openStore(ctx context.Context, cfg config.DBConfig) (appStore, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.NewTxMemory(), func() {}, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

// seed loads the standup sample when the store holds no events.
func seed(ctx context.Context, service *events.Service, handler *api.Handler) {
	existing, err := service.List(ctx)
	if err != nil {
		appLog.Error("[Main] failed to check store before seeding", err)
		return
	}
	if len(existing) > 0 {
		appLog.Info("[Main] store not empty, skipping seed", "events", len(existing))
		return
	}
	if err := handler.LoadSample(ctx, "standup"); err != nil {
		appLog.Error("[Main] failed to seed samples", err)
	}
}
