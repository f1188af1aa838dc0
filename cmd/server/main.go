/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loan ledger HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, environment, flags)
  2. Open the configured store
  3. Resolve the import profile
  4. Create API handler and router
  5. Start the billing export scheduler (when export.cron is set)
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port (overrides config)
  -store   sqlite | postgres | memory (overrides config)
  -db      SQLite path or PostgreSQL DSN (overrides config)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the export scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_grace_seconds)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/koperasi.db"

  # Run against PostgreSQL
  ./server -store=postgres -db="postgres://koperasi@localhost/koperasi"

  # Run in memory on a different port
  ./server -store=memory -port=3000

SEE ALSO:
  - config/config.go: Configuration sources and environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Billing export
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

	"github.com/koperasi/loan-ledger/api"
	"github.com/koperasi/loan-ledger/config"
	"github.com/koperasi/loan-ledger/logger"
	"github.com/koperasi/loan-ledger/store"
	"github.com/rs/zerolog"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	driver := flag.String("store", "", "Store driver: sqlite, postgres or memory")
	dsn := flag.String("db", "", "SQLite path or PostgreSQL DSN")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Store.Driver = *driver
	}
	if *dsn != "" {
		cfg.Store.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx := context.Background()

	// Initialize store
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer st.Close()

	profile, err := cfg.Profile()
	if err != nil {
		return err
	}
	log.Info().
		Str("store", cfg.Store.Driver).
		Str("profile", profile.Name).
		Str("rule", profile.Loan.Rule.Name()).
		Bool("atomic_publish", profile.Loan.AtomicPublish).
		Msg("configuration loaded")

	// Initialize handler
	handler := api.NewHandler(st, profile, log)
	handler.PreviewRows = cfg.Server.PreviewRows
	handler.MaxUploadBytes = int64(cfg.Server.MaxUploadMB) << 20

	router := api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.Server.CORSOrigins, Log: log})

	if cfg.Export.Cron != "" {
		exporter := api.NewBillingExporter(st, handler.Billing, cfg.Export.Dir, log)
		sched, err := api.NewExportScheduler(cfg.Export.Cron, cfg.Export.TimeZone, exporter, log)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msgf("API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownGrace)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
