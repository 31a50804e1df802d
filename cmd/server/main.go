/*
main.go - Application entry point

PURPOSE:
  Starts the PTO engine HTTP server. Handles configuration, dependency
  injection, reference-data seeding, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, then PTO_* environment)
  2. Build the zap logger
  3. Open the store selected by database.driver
  4. Apply reference data (embedded defaults, then reference.seed_file)
  5. Build the engine, handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    Overrides server.port
  -db      Overrides database.path (sqlite). ":memory:" is allowed

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  ./server -config=config.yaml
  PTO_DATABASE_DRIVER=postgres PTO_DATABASE_URL=postgres://... ./server
  PTO_AUTH_REQUIRED=false ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go:    Router configuration
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

	"github.com/shopspring/decimal"
	"github.com/warp/pto-engine/api"
	"github.com/warp/pto-engine/config"
	"github.com/warp/pto-engine/factory"
	"github.com/warp/pto-engine/generic"
	"github.com/warp/pto-engine/leave"
	"github.com/warp/pto-engine/logging"
	"github.com/warp/pto-engine/store/memory"
	"github.com/warp/pto-engine/store/postgres"
	"github.com/warp/pto-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))

	clock := generic.SystemClock{}
	if err := seed(ctx, store, cfg.Reference, clock.Now(), logger); err != nil {
		return err
	}

	engine := leave.NewEngine(store, clock, decimal.NewFromInt(int64(cfg.Leave.HoursPerDay)), logger)
	handler := api.NewHandler(engine, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Auth: api.AuthConfig{
			Secret:   cfg.Auth.JWTSecret,
			Required: cfg.Auth.Required,
		},
	})
	if !cfg.Auth.Required {
		logger.Warn("auth.required is false: X-Actor-ID/X-Actor-Role headers are trusted")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (leave.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, postgres.Config{URL: cfg.URL, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return s, s.Close, nil
	case config.DriverMemory:
		return memory.New(), func() {}, nil
	default:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
}

// seed applies the embedded handbook, then the configured file on top.
func seed(ctx context.Context, store leave.Store, cfg config.ReferenceConfig, now time.Time, logger *zap.Logger) error {
	doc := &factory.Document{}
	if cfg.SeedDefaults {
		defaults, err := factory.Defaults()
		if err != nil {
			return err
		}
		doc.Merge(defaults)
	}
	if cfg.SeedFile != "" {
		extra, err := factory.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		doc.Merge(extra)
	}
	if len(doc.LeaveTypes) == 0 && len(doc.Employees) == 0 && len(doc.Departments) == 0 {
		logger.Warn("no reference data applied")
		return nil
	}

	ref, err := doc.Compile()
	if err != nil {
		return fmt.Errorf("invalid reference data: %w", err)
	}
	sum, err := factory.Apply(ctx, store, ref, now)
	if err != nil {
		return err
	}
	logger.Info("reference data applied",
		zap.Int("leave_types", sum.LeaveTypes),
		zap.Int("policies", sum.Policies),
		zap.Int("tiers", sum.Tiers),
		zap.Int("departments", sum.Departments),
		zap.Int("employees", sum.Employees),
	)
	return nil
}
