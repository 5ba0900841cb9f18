package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"arbiter/features/job"
	"arbiter/internal/config"
	"arbiter/internal/logger"
	"arbiter/internal/orchestrator"
)

func main() {
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))

	if err := run(); err != nil {
		slog.Error("orchestrator exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := job.NewPostgresRepo(db)
	invoker := orchestrator.NewClient(cfg.ProcessAPIBaseURL, cfg.ProbeTimeout, cfg.CallbackTimeout)

	orch := orchestrator.New(store, invoker, orchestrator.Config{
		PollInterval:           cfg.PollIntervalEmpty,
		ErrorBackoff:           cfg.PollIntervalBackoff,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		RetentionPeriod:        cfg.RetentionPeriod,
		PurgeInterval:          cfg.PurgeInterval,
	})

	return orch.Run(ctx)
}

// connect opens the job store's database. The orchestrator runs as its own
// process, so it dials independently of the server.
func connect(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return db, nil
}
