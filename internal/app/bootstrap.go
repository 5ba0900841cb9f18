package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"arbiter/internal/adapter/chatapi"
	"arbiter/internal/adapter/gemini"
	"arbiter/internal/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

type Dependencies struct {
	DB        *sql.DB
	Chat      *chatapi.Client
	Generator *gemini.Generator
	BotUserID string
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Retry loop
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Chat platform client and bot identity. Without an identity the bot
	// cannot see its own mentions, but direct messages still work, so a
	// failed lookup degrades instead of aborting.
	chat := chatapi.NewClient(cfg.ChatAPIBaseURL, cfg.ChatBotToken)
	botUserID, err := chat.AuthTest(ctx)
	if err != nil {
		slog.Warn("failed to resolve bot identity, mention detection disabled", "error", err)
		botUserID = ""
	} else {
		slog.Info("resolved bot identity", "bot_user_id", botUserID)
	}

	// Model provider
	gen, err := gemini.NewGenerator(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("gemini client error: %w", err)
	}

	return &Dependencies{
		DB:        db,
		Chat:      chat,
		Generator: gen,
		BotUserID: botUserID,
	}, nil
}

func (d *Dependencies) Close() {
	if err := d.Generator.Close(); err != nil {
		slog.Warn("failed to close gemini client", "error", err)
	}
	if err := d.DB.Close(); err != nil {
		slog.Warn("failed to close db", "error", err)
	}
}
