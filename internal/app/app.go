package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"arbiter/features/duel"
	"arbiter/features/job"
	"arbiter/features/prefs"
	"arbiter/features/processing"
	"arbiter/features/stats"
	"arbiter/features/webhook"
	"arbiter/internal/adapter/chatapi"
	"arbiter/internal/audit"
	"arbiter/internal/config"
	"arbiter/internal/middleware"
)

type App struct {
	Handler http.Handler
	port    int
}

func New(cfg *config.Config, db *sql.DB, gen processing.Generator, chat *chatapi.Client, botUserID string) (*App, error) {
	auditLog, err := audit.NewFileLogger(cfg.AuditLogPath)
	if err != nil {
		slog.Warn("failed to create audit log file, falling back to stdout", "error", err)
		auditLog = audit.NewLogger(os.Stdout)
	}

	// Feature: Job queue
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo)
	jobHandler := job.NewHandler(jobService)

	// Feature: Preferences
	prefsRepo := prefs.NewPostgresRepo(db)
	prefsService := prefs.NewService(prefsRepo)
	prefsHandler := prefs.NewHandler(prefsService)

	// Feature: Duel
	duelRepo := duel.NewPostgresRepo(db)
	duelService := duel.NewService(duelRepo)
	duelHandler := duel.NewHandler(duelService, chat, auditLog)

	// Feature: Processing callback
	processingService := processing.NewService(gen, chat, duelService, prefsService, auditLog, botUserID)
	processingHandler := processing.NewHandler(processingService)

	// Feature: Webhook intake
	webhookHandler := webhook.NewHandler(jobService, auditLog, botUserID)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobService, duelService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /event", middleware.CorrelationID(enableCORS(webhookHandler.HandleEvent)))
	mux.Handle("POST /interactive", middleware.CorrelationID(enableCORS(duelHandler.Interact)))
	mux.Handle("POST /process-job", middleware.CorrelationID(enableCORS(processingHandler.ProcessJob)))

	// /jobs/failed predates the status filter and stays for the dashboard.
	mux.Handle("GET /jobs", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /preferences/{userID}", middleware.CorrelationID(enableCORS(prefsHandler.GetPreferences)))
	mux.Handle("PUT /preferences/{userID}", middleware.CorrelationID(enableCORS(prefsHandler.UpdatePreferences)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler: mux,
		port:    cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
