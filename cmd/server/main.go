// Tutorflow - AI tutoring chat with quiz generation
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

	"github.com/dmelnik/tutorflow/internal/api"
	"github.com/dmelnik/tutorflow/internal/chat"
	"github.com/dmelnik/tutorflow/internal/config"
	"github.com/dmelnik/tutorflow/internal/llm"
	"github.com/dmelnik/tutorflow/internal/middleware"
	"github.com/dmelnik/tutorflow/internal/quiz"
	"github.com/dmelnik/tutorflow/internal/session"
	"github.com/dmelnik/tutorflow/internal/store"
	"github.com/dmelnik/tutorflow/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.LLM.Model)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Quiz results live in SQLite unless a Redis address is configured.
	var results store.ResultStore = repo
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			slog.Error("Redis health check failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		results = store.NewRedisResultStore(rdb, 0)
		slog.Info("Quiz results stored in Redis", "addr", cfg.RedisAddr)
	}

	// Initialize services.
	sessions := session.NewStore(repo)
	completer := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	chatSvc := chat.NewService(sessions, completer)
	executor := quiz.NewExecutor(repo, results, sessions, completer)

	// Re-drive quiz jobs interrupted by a previous shutdown. Steps that
	// already cached their result are skipped.
	if err := executor.ResumePending(context.Background()); err != nil {
		slog.Error("Failed to resume pending quiz jobs", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	handler := api.NewHandler(chatSvc, executor, results)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS())

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server. Chat turns wait on the inference gateway, so the write
	// timeout must comfortably exceed the gateway timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
