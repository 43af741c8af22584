// Package main is the entrypoint for the askdeck API server.
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

	"github.com/joho/godotenv"

	"github.com/askdeck/askdeck/internal/api"
	"github.com/askdeck/askdeck/internal/api/handler"
	mw "github.com/askdeck/askdeck/internal/api/middleware"
	"github.com/askdeck/askdeck/internal/api/response"
	"github.com/askdeck/askdeck/internal/cache"
	"github.com/askdeck/askdeck/internal/config"
	"github.com/askdeck/askdeck/internal/notify"
	"github.com/askdeck/askdeck/internal/provision"
	"github.com/askdeck/askdeck/internal/rag"
	ragmock "github.com/askdeck/askdeck/internal/rag/mock"
	ragopenai "github.com/askdeck/askdeck/internal/rag/openai"
	"github.com/askdeck/askdeck/internal/storage"
	"github.com/askdeck/askdeck/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "rag_provider", cfg.RAG.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create blob storage for uploaded documents
	blobs, err := storage.NewLocal(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("create blob storage: %w", err)
	}

	// 6. Create the AI service client
	ragClient, err := newRAGClient(cfg.RAG)
	if err != nil {
		return fmt.Errorf("create rag client: %w", err)
	}
	slog.Info("rag client initialized", "provider", ragClient.Name())

	// 7. Create store
	pgStore := store.NewPostgresStore(pool)

	// 8. Start callback dispatcher
	notifier := notify.NewDispatcher(cfg.Callback)
	notifier.Start()
	defer notifier.Stop()

	// 9. Provisioning service
	svc := provision.NewService(pgStore, redisCache, blobs, ragClient, notifier,
		cfg.Provision.JobTimeout, cfg.Provision.MaxDocuments)

	// 10. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		CreateCollectionHandler: handler.NewCreateCollectionHandler(svc),
		PollJobHandler:          handler.NewPollJobHandler(svc),
		ListCollectionsHandler:  handler.NewListCollectionsHandler(pgStore),
		GetCollectionHandler:    handler.NewGetCollectionHandler(pgStore),
		ListCollectionDocuments: handler.NewListCollectionDocumentsHandler(pgStore),
		DeleteCollectionHandler: handler.NewDeleteCollectionHandler(svc),

		UploadDocumentHandler: handler.NewUploadDocumentHandler(pgStore, blobs),
		ListDocumentsHandler:  handler.NewListDocumentsHandler(pgStore),
		GetDocumentHandler:    handler.NewGetDocumentHandler(pgStore),
		DeleteDocumentHandler: handler.NewDeleteDocumentHandler(pgStore, blobs),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 11. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newRAGClient selects the AI service adapter from config. The mock provider
// exists for local development without OpenAI credentials.
func newRAGClient(cfg config.RAGConfig) (rag.Client, error) {
	switch cfg.Provider {
	case "openai":
		return ragopenai.NewClient(cfg.OpenAI.APIKey, cfg.RequestTimeout, cfg.MaxAttempts), nil
	case "mock":
		return ragmock.NewClient(), nil
	default:
		return nil, fmt.Errorf("unknown rag provider %q", cfg.Provider)
	}
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
