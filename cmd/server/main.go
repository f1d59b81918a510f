// Package main is the entrypoint for the KLibras API server.
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

	"github.com/KLibras/klibras-api/internal/api"
	"github.com/KLibras/klibras-api/internal/api/handler"
	mw "github.com/KLibras/klibras-api/internal/api/middleware"
	"github.com/KLibras/klibras-api/internal/api/response"
	"github.com/KLibras/klibras-api/internal/cache"
	"github.com/KLibras/klibras-api/internal/config"
	"github.com/KLibras/klibras-api/internal/queue"
	"github.com/KLibras/klibras-api/internal/recognition"
	"github.com/KLibras/klibras-api/internal/store"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "queue", cfg.Queue.Name)

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

	// 5. Connect to the broker
	transport, err := queue.DialWithBackoff(ctx, cfg.Queue.URL)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer transport.Close()
	slog.Info("broker connected")

	// 6. Create store and service
	pgStore := store.NewPostgresStore(pool)

	svc, err := recognition.NewService(pgStore, redisCache, transport,
		cfg.Queue.Name, cfg.Scorer.Actions, slog.Default())
	if err != nil {
		return fmt.Errorf("create recognition service: %w", err)
	}

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:  healthHandler(pgStore, redisCache, transport),
		SubmitHandler:  handler.NewSubmitHandler(svc, cfg.Server.MaxVideoSize),
		GetJobHandler:  handler.NewGetJobHandler(svc),
		HistoryHandler: handler.NewHistoryHandler(svc),
		ActionsHandler: handler.NewActionsHandler(svc),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 60 * time.Second,
		// Write timeout must cover the long-poll window on job reads.
		WriteTimeout: 150 * time.Second,
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

// brokerHealth is the slice of the transport the health check needs.
type brokerHealth interface {
	Closed() bool
}

// healthHandler checks database, cache, and broker connectivity.
func healthHandler(s store.Store, c cache.Cache, t brokerHealth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"broker":   "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if t.Closed() {
			checks["broker"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok" || checks["broker"] != "ok"
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
