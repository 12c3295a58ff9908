// Package main is the entrypoint for the Artify gateway: it accepts uploads,
// records them and hands them to the work queue.
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

	"github.com/artify-labs/artify/internal/api"
	"github.com/artify-labs/artify/internal/api/handler"
	mw "github.com/artify-labs/artify/internal/api/middleware"
	"github.com/artify-labs/artify/internal/auth"
	"github.com/artify-labs/artify/internal/cache"
	"github.com/artify-labs/artify/internal/config"
	"github.com/artify-labs/artify/internal/jobs"
	"github.com/artify-labs/artify/internal/logger"
	"github.com/artify-labs/artify/internal/queue"
	"github.com/artify-labs/artify/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// broker is what the gateway needs from the work queue.
type broker interface {
	queue.Publisher
	Ping(ctx context.Context) error
}

func run() error {
	// 1. Load config; fail fast when it is invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.Info("config loaded", "env", cfg.Server.Env, "auth_required", cfg.Auth.Required)

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

	// 5. Connect to the work queue
	mq, err := queue.Dial(ctx, cfg.RabbitMQ)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer mq.Close()
	slog.Info("rabbitmq connected", "task_queue", cfg.RabbitMQ.TaskQueue)

	// 6. Build router with dependencies
	router := api.NewRouter(newDependencies(cfg, store.NewPostgresStore(pool), redisCache, mq))

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newDependencies wires the HTTP layer to its collaborators.
func newDependencies(cfg *config.Config, st store.Store, c cache.Cache, mq broker) api.Dependencies {
	svc := jobs.NewService(st, c, mq, jobs.Config{
		TaskQueue:            cfg.RabbitMQ.TaskQueue,
		MaxUploadBytes:       cfg.Server.MaxUploadBytes,
		AcceptedContentTypes: cfg.Server.AcceptedContentTypes,
		CacheTTL:             cfg.Redis.RecordCacheTTL,
		StoreTimeout:         cfg.Database.QueryTimeout,
		PostprocessEnabled:   cfg.Worker.PostprocessEnabled,
	})

	return api.Dependencies{
		Auth:      mw.NewAuth(newVerifier(cfg.Auth, st), cfg.Auth.Required),
		RateLimit: mw.NewRateLimit(c, cfg.Server.RateLimitPerMinute),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": st,
			"cache":    c,
			"queue":    mq,
		}),
		ProcessHandler: handler.NewProcessHandler(svc, cfg.Server.MaxUploadBytes),
		StatusHandler:  handler.NewStatusHandler(svc),
		HistoryHandler: handler.NewHistoryHandler(svc),
	}
}

// newVerifier accepts API keys always and JWTs only when a secret is configured.
func newVerifier(cfg config.AuthConfig, keys auth.APIKeyStore) auth.Chain {
	chain := auth.Chain{APIKey: auth.NewAPIKeyVerifier(keys)}
	if cfg.JWTSecret != "" {
		chain.JWT = auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	}
	return chain
}
