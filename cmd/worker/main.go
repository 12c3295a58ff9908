// Package main is the entrypoint for Artify workers. Each worker consumes the
// task queue, runs detection and generation, and records the outcome.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/artify-labs/artify/internal/ai"
	"github.com/artify-labs/artify/internal/cache"
	"github.com/artify-labs/artify/internal/config"
	"github.com/artify-labs/artify/internal/logger"
	"github.com/artify-labs/artify/internal/queue"
	"github.com/artify-labs/artify/internal/store"
	"github.com/artify-labs/artify/internal/vision"
	"github.com/artify-labs/artify/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	// Postprocess messages are published on a connection of their own so a
	// consumer reconnect never drops one.
	publisher, err := queue.Dial(ctx, cfg.RabbitMQ)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer publisher.Close()

	pgStore := store.NewPostgresStore(pool)

	runners, err := newRunners(cfg, pgStore, collaborators(cfg), redisCache, publisher, dialer(cfg.RabbitMQ))
	if err != nil {
		return err
	}
	slog.Info("starting workers", "count", len(runners), "task_queue", cfg.RabbitMQ.TaskQueue)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("workers stopped")
	return nil
}

func dialer(cfg config.RabbitMQConfig) worker.DialFunc {
	return func(ctx context.Context) (worker.Conn, error) {
		return queue.Dial(ctx, cfg)
	}
}

// collabFunc builds the detection and generation clients for one worker.
type collabFunc func() (vision.Detector, ai.Generator, error)

func collaborators(cfg *config.Config) collabFunc {
	return func() (vision.Detector, ai.Generator, error) {
		g, err := ai.NewGenerator(cfg.Generation)
		if err != nil {
			return nil, nil, fmt.Errorf("create generator: %w", err)
		}
		return vision.NewHTTPDetector(cfg.Detection.URL, cfg.Detection.Timeout), g, nil
	}
}

// newRunners builds cfg.Worker.Concurrency task consumers plus, when enabled,
// one postprocess consumer. Every runner owns its own connection and its own
// collaborator clients, so one worker's circuit breakers never trip another's.
func newRunners(cfg *config.Config, st worker.Store, newCollab collabFunc,
	c worker.Invalidator, p queue.Publisher, dial worker.DialFunc) ([]*worker.Runner, error) {

	wcfg := worker.Config{
		PostprocessQueue:   cfg.RabbitMQ.PostprocessQueue,
		PostprocessEnabled: cfg.Worker.PostprocessEnabled,
		Style:              cfg.Generation.Style,
		Fallback:           cfg.Worker.FallbackInterpretation,
		RetryAttempts:      cfg.Retry.Attempts,
		RetryDelay:         cfg.Retry.Delay,
		DetectTimeout:      cfg.Detection.Timeout,
		GenerateTimeout:    cfg.Generation.Timeout,
		StoreTimeout:       cfg.Database.QueryTimeout,
	}

	runners := make([]*worker.Runner, 0, cfg.Worker.Concurrency+1)
	for i := 1; i <= cfg.Worker.Concurrency; i++ {
		d, g, err := newCollab()
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("worker-%d", i)
		slog.Info("worker initialized", "worker", name, "provider", g.Name())

		runners = append(runners, &worker.Runner{
			Name:    name,
			Queue:   cfg.RabbitMQ.TaskQueue,
			Dial:    dial,
			Handler: worker.NewProcessor(st, d, g, c, p, wcfg).Handle,
		})
	}

	if cfg.Worker.PostprocessEnabled {
		runners = append(runners, &worker.Runner{
			Name:    "postprocess",
			Queue:   cfg.RabbitMQ.PostprocessQueue,
			Dial:    dial,
			Handler: worker.NewPostprocessor(st, c, cfg.Database.QueryTimeout).Handle,
		})
	}
	return runners, nil
}
