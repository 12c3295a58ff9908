package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/artify-labs/artify/internal/queue"
	"github.com/cenkalti/backoff/v4"
)

// Conn is a consumer connection owned by one Runner.
type Conn interface {
	queue.Consumer
	io.Closer
}

// DialFunc opens a fresh connection.
type DialFunc func(ctx context.Context) (Conn, error)

// Runner keeps one consumer attached to a queue. When the connection drops
// it reconnects with exponential backoff until its context is cancelled.
type Runner struct {
	Name    string
	Queue   string
	Dial    DialFunc
	Handler queue.Handler

	InitialInterval time.Duration // default 500ms
	MaxInterval     time.Duration // default 30s
}

// Run blocks until ctx is done. It only returns nil.
func (r *Runner) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = orDefault(r.InitialInterval, 500*time.Millisecond)
	b.MaxInterval = orDefault(r.MaxInterval, 30*time.Second)
	b.MaxElapsedTime = 0

	log := slog.With("worker", r.Name, "queue", r.Queue)
	for {
		err := r.runOnce(ctx, b)
		if ctx.Err() != nil {
			log.Info("worker stopped")
			return nil
		}
		if err == nil {
			err = errors.New("consumer returned unexpectedly")
		}

		wait := b.NextBackOff()
		log.Warn("consumer stopped, reconnecting", "error", err, "wait", wait)
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, b backoff.BackOff) error {
	conn, err := r.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.Reset()
	slog.Info("worker consuming", "worker", r.Name, "queue", r.Queue)
	return conn.Consume(ctx, r.Queue, r.Handler)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
