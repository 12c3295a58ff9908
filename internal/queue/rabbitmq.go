package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artify-labs/artify/internal/config"
	"github.com/artify-labs/artify/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ implements Publisher and Consumer on a single AMQP connection.
// Messages go through the default exchange with the queue name as routing key.
type RabbitMQ struct {
	cfg config.RabbitMQConfig

	mu   sync.Mutex
	conn *amqp.Connection
}

// Dial connects to the broker, retrying cfg.ConnectAttempts times with a fixed
// cfg.ConnectDelay between attempts. Exhaustion yields ErrQueueUnavailable.
func Dial(ctx context.Context, cfg config.RabbitMQConfig) (*RabbitMQ, error) {
	conn, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RabbitMQ{cfg: cfg, conn: conn}, nil
}

func dial(ctx context.Context, cfg config.RabbitMQConfig) (*amqp.Connection, error) {
	policy := retry.Policy{
		Attempts: cfg.ConnectAttempts,
		Delay:    cfg.ConnectDelay,
		OnRetry: func(err error, attempt int, wait time.Duration) {
			slog.Warn("rabbitmq connect failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	conn, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*amqp.Connection, error) {
		return amqp.Dial(cfg.URL)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return conn, nil
}

// IsConnected checks if the RabbitMQ connection is valid.
func (r *RabbitMQ) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && !r.conn.IsClosed()
}

// Ping reports ErrQueueUnavailable when the connection is closed.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	if !r.IsConnected() {
		return fmt.Errorf("%w: connection closed", ErrQueueUnavailable)
	}
	return nil
}

// channel opens a channel, dialling once if the connection has dropped.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		conn, err := dial(ctx, config.RabbitMQConfig{
			URL:             r.cfg.URL,
			ConnectAttempts: 1,
		})
		if err != nil {
			return nil, err
		}
		r.conn = conn
	}

	ch, err := r.conn.Channel()
	if err != nil {
		// The connection is unusable; the next call dials a fresh one.
		_ = r.conn.Close()
		r.conn = nil
		return nil, fmt.Errorf("%w: open channel: %v", ErrQueueUnavailable, err)
	}
	return ch, nil
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// Publish sends body to queue as a persistent message and waits for the broker
// to confirm it. Each attempt is bounded by the publish timeout; failed attempts
// are retried cfg.ConnectAttempts times, cfg.ConnectDelay apart, re-dialling
// a dropped connection, before ErrQueueUnavailable is returned.
func (r *RabbitMQ) Publish(ctx context.Context, queue string, body []byte) error {
	policy := retry.Policy{
		Attempts: r.cfg.ConnectAttempts,
		Delay:    r.cfg.ConnectDelay,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnRetry: func(err error, attempt int, wait time.Duration) {
			slog.Warn("rabbitmq publish failed, retrying", "queue", queue, "attempt", attempt, "wait", wait, "error", err)
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return r.publishOnce(ctx, queue, body)
	})
	if err != nil && !errors.Is(err, ErrQueueUnavailable) {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	return err
}

func (r *RabbitMQ) publishOnce(ctx context.Context, queue string, body []byte) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declare(ch, queue); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("%w: confirm mode: %v", ErrQueueUnavailable, err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	timeout := r.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("%w: publish: %v", ErrQueueUnavailable, err)
	}

	select {
	case confirmed, ok := <-confirms:
		if !ok {
			return fmt.Errorf("%w: confirmation channel closed", ErrQueueUnavailable)
		}
		if !confirmed.Ack {
			return fmt.Errorf("%w: publish not acknowledged by broker", ErrQueueUnavailable)
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: publish confirmation: %v", ErrQueueUnavailable, ctx.Err())
	}
	return nil
}

// Consume delivers messages from queue to h one at a time with manual
// acknowledgement. The handler's context is not cancelled by ctx, so a message
// that is being processed at shutdown is finished first.
func (r *RabbitMQ) Consume(ctx context.Context, queue string, h Handler) error {
	ch, err := r.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declare(ch, queue); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	prefetch := r.cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("%w: set QoS: %v", ErrConnectionLost, err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("%w: register consumer: %v", ErrConnectionLost, err)
	}

	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return ErrConnectionLost
			}
			disposition := h(handlerCtx, Delivery{Body: d.Body, Redelivered: d.Redelivered})
			if err := r.settle(ctx, d, disposition); err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
		}
	}
}

func (r *RabbitMQ) settle(ctx context.Context, d amqp.Delivery, disposition Disposition) error {
	if disposition == Ack {
		return d.Ack(false)
	}

	// Back off before handing the message back so a persistent failure does
	// not turn into a hot redelivery loop.
	delay := r.cfg.ConnectDelay
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	return d.Nack(false, true)
}

// Close closes the connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	if err := r.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	return nil
}

// Compile-time checks.
var (
	_ Publisher = (*RabbitMQ)(nil)
	_ Consumer  = (*RabbitMQ)(nil)
)
