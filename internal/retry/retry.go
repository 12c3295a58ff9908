// Package retry runs an operation a bounded number of times with a fixed delay
// between attempts. It is used for the queue connection and for every
// collaborator call.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how often and when an operation is retried.
type Policy struct {
	Attempts int           // total attempts, including the first; values < 1 mean 1
	Delay    time.Duration // fixed wait between attempts

	// Retryable reports whether err is worth another attempt.
	// A nil Retryable treats every error as retryable.
	Retryable func(err error) bool

	// OnRetry, when set, is called before each wait.
	OnRetry func(err error, attempt int, wait time.Duration)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)

	var (
		attempt   int
		permanent bool
		lastErr   error
	)
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) {
			p.OnRetry(err, attempt, wait)
		}
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		return nil
	}
	if permanent {
		return lastErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, lastErr)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
