// Package ai turns a set of detected labels into an interpretation using a
// configurable text-generation backend.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for generation failures. The worker retries on any of them
// and falls back to a neutral interpretation once attempts run out.
var (
	ErrProviderUnavailable = errors.New("generation provider unavailable")
	ErrInferenceTimeout    = errors.New("generation timeout")
	ErrInvalidResponse     = errors.New("generation provider returned invalid response")
)

// Request is one generation call. Prompt is the rendered prompt for chat
// backends; Labels and Style are sent as-is to backends that build their own.
type Request struct {
	Labels []string
	Style  string
	Prompt string
}

// Result is the raw generated text, before any cleanup.
type Result struct {
	Text     string
	Provider string
	Model    string
}

// Generator produces an interpretation for a Request.
// Implementations must be safe for concurrent use.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
