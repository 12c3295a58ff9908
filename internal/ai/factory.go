package ai

import (
	"errors"
	"fmt"
	"time"

	"github.com/artify-labs/artify/internal/config"
)

const defaultTimeout = 30 * time.Second

// NewGenerator constructs the generation backend selected by cfg.Provider:
// "http" for the generation service contract, "openai" for an
// OpenAI-compatible chat server and "mock" for canned templates.
// Called once at worker startup.
func NewGenerator(cfg config.GenerationConfig) (Generator, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	switch cfg.Provider {
	case "http":
		if cfg.URL == "" {
			return nil, errors.New("http generation provider needs a URL")
		}
		return NewHTTPGenerator(cfg.URL, timeout), nil
	case "openai":
		if cfg.OpenAI.BaseURL == "" || cfg.OpenAI.Model == "" {
			return nil, errors.New("openai generation provider needs a base URL and a model")
		}
		return NewOpenAIGenerator(cfg.OpenAI, timeout), nil
	case "mock":
		return NewTemplateGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q: must be one of http, openai, mock", cfg.Provider)
	}
}
