package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/artify-labs/artify/internal/breaker"
	"github.com/artify-labs/artify/internal/config"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sony/gobreaker"
)

const systemPrompt = "You are an AI oracle that interprets psychological symbols."

// OpenAIGenerator talks to any OpenAI-compatible chat completions endpoint,
// such as a local BitNet or llama.cpp server.
type OpenAIGenerator struct {
	client  openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

func NewOpenAIGenerator(cfg config.OpenAIConfig, timeout time.Duration) *OpenAIGenerator {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local servers ignore the key but the SDK insists on one.
		apiKey = "not-needed"
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	)
	return &OpenAIGenerator{
		client:  client,
		model:   cfg.Model,
		timeout: timeout,
		breaker: breaker.New("generation-openai", breaker.Settings{}),
	}
}

func (g *OpenAIGenerator) Name() string { return "openai" }

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	res, err := breaker.Execute(g.breaker, func() (Result, error) {
		return g.generate(ctx, req)
	})
	if breaker.IsOpen(err) {
		return Result{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return res, err
}

func (g *OpenAIGenerator) generate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, fmt.Errorf("%w: empty prompt", ErrInvalidResponse)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(0.7),
		MaxTokens:   openai.Int(200),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
				return Result{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, apiErr.StatusCode)
			}
			return Result{}, fmt.Errorf("%w: status %d", ErrInvalidResponse, apiErr.StatusCode)
		}
		return Result{}, classifyError(err)
	}

	if len(completion.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}
	text := completion.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	return Result{Text: text, Provider: g.Name(), Model: string(completion.Model)}, nil
}

var _ Generator = (*OpenAIGenerator)(nil)
