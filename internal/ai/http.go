package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artify-labs/artify/internal/breaker"
	"github.com/sony/gobreaker"
)

// HTTPGenerator calls a generation service that takes
// {"detected_objects": [...], "style": "..."} and answers
// {"generated_description": "..."}.
type HTTPGenerator struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker.New("generation-http", breaker.Settings{}),
	}
}

func (g *HTTPGenerator) Name() string { return "http" }

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	res, err := breaker.Execute(g.breaker, func() (Result, error) {
		return g.generate(ctx, req)
	})
	if breaker.IsOpen(err) {
		return Result{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return res, err
}

type generateRequest struct {
	DetectedObjects []string `json:"detected_objects"`
	Style           string   `json:"style,omitempty"`
	Prompt          string   `json:"prompt,omitempty"`
}

type generateResponse struct {
	GeneratedDescription string `json:"generated_description"`
}

func (g *HTTPGenerator) generate(ctx context.Context, req Request) (Result, error) {
	labels := req.Labels
	if labels == nil {
		labels = []string{}
	}
	payload, err := json.Marshal(generateRequest{
		DetectedObjects: labels,
		Style:           req.Style,
		Prompt:          req.Prompt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&genResp); err != nil {
		return Result{}, fmt.Errorf("%w: decoding response: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(genResp.GeneratedDescription) == "" {
		return Result{}, fmt.Errorf("%w: empty generated_description", ErrInvalidResponse)
	}

	return Result{Text: genResp.GeneratedDescription, Provider: g.Name()}, nil
}

var _ Generator = (*HTTPGenerator)(nil)
