// Package mock provides ai.Generator test doubles.
package mock

import (
	"context"
	"sync"

	"github.com/artify-labs/artify/internal/ai"
)

// MockGenerator satisfies ai.Generator for testing and records every request.
type MockGenerator struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req ai.Request) (ai.Result, error)

	mu       sync.Mutex
	requests []ai.Request
}

func (m *MockGenerator) Name() string { return m.Name_ }

func (m *MockGenerator) Generate(ctx context.Context, req ai.Request) (ai.Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return ai.Result{}, nil
}

// Requests returns a copy of the requests seen so far.
func (m *MockGenerator) Requests() []ai.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.Request(nil), m.requests...)
}

// Calls returns how many times Generate was called.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// NewStaticGenerator returns a MockGenerator that always answers text.
func NewStaticGenerator(text string) *MockGenerator {
	return &MockGenerator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _ ai.Request) (ai.Result, error) {
			return ai.Result{Text: text, Provider: "mock", Model: "mock-v1"}, nil
		},
	}
}

// NewFailingGenerator returns a MockGenerator that always returns the given error.
func NewFailingGenerator(err error) *MockGenerator {
	return &MockGenerator{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _ ai.Request) (ai.Result, error) {
			return ai.Result{}, err
		},
	}
}

// NewTimeoutGenerator returns a MockGenerator that blocks until the context is done.
func NewTimeoutGenerator() *MockGenerator {
	return &MockGenerator{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ ai.Request) (ai.Result, error) {
			<-ctx.Done()
			return ai.Result{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockGenerator implements Generator.
var _ ai.Generator = (*MockGenerator)(nil)
