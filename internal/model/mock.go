package model

import (
	"context"
	"fmt"
	"sync"

	"codewarden/internal/config"
	"codewarden/internal/types"
)

// MockClient replays scripted responses in order. It backs tests and the
// "mock" provider for offline runs.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     []string
	idx       int
}

// NewMockClient creates a client that returns the given responses in order,
// repeating the last one once exhausted.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

func (m *MockClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, user)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", fmt.Errorf("mock client has no responses")
	}
	resp := m.Responses[m.idx]
	if m.idx < len(m.Responses)-1 {
		m.idx++
	}
	return resp, nil
}

// CallCount returns how many completions were requested.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ types.LLMClient = (*MockClient)(nil)

// NewClient builds the configured provider's client.
func NewClient(ctx context.Context, cfg config.ModelConfig) (types.LLMClient, error) {
	switch cfg.Provider {
	case "mock":
		return NewMockClient("OK"), nil
	case "", "gemini":
		return NewGeminiClient(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}
