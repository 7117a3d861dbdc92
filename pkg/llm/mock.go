package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider answers every request with Response, Err or ChatFunc's result.
// For scripted multi-turn conversations use pkg/testing.ScenarioProvider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	mu    sync.Mutex
	calls int
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	switch {
	case m.ChatFunc != nil:
		return m.ChatFunc(ctx, req)
	case m.Err != nil:
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// CallCount reports how many times Chat ran.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FailingMockProvider fails every call with Err and counts attempts in Calls.
type FailingMockProvider struct {
	Err   error
	Calls int

	mu sync.Mutex
}

func (f *FailingMockProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.Err == nil {
		return nil, errors.New("mock provider failure")
	}
	return nil, f.Err
}

var (
	_ Provider = (*MockProvider)(nil)
	_ Provider = (*FailingMockProvider)(nil)
)
