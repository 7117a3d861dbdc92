package testing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockTool is a core.Tool that counts invocations. By default it echoes its
// arguments; Fn overrides the behavior.
type MockTool struct {
	ToolName string
	Desc     string
	Delay    time.Duration
	Fn       func(ctx context.Context, args map[string]any) (string, error)

	mu    sync.Mutex
	calls []map[string]any
}

// NewMockTool returns an echoing tool with the given name.
func NewMockTool(name string) *MockTool {
	return &MockTool{ToolName: name, Desc: "mock tool " + name}
}

func (m *MockTool) Name() string        { return m.ToolName }
func (m *MockTool) Description() string { return m.Desc }

// Call records the invocation and runs Fn or the echo behavior.
func (m *MockTool) Call(ctx context.Context, args map[string]any) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, args)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.Fn != nil {
		return m.Fn(ctx, args)
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return m.ToolName + "(" + strings.Join(parts, ", ") + ")", nil
}

// Calls returns the number of invocations.
func (m *MockTool) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Args returns the arguments of every invocation.
func (m *MockTool) Args() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.calls...)
}
