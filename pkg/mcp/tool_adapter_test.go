package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

type stubCaller struct {
	lastName string
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.lastName = name
	s.lastArgs = args
	return s.result, s.err
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func TestToolAdapterNormalizesArgs(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		args     map[string]any
		want     map[string]any
	}{
		{"maps query onto required field", []string{"url"}, map[string]any{"query": " https://ssrn.com/x "}, map[string]any{"url": "https://ssrn.com/x"}},
		{"maps input onto required field", []string{"path"}, map[string]any{"input": "paper.txt"}, map[string]any{"path": "paper.txt"}},
		{"keeps matching args", []string{"a", "b"}, map[string]any{"a": 1.0, "b": 2.0}, map[string]any{"a": 1.0, "b": 2.0}},
		{"drops nulls", nil, map[string]any{"a": nil, "b": "x"}, map[string]any{"b": "x"}},
		{"nil args", nil, nil, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := mcp.Tool{Name: "fetch", InputSchema: mcp.ToolInputSchema{Type: "object", Required: tt.required}}
			caller := &stubCaller{result: textResult("ok")}
			adapter, err := NewToolAdapter(tool, caller)
			if err != nil {
				t.Fatalf("NewToolAdapter error: %v", err)
			}
			out, err := adapter.Call(context.Background(), tt.args)
			if err != nil {
				t.Fatalf("Call error: %v", err)
			}
			if out != "ok" || caller.lastName != "fetch" {
				t.Fatalf("unexpected call %q -> %q", caller.lastName, out)
			}
			if !reflect.DeepEqual(caller.lastArgs, tt.want) {
				t.Fatalf("expected args %v, got %v", tt.want, caller.lastArgs)
			}
		})
	}
}

func TestToolAdapterValidatesRequiredArgs(t *testing.T) {
	tool := mcp.Tool{Name: "needs-foo", InputSchema: mcp.ToolInputSchema{Type: "object", Required: []string{"foo", "bar"}}}
	caller := &stubCaller{result: textResult("ok")}
	adapter, err := NewToolAdapter(tool, caller)
	if err != nil {
		t.Fatalf("NewToolAdapter error: %v", err)
	}
	_, err = adapter.Call(context.Background(), map[string]any{"baz": "x"})
	if err == nil || !strings.Contains(err.Error(), "missing required field") {
		t.Fatalf("expected missing required field error, got %v", err)
	}
	if caller.lastName != "" {
		t.Fatalf("invalid args must not reach the server")
	}
}

func TestToolAdapterResults(t *testing.T) {
	tests := []struct {
		name    string
		result  *mcp.CallToolResult
		callErr error
		want    string
		wantErr bool
		timeout bool
	}{
		{"text", textResult("hello"), nil, "hello", false, false},
		{"structured", &mcp.CallToolResult{StructuredContent: map[string]any{"ok": true}}, nil, `{"ok":true}`, false, false},
		{"tool error", &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "bad"}}}, nil, "", true, false},
		{"nil result", nil, nil, "", true, false},
		{"deadline", nil, fmt.Errorf("call: %w", context.DeadlineExceeded), "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewToolAdapter(mcp.Tool{Name: "x"}, &stubCaller{result: tt.result, err: tt.callErr})
			if err != nil {
				t.Fatalf("NewToolAdapter error: %v", err)
			}
			out, err := adapter.Call(context.Background(), nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if out != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, out)
			}
			if tt.timeout && !stderrors.Is(err, errors.ErrToolTimeout) {
				t.Fatalf("expected ToolTimeout, got %v", err)
			}
		})
	}
}

func TestToolAdapterParameters(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	adapter, err := NewToolAdapter(mcp.Tool{Name: "search", Description: "Search tool", RawInputSchema: raw}, &stubCaller{})
	if err != nil {
		t.Fatalf("NewToolAdapter error: %v", err)
	}
	params := adapter.Parameters()
	props, ok := params["properties"].(map[string]any)
	if !ok || props["q"] == nil || params["type"] != "object" {
		t.Fatalf("unexpected parameters %v", params)
	}
	if adapter.Description() != "Search tool" {
		t.Fatalf("unexpected description %q", adapter.Description())
	}

	plain, _ := NewToolAdapter(mcp.Tool{Name: "bare"}, &stubCaller{})
	if p := plain.Parameters(); p["type"] != "object" || p["properties"] == nil {
		t.Fatalf("expected an object schema, got %v", p)
	}
}

func TestNewToolAdapterValidation(t *testing.T) {
	if _, err := NewToolAdapter(mcp.Tool{}, &stubCaller{}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := NewToolAdapter(mcp.Tool{Name: "x"}, nil); err == nil {
		t.Fatal("expected error for nil caller")
	}
}
