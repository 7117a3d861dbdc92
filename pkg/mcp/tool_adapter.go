package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolAdapter wraps an MCP tool to satisfy core.Tool and core.ToolSchema.
type ToolAdapter struct {
	tool   mcp.Tool
	caller ToolCaller
	name   string
}

// NewToolAdapter builds a core.Tool backed by an MCP tool definition and caller.
func NewToolAdapter(tool mcp.Tool, caller ToolCaller) (*ToolAdapter, error) {
	if tool.Name == "" {
		return nil, stderrors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, stderrors.New("tool caller is required")
	}
	return &ToolAdapter{tool: tool, caller: caller, name: tool.Name}, nil
}

// Adapt wraps every tool listed by c. A non-empty prefix is prepended to the
// tool names exposed to agents.
func Adapt(ctx context.Context, c *Client, prefix string) ([]core.Tool, error) {
	listed, err := c.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	out := make([]core.Tool, 0, len(listed))
	for _, tool := range listed {
		adapter, err := NewToolAdapter(tool, c)
		if err != nil {
			return nil, err
		}
		if prefix != "" {
			adapter.name = prefix + "_" + tool.Name
		}
		out = append(out, adapter)
	}
	return out, nil
}

// Name returns the name exposed to agents.
func (t *ToolAdapter) Name() string {
	return t.name
}

// Description returns the MCP tool description.
func (t *ToolAdapter) Description() string {
	return t.tool.Description
}

// Parameters returns the MCP input schema as a JSON schema map.
func (t *ToolAdapter) Parameters() map[string]any {
	var raw []byte
	if t.tool.RawInputSchema != nil {
		raw = t.tool.RawInputSchema
	} else {
		encoded, err := json.Marshal(t.tool.InputSchema)
		if err != nil {
			return nil
		}
		raw = encoded
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	if params["type"] == nil || params["type"] == "" {
		params["type"] = "object"
	}
	if params["properties"] == nil {
		params["properties"] = map[string]any{}
	}
	return params
}

// Call invokes the MCP tool with normalized arguments.
func (t *ToolAdapter) Call(ctx context.Context, args map[string]any) (string, error) {
	args = normalizeToolArgs(t.tool, args)
	if err := validateRequiredArgs(t.tool, args); err != nil {
		return "", err
	}

	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", errors.ToolTimeout(t.name, err)
		}
		return "", err
	}
	return toolResultToOutput(result)
}

// normalizeToolArgs drops null values and maps a lone free-text argument
// ("input" or "query") onto the tool's single missing required field.
func normalizeToolArgs(tool mcp.Tool, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			out[k] = v
		}
	}
	missing := missingRequired(tool, out)
	if len(missing) != 1 || len(out) != 1 {
		return out
	}
	for _, key := range []string{"input", "query"} {
		if v, ok := out[key].(string); ok && strings.TrimSpace(v) != "" {
			return map[string]any{missing[0]: strings.TrimSpace(v)}
		}
	}
	return out
}

func missingRequired(tool mcp.Tool, args map[string]any) []string {
	schema := tool.InputSchema
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	var missing []string
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

func validateRequiredArgs(tool mcp.Tool, args map[string]any) error {
	if missing := missingRequired(tool, args); len(missing) > 0 {
		return fmt.Errorf("mcp tool args: missing required field %q", missing[0])
	}
	return nil
}

func toolResultToOutput(result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", stderrors.New("mcp tool result is nil")
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool returned error: %s", extractTextContent(result.Content))
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	if result.StructuredContent != nil {
		encoded, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", fmt.Errorf("encode structured mcp result: %w", err)
		}
		return string(encoded), nil
	}
	return "", nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var (
	_ core.Tool       = (*ToolAdapter)(nil)
	_ core.ToolSchema = (*ToolAdapter)(nil)
)
