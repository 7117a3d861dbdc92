// Package core defines the contracts shared by agents, tools and crews.
package core

import "context"

// Tool is an external capability an agent can invoke mid-execution.
// Implementations signal permanent failure with errors.ErrToolUnavailable and
// transient failure with errors.ErrToolTimeout.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, args map[string]any) (string, error)
}

// ToolSchema is implemented by tools that publish a JSON schema for their arguments.
type ToolSchema interface {
	Parameters() map[string]any
}

// DefaultToolParameters is the schema used for tools that do not publish one:
// a single free-text query.
func DefaultToolParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query or instruction for the tool",
			},
		},
		"required": []string{"query"},
	}
}

// ToolParameters returns the tool's schema or the default one.
func ToolParameters(t Tool) map[string]any {
	if s, ok := t.(ToolSchema); ok {
		if params := s.Parameters(); params != nil {
			return params
		}
	}
	return DefaultToolParameters()
}
