// Package llm defines the chat model contract consumed by agents.
// Inference backends are opaque collaborators behind Provider.
package llm

import (
	"context"
	"strings"
)

// Provider is a chat-completion backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolType is the kind of tool offered to the model. Only functions exist today.
type ToolType string

const ToolTypeFunction ToolType = "function"

// Message is one turn of a conversation.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage replays a model response, tool calls included, into the history.
func AssistantMessage(resp *ChatResponse) Message {
	return Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
}

// ToolResultMessage carries a tool observation back to the model.
func ToolResultMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// Tool is a function the model may call.
type Tool struct {
	Type     ToolType    `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function; Parameters is a JSON schema.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

// FunctionTool builds a function tool definition.
func FunctionTool(name, description string, parameters any) Tool {
	return Tool{
		Type:     ToolTypeFunction,
		Function: FunctionDef{Name: name, Description: description, Parameters: parameters},
	}
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
	// Temperature is nil when the provider default applies. An explicit 0
	// is sent as 0.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }

// Prompt joins the message contents with newlines.
func (r ChatRequest) Prompt() string {
	parts := make([]string, len(r.Messages))
	for i, msg := range r.Messages {
		parts[i] = msg.Content
	}
	return strings.Join(parts, "\n")
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage counts tokens spent on one or more calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
