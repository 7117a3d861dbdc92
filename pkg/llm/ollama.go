package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaURL is where a local Ollama server listens.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaProvider talks to the Ollama /api/chat endpoint without streaming.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

type OllamaOption func(*OllamaProvider)

// WithOllamaHTTPClient replaces the HTTP client, including its timeout.
func WithOllamaHTTPClient(c *http.Client) OllamaOption {
	return func(p *OllamaProvider) { p.client = c }
}

// NewOllama returns a provider for baseURL, or DefaultOllamaURL when empty.
func NewOllama(baseURL string, opts ...OllamaOption) *OllamaProvider {
	p := &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
	if p.baseURL == "" {
		p.baseURL = DefaultOllamaURL
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OllamaStatusError is a non-200 reply from the server.
type OllamaStatusError struct {
	StatusCode int
	Body       string
}

func (e *OllamaStatusError) Error() string {
	return fmt.Sprintf("ollama: status %d: %s", e.StatusCode, e.Body)
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name string `json:"name"`
		// Ollama sends arguments as a JSON object, not an encoded string.
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []Tool          `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload := ollamaRequest{
		Model:    req.Model,
		Messages: encodeOllamaMessages(req.Messages),
		Tools:    req.Tools,
	}
	if req.Temperature != nil {
		payload.Options = map[string]any{"temperature": *req.Temperature}
	}

	var decoded ollamaResponse
	if err := p.post(ctx, "/api/chat", payload, &decoded); err != nil {
		return nil, err
	}
	return decoded.chatResponse(), nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("ollama: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &OllamaStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}
	return nil
}

func (r ollamaResponse) chatResponse() *ChatResponse {
	out := &ChatResponse{
		Content: r.Message.Content,
		Usage: Usage{
			PromptTokens:     r.PromptEvalCount,
			CompletionTokens: r.EvalCount,
			TotalTokens:      r.PromptEvalCount + r.EvalCount,
		},
	}
	for i, tc := range r.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		args := strings.TrimSpace(string(tc.Function.Arguments))
		if args == "" || args == "null" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:       id,
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	return out
}

// encodeOllamaMessages converts the history, turning string arguments into
// objects and naming the tool each tool-role message answers.
func encodeOllamaMessages(msgs []Message) []ollamaMessage {
	callNames := make(map[string]string)
	out := make([]ollamaMessage, len(msgs))
	for i, msg := range msgs {
		om := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			var call ollamaToolCall
			call.ID = tc.ID
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = json.RawMessage("{}")
			if json.Valid([]byte(tc.Function.Arguments)) {
				call.Function.Arguments = json.RawMessage(tc.Function.Arguments)
			}
			om.ToolCalls = append(om.ToolCalls, call)
			if tc.ID != "" {
				callNames[tc.ID] = tc.Function.Name
			}
		}
		if msg.Role == RoleTool {
			om.ToolName = callNames[msg.ToolCallID]
		}
		out[i] = om
	}
	return out
}

var _ Provider = (*OllamaProvider)(nil)
