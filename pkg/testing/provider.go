// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing holds scripted collaborators for agent and crew tests.
package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
)

// ScriptedResponse is one canned model reply. A non-nil Error fails the call.
type ScriptedResponse struct {
	Content   string
	ToolCalls []llm.ToolCall
	Error     error
	Usage     llm.Usage
}

func (s ScriptedResponse) chatResponse() (*llm.ChatResponse, error) {
	if s.Error != nil {
		return nil, s.Error
	}
	return &llm.ChatResponse{
		Content:   s.Content,
		ToolCalls: slices.Clone(s.ToolCalls),
		Usage:     s.Usage,
	}, nil
}

// answerUsage is charged for every final answer queued with AddResponse.
var answerUsage = llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}

// ScenarioProvider replays queued replies in order and records every
// request it receives. Once the queue is drained it answers with the
// fallback, if any, and errors otherwise.
type ScenarioProvider struct {
	mu       sync.Mutex
	queue    []ScriptedResponse
	fallback *ScriptedResponse
	handler  func(llm.ChatRequest) (*llm.ChatResponse, error)
	seen     []llm.ChatRequest
}

func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// AddResponse queues a final answer.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content, Usage: answerUsage})
}

// AddToolCallResponse queues a turn that asks for the given tool calls.
func (p *ScenarioProvider) AddToolCallResponse(calls ...llm.ToolCall) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{ToolCalls: calls})
}

// AddErrorResponse queues a failed call.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	p.queue = append(p.queue, resp)
	p.mu.Unlock()
	return p
}

// WithFallback answers every call made after the queue runs dry.
func (p *ScenarioProvider) WithFallback(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	p.fallback = &resp
	p.mu.Unlock()
	return p
}

// WithChatFunc hands every call to fn instead of the queue. Requests are
// still recorded.
func (p *ScenarioProvider) WithChatFunc(fn func(llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	p.handler = fn
	p.mu.Unlock()
	return p
}

func (p *ScenarioProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handler, next, ok, n := p.take(req)
	switch {
	case handler != nil:
		return handler(req)
	case !ok:
		return nil, fmt.Errorf("scenario exhausted at call %d", n)
	}
	return next.chatResponse()
}

// take records req and pops the reply for it under the lock.
func (p *ScenarioProvider) take(req llm.ChatRequest) (func(llm.ChatRequest) (*llm.ChatResponse, error), ScriptedResponse, bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, req)
	if p.handler != nil {
		return p.handler, ScriptedResponse{}, true, len(p.seen)
	}
	if len(p.queue) > 0 {
		next := p.queue[0]
		p.queue = p.queue[1:]
		return nil, next, true, len(p.seen)
	}
	if p.fallback != nil {
		return nil, *p.fallback, true, len(p.seen)
	}
	return nil, ScriptedResponse{}, false, len(p.seen)
}

// Requests returns a copy of every request seen so far.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.seen)
}

// LastRequest returns the latest request, or nil before the first call.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	reqs := p.Requests()
	if len(reqs) == 0 {
		return nil
	}
	return &reqs[len(reqs)-1]
}

func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

// UserPrompts lists the task prompt, the first user message, of each request.
func (p *ScenarioProvider) UserPrompts() []string {
	var prompts []string
	for _, req := range p.Requests() {
		i := slices.IndexFunc(req.Messages, func(m llm.Message) bool { return m.Role == llm.RoleUser })
		if i >= 0 {
			prompts = append(prompts, req.Messages[i].Content)
		}
	}
	return prompts
}

// SawPrompt reports whether substr appeared in any request.
func (p *ScenarioProvider) SawPrompt(substr string) bool {
	return slices.ContainsFunc(p.Requests(), func(req llm.ChatRequest) bool {
		return strings.Contains(req.Prompt(), substr)
	})
}

// ToolCall is shorthand for a function call with args encoded as JSON.
func ToolCall(id, name string, args map[string]any) llm.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("encode tool call args: %v", err))
	}
	return llm.ToolCall{
		ID:       id,
		Type:     llm.ToolTypeFunction,
		Function: llm.FunctionCall{Name: name, Arguments: string(raw)},
	}
}
