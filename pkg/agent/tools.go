package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/resilience"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/telemetry"
)

// Names of the built-in delegation tools.
const (
	DelegateWorkTool = "delegate_work"
	AskQuestionTool  = "ask_question"
)

func isDelegationTool(name string) bool {
	return name == DelegateWorkTool || name == AskQuestionTool
}

// toolset is the set of tools available for one execution.
type toolset struct {
	byName map[string]core.Tool
	dead   map[string]error
	defs   []llm.Tool
}

func (a *Agent) buildToolset(rt *Runtime, t *task.Task) *toolset {
	tools := a.tools
	if t != nil && t.Tools != nil {
		tools = t.Tools
	}
	ts := &toolset{
		byName: make(map[string]core.Tool, len(tools)),
		dead:   make(map[string]error),
	}
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		ts.byName[tool.Name()] = tool
		ts.defs = append(ts.defs, llm.FunctionTool(tool.Name(), tool.Description(), core.ToolParameters(tool)))
	}
	if a.allowDelegation && rt.Delegator != nil {
		if coworkers := rt.Delegator.Coworkers(a); len(coworkers) > 0 {
			ts.defs = append(ts.defs, delegationToolDefs(coworkers)...)
		}
	}
	return ts
}

func (ts *toolset) names() []string {
	names := make([]string, 0, len(ts.byName))
	for name := range ts.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func delegationToolDefs(coworkers []string) []llm.Tool {
	coworkerParam := map[string]any{
		"type":        "string",
		"description": "Role of the coworker to ask",
		"enum":        coworkers,
	}
	list := strings.Join(coworkers, ", ")
	return []llm.Tool{
		llm.FunctionTool(DelegateWorkTool,
			"Delegate a specific task to one of the following coworkers: "+list+". Provide everything they need to know in the context, they know nothing about your task.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task":     map[string]any{"type": "string", "description": "The task to delegate"},
					"context":  map[string]any{"type": "string", "description": "All the context needed to execute the task"},
					"coworker": coworkerParam,
				},
				"required": []string{"task", "context", "coworker"},
			}),
		llm.FunctionTool(AskQuestionTool,
			"Ask a specific question to one of the following coworkers: "+list+". Provide everything they need to know in the context, they know nothing about your task.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{"type": "string", "description": "The question to ask"},
					"context":  map[string]any{"type": "string", "description": "All the context needed to answer the question"},
					"coworker": coworkerParam,
				},
				"required": []string{"question", "context", "coworker"},
			}),
	}
}

// parseArgs decodes tool call arguments. Empty arguments decode to an empty map.
func parseArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func parseDelegation(tc llm.ToolCall) (DelegationRequest, error) {
	args, err := parseArgs(tc.Function.Arguments)
	if err != nil {
		return DelegationRequest{}, err
	}
	req := DelegationRequest{
		Kind:     tc.Function.Name,
		Coworker: stringArg(args, "coworker"),
		Context:  stringArg(args, "context"),
	}
	field := "task"
	if tc.Function.Name == AskQuestionTool {
		field = "question"
	}
	req.Task = stringArg(args, field)
	if strings.TrimSpace(req.Task) == "" {
		return req, fmt.Errorf("%s requires a non-empty %s", tc.Function.Name, field)
	}
	return req, nil
}

// callTool runs one tool call and returns the observation fed back to the
// model. Tool failures become observations; only cancellation is returned
// as an error.
func (a *Agent) callTool(ctx context.Context, rt *Runtime, ts *toolset, tc llm.ToolCall, log *slog.Logger, level slog.Level) (string, task.ToolCall, error) {
	name := tc.Function.Name
	record := task.ToolCall{Tool: name, Args: tc.Function.Arguments}

	tool, ok := ts.byName[name]
	if !ok {
		record.Err = errors.ToolUnavailable(name, fmt.Errorf("unknown tool"))
		return fmt.Sprintf("Error: tool %q does not exist. Available tools: %s", name, strings.Join(ts.names(), ", ")), record, nil
	}
	if cause, dead := ts.dead[name]; dead {
		record.Err = cause
		return fmt.Sprintf("Error: tool %q is unavailable and must not be used again: %v", name, cause), record, nil
	}
	args, err := parseArgs(tc.Function.Arguments)
	if err != nil {
		record.Err = err
		return fmt.Sprintf("Error: invalid arguments for tool %q: %v", name, err), record, nil
	}

	start := time.Now()
	toolCtx, span := tracer.Start(ctx, "Tool.Call")
	out, cached, err := rt.Cache.Do(toolCtx, name, args, func(ctx context.Context) (string, error) {
		return a.invokeTool(ctx, rt, tool, args)
	})
	record.Duration = time.Since(start)
	record.Cached = cached
	span.SetAttributes(telemetry.ToolCallAttributes(name, tc.ID, float64(record.Duration.Milliseconds()), err == nil, cached)...)
	span.SetAttributes(telemetry.ToolCallArgsResult(tc.Function.Arguments, out, 500)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	rt.Metrics.RecordToolCall(ctx, name, cached, err)

	if err != nil {
		if ctx.Err() != nil {
			return "", record, ctx.Err()
		}
		record.Err = err
		rt.Metrics.RecordError(ctx, err, "tool")
		if stderrors.Is(err, errors.ErrToolUnavailable) {
			ts.dead[name] = err
		}
		log.WarnContext(ctx, "agent.tool.error",
			slog.String("tool", name),
			slog.String("tool_call_id", tc.ID),
			slog.String("error", err.Error()),
			slog.String("error_code", string(errors.CodeOf(err))),
		)
		return fmt.Sprintf("Error: tool %q failed: %v", name, err), record, nil
	}

	record.Output = out
	log.Log(ctx, level, "agent.tool.call",
		slog.String("tool", name),
		slog.String("tool_call_id", tc.ID),
		slog.Bool("cached", cached),
		slog.Duration("duration", record.Duration),
	)
	return out, record, nil
}

// invokeTool is the cache-miss path: rate limit, timeout and retry around
// the actual tool call.
func (a *Agent) invokeTool(ctx context.Context, rt *Runtime, tool core.Tool, args map[string]any) (string, error) {
	rc := a.toolRetry.WithIsRecoverable(func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		return stderrors.Is(err, errors.ErrToolTimeout) || stderrors.Is(err, errors.ErrRateLimitTimeout)
	})
	return resilience.Retry(ctx, rc, func() (string, error) {
		if err := a.waitForSlot(ctx, rt); err != nil {
			return "", err
		}
		out, err := resilience.WithTimeout(ctx, a.toolTimeout, func(ctx context.Context) (string, error) {
			return tool.Call(ctx, args)
		})
		if stderrors.Is(err, resilience.ErrTimeout) {
			return "", errors.ToolTimeout(tool.Name(), err).WithContext("timeout", a.toolTimeout.String())
		}
		return out, err
	})
}

func (a *Agent) waitForSlot(ctx context.Context, rt *Runtime) error {
	if rt.Limiter == nil {
		return nil
	}
	start := time.Now()
	err := rt.Limiter.Wait(ctx)
	rt.Metrics.RecordRateLimitWait(ctx, float64(time.Since(start).Microseconds())/1000)
	return err
}
