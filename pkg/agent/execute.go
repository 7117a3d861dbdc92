// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/memory"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/resilience"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/telemetry"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/template"
)

var tracer = otel.Tracer("replication-ai/agent")

// State is a step of the act-observe loop.
type State string

const (
	StateThinking    State = "THINKING"
	StateCallingTool State = "CALLING_TOOL"
	StateDelegating  State = "DELEGATING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Execute runs t to completion. upstream is the rendered output of the
// task's dependencies. The returned result is never nil; on failure its
// Status is failed (or cancelled) and the error is also returned.
func (a *Agent) Execute(ctx context.Context, rt *Runtime, t *task.Task, upstream string) (*task.Result, error) {
	if rt == nil {
		rt = &Runtime{}
	}
	ctx, span := tracer.Start(ctx, "Agent.Execute")
	defer span.End()
	span.SetAttributes(telemetry.AgentAttributes(a.id, a.ResolvedRole(rt.Inputs), a.model, rt.Depth, a.maxIterations)...)
	span.SetAttributes(telemetry.TaskAttributes(t.ID, "", "")...)

	res := &task.Result{
		TaskID:    t.ID,
		AgentID:   a.id,
		AgentRole: a.ResolvedRole(rt.Inputs),
		Started:   time.Now(),
	}

	if _, ok := core.RunID(ctx); !ok && rt.RunID != "" {
		ctx = core.WithRunID(ctx, rt.RunID)
	}
	log := rt.logger().With(
		slog.String("agent_id", a.id),
		slog.String("task_id", t.ID),
		slog.Int("depth", rt.Depth),
	)
	level := slog.LevelDebug
	if a.verbose {
		level = slog.LevelInfo
	}

	var memories []memory.Record
	useMemory := a.memory && rt.Memory != nil
	if useMemory {
		memories = rt.Memory.Window(rt.MemoryBudget)
	}
	description, expected := t.Description, t.ExpectedOutput
	// Delegated tasks are written by a model, so braces in them are literal.
	if rt.Depth == 0 {
		description = template.Interpolate(description, rt.Inputs)
		expected = template.Interpolate(expected, rt.Inputs)
	}
	res.Prompt = TaskPrompt(description, expected, upstream, memories)

	raw, err := a.loop(ctx, rt, t, res, log, level)
	res.Finish()
	if err != nil {
		res.Status = task.StatusFailed
		if stderrors.Is(err, errors.ErrCancelled) {
			res.Status = task.StatusCancelled
		}
		te := errors.As(err).WithTask(t.ID, a.id)
		res.Err = te
		span.RecordError(te)
		span.SetStatus(codes.Error, te.Error())
		span.SetAttributes(telemetry.TaskAttributes(t.ID, string(res.Status), "")...)
		rt.Metrics.RecordError(ctx, te, "agent")
		rt.emit(ctx, core.NewEvent(core.EventAgentError, a.id, t.ID, map[string]any{
			"error":      te.Error(),
			"error_code": string(te.Code),
		}))
		log.ErrorContext(ctx, "agent.execute.error",
			slog.String("error", te.Error()),
			slog.String("error_code", string(te.Code)),
			slog.Int("iterations", res.Iterations),
		)
		return res, te
	}

	res.Raw = raw
	res.Status = task.StatusCompleted
	span.SetAttributes(telemetry.TaskAttributes(t.ID, string(res.Status), "")...)
	if useMemory {
		rt.Memory.Append(memory.Record{
			AgentID:   a.id,
			AgentRole: res.AgentRole,
			TaskID:    t.ID,
			Content:   raw,
		})
	}
	log.Log(ctx, level, "agent.execute.complete",
		slog.Int("iterations", res.Iterations),
		slog.Int("tool_calls", len(res.ToolCalls)),
		slog.Int("total_tokens", res.Usage.TotalTokens),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (a *Agent) loop(ctx context.Context, rt *Runtime, t *task.Task, res *task.Result, log *slog.Logger, level slog.Level) (string, error) {
	ts := a.buildToolset(rt, t)
	messages := []llm.Message{
		llm.SystemMessage(a.SystemPrompt(rt.Inputs)),
		llm.UserMessage(res.Prompt),
	}
	enter := func(state State) {
		log.Log(ctx, level, "agent.state", slog.String("state", string(state)), slog.Int("iteration", res.Iterations))
	}
	fail := func(err error) (string, error) {
		enter(StateFailed)
		return "", err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(errors.New(errors.CodeCancelled, "execution cancelled", err))
		}
		res.Iterations++
		enter(StateThinking)
		rt.emit(ctx, core.NewEvent(core.EventAgentThinking, a.id, t.ID, map[string]any{
			"iteration": res.Iterations,
			"depth":     rt.Depth,
		}))

		resp, err := a.think(ctx, rt, messages, ts.defs, res.Iterations)
		if err != nil {
			return fail(err)
		}
		res.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			enter(StateDone)
			return resp.Content, nil
		}
		if res.Iterations >= a.maxIterations {
			return fail(errors.New(errors.CodeToolLoopExceeded, "agent kept calling tools past its iteration cap", nil).
				WithContext("max_iterations", a.maxIterations))
		}

		messages = append(messages, llm.AssistantMessage(resp))
		for _, tc := range resp.ToolCalls {
			var observation string
			if isDelegationTool(tc.Function.Name) && a.allowDelegation && rt.Delegator != nil {
				enter(StateDelegating)
				observation, err = a.delegate(ctx, rt, t, tc, res, log, level)
			} else {
				enter(StateCallingTool)
				var record task.ToolCall
				observation, record, err = a.callTool(ctx, rt, ts, tc, log, level)
				res.ToolCalls = append(res.ToolCalls, record)
				rt.emit(ctx, core.NewEvent(core.EventAgentToolCall, a.id, t.ID, map[string]any{
					"tool":   tc.Function.Name,
					"cached": record.Cached,
					"error":  record.Err != nil,
				}))
			}
			if err != nil {
				if ctx.Err() != nil && !stderrors.Is(err, errors.ErrCancelled) && errors.CodeOf(err) == errors.CodeInternal {
					err = errors.New(errors.CodeCancelled, "execution cancelled", err)
				}
				return fail(err)
			}
			messages = append(messages, llm.ToolResultMessage(tc.ID, observation))
		}
	}
}

// think performs one rate-limited, retried chat call.
func (a *Agent) think(ctx context.Context, rt *Runtime, messages []llm.Message, tools []llm.Tool, iteration int) (*llm.ChatResponse, error) {
	req := llm.ChatRequest{
		Model:       a.model,
		Messages:    append([]llm.Message(nil), messages...),
		Tools:       tools,
		Temperature: a.temperature,
	}
	attempts := 0
	rc := a.llmRetry.WithIsRecoverable(func(error) bool { return ctx.Err() == nil })
	resp, err := resilience.Retry(ctx, rc, func() (*llm.ChatResponse, error) {
		attempts++
		if err := a.waitForSlot(ctx, rt); err != nil {
			return nil, err
		}
		llmCtx, span := tracer.Start(ctx, "LLM.Chat")
		span.SetAttributes(telemetry.LLMAttributes(a.model, len(req.Messages), iteration)...)
		resp, err := resilience.WithTimeout(llmCtx, a.llmTimeout, func(ctx context.Context) (*llm.ChatResponse, error) {
			return a.llm.Chat(ctx, req)
		})
		if err == nil && resp == nil {
			err = fmt.Errorf("provider returned an empty response")
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, len(resp.ToolCalls))...)
		}
		span.End()
		rt.Metrics.RecordLLMCall(ctx, a.model, err)
		return resp, err
	})
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, errors.New(errors.CodeCancelled, "execution cancelled", ctx.Err())
	}
	return nil, errors.New(errors.CodeAgentExecution, "llm call failed after retries", err).
		WithContext("attempts", attempts).
		WithContext("model", a.model)
}

// delegate handles one delegation tool call. Malformed requests become
// observations; broker errors abort the task.
func (a *Agent) delegate(ctx context.Context, rt *Runtime, t *task.Task, tc llm.ToolCall, res *task.Result, log *slog.Logger, level slog.Level) (string, error) {
	req, err := parseDelegation(tc)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	log.Log(ctx, level, "agent.delegation",
		slog.String("kind", req.Kind),
		slog.String("coworker", req.Coworker),
	)
	rt.emit(ctx, core.NewEvent(core.EventAgentDelegation, a.id, t.ID, map[string]any{
		"kind":     req.Kind,
		"coworker": req.Coworker,
		"depth":    rt.Depth + 1,
	}))

	out, err := rt.Delegator.Delegate(ctx, rt, a, req)
	res.Delegations = append(res.Delegations, task.Delegation{
		Kind:     req.Kind,
		Coworker: req.Coworker,
		Request:  req.Task,
		Output:   out,
		Depth:    rt.Depth + 1,
		Err:      err,
	})
	rt.Metrics.RecordDelegation(ctx, req.Kind, err)
	if err != nil {
		return "", err
	}
	return out, nil
}
