// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry carries logging, tracing and metrics for crew runs.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys. Model call keys follow the OpenTelemetry gen_ai
// conventions; the rest live under "crew.".
const (
	KeyRunID     = attribute.Key("crew.run_id")
	KeyProcess   = attribute.Key("crew.process")
	KeyTaskCount = attribute.Key("crew.task_count")
	KeyMaxRPM    = attribute.Key("crew.max_rpm")
	KeyMemory    = attribute.Key("crew.memory")
	KeyCache     = attribute.Key("crew.cache")

	KeyTaskID         = attribute.Key("crew.task.id")
	KeyTaskStatus     = attribute.Key("crew.task.status")
	KeyTaskOutputFile = attribute.Key("crew.task.output_file")

	KeyAgentID            = attribute.Key("crew.agent.id")
	KeyAgentRole          = attribute.Key("crew.agent.role")
	KeyAgentModel         = attribute.Key("crew.agent.model")
	KeyAgentIteration     = attribute.Key("crew.agent.iteration")
	KeyAgentMaxIterations = attribute.Key("crew.agent.max_iterations")
	KeyDelegationDepth    = attribute.Key("crew.agent.delegation_depth")

	KeyToolName     = attribute.Key("crew.tool.name")
	KeyToolCallID   = attribute.Key("crew.tool.call_id")
	KeyToolArgs     = attribute.Key("crew.tool.arguments")
	KeyToolResult   = attribute.Key("crew.tool.result")
	KeyToolDuration = attribute.Key("crew.tool.duration_ms")
	KeyToolSuccess  = attribute.Key("crew.tool.success")
	KeyToolCached   = attribute.Key("crew.tool.cached")

	KeyDelegationKind     = attribute.Key("crew.delegation.kind")
	KeyDelegationCoworker = attribute.Key("crew.delegation.coworker")

	KeyModel        = attribute.Key("gen_ai.request.model")
	KeyMessages     = attribute.Key("gen_ai.request.messages")
	KeyInputTokens  = attribute.Key("gen_ai.usage.input_tokens")
	KeyOutputTokens = attribute.Key("gen_ai.usage.output_tokens")
	KeyTotalTokens  = attribute.Key("gen_ai.usage.total_tokens")
	KeyToolCalls    = attribute.Key("gen_ai.tool_calls")
)

// defaultAttrLimit caps tool arguments and results recorded on spans.
const defaultAttrLimit = 500

// attrs accumulates key values, dropping empty strings and non-positive
// counts where a builder method says so.
type attrs []attribute.KeyValue

func (a attrs) str(k attribute.Key, v string) attrs {
	if v == "" {
		return a
	}
	return append(a, k.String(v))
}

func (a attrs) count(k attribute.Key, v int) attrs {
	if v <= 0 {
		return a
	}
	return append(a, k.Int(v))
}

// CrewAttributes describes a kickoff span.
func CrewAttributes(runID, process string, tasks, maxRPM int, memory, cache bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyRunID.String(runID),
		KeyProcess.String(process),
		KeyTaskCount.Int(tasks),
		KeyMaxRPM.Int(maxRPM),
		KeyMemory.Bool(memory),
		KeyCache.Bool(cache),
	}
}

// TaskAttributes always carries the task id; status and output file only when set.
func TaskAttributes(taskID, status, outputFile string) []attribute.KeyValue {
	return attrs{KeyTaskID.String(taskID)}.
		str(KeyTaskStatus, status).
		str(KeyTaskOutputFile, outputFile)
}

func AgentAttributes(agentID, role, model string, depth, maxIter int) []attribute.KeyValue {
	return attrs{KeyAgentID.String(agentID), KeyDelegationDepth.Int(depth)}.
		str(KeyAgentRole, role).
		str(KeyAgentModel, model).
		count(KeyAgentMaxIterations, maxIter)
}

func ToolCallAttributes(name, callID string, durationMs float64, success, cached bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyToolName.String(name),
		KeyToolCallID.String(callID),
		KeyToolDuration.Float64(durationMs),
		KeyToolSuccess.Bool(success),
		KeyToolCached.Bool(cached),
	}
}

// ToolCallArgsResult records the raw arguments and tool output, each cut to
// maxLen bytes (500 when maxLen is not positive).
func ToolCallArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = defaultAttrLimit
	}
	return attrs(nil).
		str(KeyToolArgs, Truncate(args, maxLen)).
		str(KeyToolResult, Truncate(result, maxLen))
}

func DelegationAttributes(kind, coworker string, depth int) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyDelegationKind.String(kind),
		KeyDelegationCoworker.String(coworker),
		KeyDelegationDepth.Int(depth),
	}
}

// LLMAttributes describes one model call of the act-observe loop.
func LLMAttributes(model string, messages, iteration int) []attribute.KeyValue {
	return []attribute.KeyValue{
		KeyModel.String(model),
		KeyMessages.Int(messages),
		KeyAgentIteration.Int(iteration),
	}
}

// LLMUsageAttributes records token counts and requested tool calls; zero
// counts are left out.
func LLMUsageAttributes(inputTokens, outputTokens, toolCalls int) []attribute.KeyValue {
	return attrs(nil).
		count(KeyInputTokens, inputTokens).
		count(KeyOutputTokens, outputTokens).
		count(KeyTotalTokens, inputTokens+outputTokens).
		count(KeyToolCalls, toolCalls)
}

// Truncate cuts s to maxLen bytes and appends "..." when it did.
func Truncate(s string, maxLen int) string {
	if maxLen > 0 && len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
