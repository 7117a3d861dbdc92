// SPDX-License-Identifier: Apache-2.0

// Package task defines units of work and their results.
package task

import (
	"context"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
)

// Status is the terminal state of a task within a run.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusUpstreamFailure Status = "upstream_failure"
	StatusCancelled       Status = "cancelled"
)

// Executor is implemented by agents. It is declared here so tasks can hold
// their assignee without importing the agent package.
type Executor interface {
	ID() string
	Role() string
}

// Task is a unit of work assigned to one agent.
// Description, ExpectedOutput and OutputFile may contain {placeholders}.
type Task struct {
	ID             string
	Description    string
	ExpectedOutput string
	Agent          Executor
	// Context lists tasks whose outputs are injected into this task's prompt.
	// Every entry must appear earlier in the crew's task list.
	Context    []*Task
	OutputFile string
	// Tools, when non-nil, replaces the agent's tools for this task.
	Tools          []core.Tool
	AsyncExecution bool
	Timeout        time.Duration
}

// Templates returns the task's template-bearing fields.
func (t *Task) Templates() []string {
	return []string{t.Description, t.ExpectedOutput, t.OutputFile}
}

// ToolCall records one tool invocation made while executing a task.
type ToolCall struct {
	Tool     string
	Args     string
	Output   string
	Cached   bool
	Err      error
	Duration time.Duration
}

// Delegation records one delegated sub-request.
type Delegation struct {
	Kind     string
	Coworker string
	Request  string
	Output   string
	Depth    int
	Err      error
}

// Result is the outcome of a task.
type Result struct {
	TaskID    string
	AgentID   string
	AgentRole string
	Status    Status
	// Raw is the agent's final answer.
	Raw string
	// Prompt is the fully interpolated user prompt sent on the first turn.
	Prompt string
	Err    error
	// OutputPath is where the artifact was written, if any.
	OutputPath string
	// WriteErr is set when the artifact could not be written. It does not
	// change Status.
	WriteErr    error
	Iterations  int
	ToolCalls   []ToolCall
	Delegations []Delegation
	Usage       llm.Usage
	Started     time.Time
	Finished    time.Time
	Duration    time.Duration
}

// OK reports whether the task completed.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusCompleted
}

// Finish stamps the end time and duration.
func (r *Result) Finish() {
	r.Finished = time.Now()
	if !r.Started.IsZero() {
		r.Duration = r.Finished.Sub(r.Started)
	}
}

type ctxKey struct{}

// WithTaskID tags ctx with the executing task id for log correlation.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IDFromContext returns the task id set by WithTaskID.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
