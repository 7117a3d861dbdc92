// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the LLM-driven agent and its act-observe loop.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/resilience"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/template"
)

// DefaultMaxIterations caps LLM turns per task execution.
const DefaultMaxIterations = 10

// Agent is an LLM-backed persona. It is immutable after New.
type Agent struct {
	id              string
	role            string
	goal            string
	backstory       string
	tools           []core.Tool
	allowDelegation bool
	memory          bool
	verbose         bool

	llm         llm.Provider
	model       string
	temperature *float64

	maxIterations int
	llmRetry      resilience.RetryConfig
	llmTimeout    time.Duration
	toolRetry     resilience.RetryConfig
	toolTimeout   time.Duration
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates a new Agent with a required id and options.
// Role, goal and backstory may contain {placeholders} resolved at kickoff.
func New(id string, opts ...Option) (*Agent, error) {
	a := &Agent{
		id:            id,
		memory:        true,
		maxIterations: DefaultMaxIterations,
		llmRetry:      resilience.DefaultRetryConfig(),
		toolRetry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(a.id) == "" {
		return nil, errors.New(errors.CodeConfig, "agent id is required", nil)
	}
	if strings.TrimSpace(a.role) == "" {
		return nil, errors.New(errors.CodeConfig, "agent role is required", nil).WithTask("", a.id)
	}
	if a.llm == nil {
		return nil, errors.New(errors.CodeConfig, "agent llm provider is required", nil).WithTask("", a.id)
	}
	if err := validateTools(a.tools); err != nil {
		return nil, err.WithTask("", a.id)
	}
	return a, nil
}

func validateTools(tools []core.Tool) *errors.Error {
	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if t == nil {
			return errors.New(errors.CodeConfig, "nil tool", nil)
		}
		name := t.Name()
		if name == DelegateWorkTool || name == AskQuestionTool {
			return errors.Newf(errors.CodeConfig, "tool name %q is reserved", name)
		}
		if seen[name] {
			return errors.Newf(errors.CodeConfig, "duplicate tool name %q", name)
		}
		seen[name] = true
	}
	return nil
}

// WithRole sets the agent role.
func WithRole(role string) Option {
	return func(a *Agent) error {
		a.role = role
		return nil
	}
}

// WithGoal sets the agent's personal goal.
func WithGoal(goal string) Option {
	return func(a *Agent) error {
		a.goal = goal
		return nil
	}
}

// WithBackstory sets the persona backstory.
func WithBackstory(backstory string) Option {
	return func(a *Agent) error {
		a.backstory = backstory
		return nil
	}
}

// WithTools assigns the agent's default tools.
func WithTools(tools ...core.Tool) Option {
	return func(a *Agent) error {
		a.tools = append([]core.Tool(nil), tools...)
		return nil
	}
}

// WithAllowDelegation lets the agent hand work to coworkers.
func WithAllowDelegation(allow bool) Option {
	return func(a *Agent) error {
		a.allowDelegation = allow
		return nil
	}
}

// WithMemory enables or disables reading and writing crew memory.
// Agents use memory by default when the crew enables it.
func WithMemory(enabled bool) Option {
	return func(a *Agent) error {
		a.memory = enabled
		return nil
	}
}

// WithVerbose logs each loop step at info level instead of debug.
func WithVerbose(verbose bool) Option {
	return func(a *Agent) error {
		a.verbose = verbose
		return nil
	}
}

// WithLLM sets the chat model provider.
func WithLLM(provider llm.Provider) Option {
	return func(a *Agent) error {
		a.llm = provider
		return nil
	}
}

// WithModel sets the model name sent with each request.
func WithModel(model string) Option {
	return func(a *Agent) error {
		a.model = model
		return nil
	}
}

// WithTemperature sets the sampling temperature. Without it the provider
// default applies.
func WithTemperature(temperature float64) Option {
	return func(a *Agent) error {
		if temperature < 0 || temperature > 2 {
			return errors.Newf(errors.CodeConfig, "temperature %.2f out of range [0,2]", temperature)
		}
		a.temperature = &temperature
		return nil
	}
}

// WithMaxIterations caps LLM turns per task.
func WithMaxIterations(n int) Option {
	return func(a *Agent) error {
		if n < 1 {
			return errors.Newf(errors.CodeConfig, "max iterations must be >= 1, got %d", n)
		}
		a.maxIterations = n
		return nil
	}
}

// WithLLMRetry sets the retry policy for chat calls.
func WithLLMRetry(rc resilience.RetryConfig) Option {
	return func(a *Agent) error {
		a.llmRetry = rc
		return nil
	}
}

// WithLLMTimeout bounds each chat call. Zero means no bound.
func WithLLMTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		a.llmTimeout = d
		return nil
	}
}

// WithToolRetry sets the retry policy for transient tool failures.
func WithToolRetry(rc resilience.RetryConfig) Option {
	return func(a *Agent) error {
		a.toolRetry = rc
		return nil
	}
}

// WithToolTimeout bounds each tool call. Zero means no bound.
func WithToolTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		a.toolTimeout = d
		return nil
	}
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Role returns the raw role template.
func (a *Agent) Role() string { return a.role }

// Goal returns the raw goal template.
func (a *Agent) Goal() string { return a.goal }

// Backstory returns the raw backstory template.
func (a *Agent) Backstory() string { return a.backstory }

// Model returns the configured model name.
func (a *Agent) Model() string { return a.model }

// AllowDelegation reports whether the agent may delegate.
func (a *Agent) AllowDelegation() bool { return a.allowDelegation }

// MemoryEnabled reports whether the agent reads and writes crew memory.
func (a *Agent) MemoryEnabled() bool { return a.memory }

// MaxIterations returns the loop cap.
func (a *Agent) MaxIterations() int { return a.maxIterations }

// Tools returns a copy of the agent's default tools.
func (a *Agent) Tools() []core.Tool {
	return append([]core.Tool(nil), a.tools...)
}

// Templates returns the agent's template-bearing fields.
func (a *Agent) Templates() []string {
	return []string{a.role, a.goal, a.backstory}
}

// ResolvedRole returns the role with inputs interpolated.
func (a *Agent) ResolvedRole(inputs map[string]string) string {
	return template.Interpolate(a.role, inputs)
}

func (a *Agent) String() string {
	return fmt.Sprintf("agent(%s, role=%q)", a.id, a.role)
}
