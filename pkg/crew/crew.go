// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package crew assembles agents and tasks into a pipeline and runs it.
package crew

import (
	"log/slog"
	"strings"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/agent"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/artifact"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/audit"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/delegation"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/memory"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/ratelimit"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/resilience"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/telemetry"
)

// Process selects how tasks are scheduled.
type Process string

const (
	ProcessSequential   Process = "sequential"
	ProcessHierarchical Process = "hierarchical"
)

// DefaultMaxRPM bounds LLM and tool calls per minute unless WithMaxRPM
// overrides it.
const DefaultMaxRPM = 10

// DefaultTaskRetry is the number of re-runs granted to a task whose
// deadline expired.
const DefaultTaskRetry = 1

// Crew is an ordered pipeline of tasks executed by a set of agents.
// It is immutable after New and may be kicked off any number of times.
type Crew struct {
	agents []*agent.Agent
	tasks  []*task.Task
	owners map[*task.Task]*agent.Agent
	proc   process

	process       Process
	memory        bool
	cache         bool
	maxRPM        int
	shareCrew     bool
	memoryBudget  int
	maxDepth      int
	rateLimitWait time.Duration
	taskRetry     int
	taskBackoff   resilience.RetryConfig
	limiterOpts   []ratelimit.Option

	writer  artifact.Writer
	audit   audit.Store
	logger  *slog.Logger
	events  core.EventEmitter
	metrics *telemetry.Metrics
}

// Option configures a Crew.
type Option func(*Crew) error

// New validates agents and tasks and returns a crew.
func New(agents []*agent.Agent, tasks []*task.Task, opts ...Option) (*Crew, error) {
	c := &Crew{
		agents:        append([]*agent.Agent(nil), agents...),
		tasks:         append([]*task.Task(nil), tasks...),
		process:       ProcessSequential,
		maxRPM:        DefaultMaxRPM,
		memoryBudget:  memory.DefaultBudget,
		maxDepth:      delegation.DefaultMaxDepth,
		rateLimitWait: ratelimit.DefaultMaxWait,
		taskRetry:     DefaultTaskRetry,
		taskBackoff:   resilience.DefaultRetryConfig(),
		writer:        artifact.NewFileWriter(""),
		events:        core.NoopEventEmitter{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = telemetry.DefaultMetrics()
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Crew) validate() error {
	if len(c.agents) == 0 {
		return errors.New(errors.CodeConfig, "crew needs at least one agent", nil)
	}
	if len(c.tasks) == 0 {
		return errors.New(errors.CodeConfig, "crew needs at least one task", nil)
	}

	switch c.process {
	case ProcessSequential:
		c.proc = sequential{}
	case ProcessHierarchical:
		return errors.New(errors.CodeConfig, "hierarchical process is not supported", nil).
			WithContext("process", string(c.process))
	default:
		return errors.Newf(errors.CodeConfig, "unknown process %q", c.process)
	}

	members := make(map[*agent.Agent]bool, len(c.agents))
	ids := make(map[string]bool, len(c.agents))
	for _, a := range c.agents {
		if a == nil {
			return errors.New(errors.CodeConfig, "nil agent", nil)
		}
		if ids[a.ID()] {
			return errors.Newf(errors.CodeConfig, "duplicate agent id %q", a.ID())
		}
		ids[a.ID()] = true
		members[a] = true
	}
	if _, err := delegation.New(c.agents, nil); err != nil {
		return err
	}

	c.owners = make(map[*task.Task]*agent.Agent, len(c.tasks))
	seen := make(map[*task.Task]bool, len(c.tasks))
	taskIDs := make(map[string]bool, len(c.tasks))
	for i, t := range c.tasks {
		if t == nil {
			return errors.Newf(errors.CodeConfig, "task %d is nil", i)
		}
		if strings.TrimSpace(t.ID) == "" {
			return errors.Newf(errors.CodeConfig, "task %d has no id", i)
		}
		if taskIDs[t.ID] {
			return errors.Newf(errors.CodeConfig, "duplicate task id %q", t.ID)
		}
		taskIDs[t.ID] = true
		if strings.TrimSpace(t.Description) == "" {
			return errors.New(errors.CodeConfig, "task description is required", nil).WithTask(t.ID, "")
		}
		a, ok := t.Agent.(*agent.Agent)
		if !ok || a == nil {
			return errors.New(errors.CodeConfig, "task has no agent", nil).WithTask(t.ID, "")
		}
		if !members[a] {
			return errors.New(errors.CodeConfig, "task agent is not a member of the crew", nil).WithTask(t.ID, a.ID())
		}
		for _, dep := range t.Context {
			if dep == nil || !seen[dep] {
				depID := "<nil>"
				if dep != nil {
					depID = dep.ID
				}
				return errors.Newf(errors.CodeConfig, "context task %q must appear earlier in the task list", depID).
					WithTask(t.ID, a.ID())
			}
		}
		if t.Timeout < 0 {
			return errors.New(errors.CodeConfig, "task timeout must not be negative", nil).WithTask(t.ID, a.ID())
		}
		c.owners[t] = a
		seen[t] = true
	}
	return nil
}

// WithProcess selects the scheduling strategy.
func WithProcess(p Process) Option {
	return func(c *Crew) error {
		c.process = Process(strings.ToLower(strings.TrimSpace(string(p))))
		return nil
	}
}

// WithMemory enables the run-scoped memory shared across tasks.
func WithMemory(enabled bool) Option {
	return func(c *Crew) error {
		c.memory = enabled
		return nil
	}
}

// WithCache enables tool-call memoization within a kickoff.
func WithCache(enabled bool) Option {
	return func(c *Crew) error {
		c.cache = enabled
		return nil
	}
}

// WithMaxRPM caps LLM and tool calls per minute across the crew.
// Zero opts out of rate limiting entirely.
func WithMaxRPM(rpm int) Option {
	return func(c *Crew) error {
		if rpm < 0 {
			return errors.Newf(errors.CodeConfig, "max_rpm must not be negative, got %d", rpm)
		}
		c.maxRPM = rpm
		return nil
	}
}

// WithShareCrew is recorded on telemetry only.
func WithShareCrew(share bool) Option {
	return func(c *Crew) error {
		c.shareCrew = share
		return nil
	}
}

// WithMemoryBudget sets the memory window size in characters.
func WithMemoryBudget(chars int) Option {
	return func(c *Crew) error {
		if chars < 0 {
			return errors.Newf(errors.CodeConfig, "memory budget must not be negative, got %d", chars)
		}
		c.memoryBudget = chars
		return nil
	}
}

// WithMaxDelegationDepth bounds delegation chains.
func WithMaxDelegationDepth(depth int) Option {
	return func(c *Crew) error {
		if depth < 1 {
			return errors.Newf(errors.CodeConfig, "max delegation depth must be >= 1, got %d", depth)
		}
		c.maxDepth = depth
		return nil
	}
}

// WithRateLimitWait sets the longest a caller may wait for a rate-limit slot.
func WithRateLimitWait(d time.Duration) Option {
	return func(c *Crew) error {
		c.rateLimitWait = d
		return nil
	}
}

// WithTaskRetry sets how many times a timed-out task is re-run.
func WithTaskRetry(n int) Option {
	return func(c *Crew) error {
		if n < 0 {
			return errors.Newf(errors.CodeConfig, "task retry must not be negative, got %d", n)
		}
		c.taskRetry = n
		return nil
	}
}

// WithTaskBackoff sets the wait policy between re-runs of a timed-out task.
// Attempts and recoverability come from WithTaskRetry and the deadline.
func WithTaskBackoff(rc resilience.RetryConfig) Option {
	return func(c *Crew) error {
		if rc.InitialDelay < 0 || rc.MaxDelay < 0 {
			return errors.New(errors.CodeConfig, "task backoff delays must not be negative", nil)
		}
		c.taskBackoff = rc
		return nil
	}
}

// WithLimiterOptions passes options to the per-kickoff rate limiter.
func WithLimiterOptions(opts ...ratelimit.Option) Option {
	return func(c *Crew) error {
		c.limiterOpts = append(c.limiterOpts, opts...)
		return nil
	}
}

// WithArtifactWriter sets where task outputs are written.
func WithArtifactWriter(w artifact.Writer) Option {
	return func(c *Crew) error {
		if w == nil {
			return errors.New(errors.CodeConfig, "artifact writer is nil", nil)
		}
		c.writer = w
		return nil
	}
}

// WithAuditStore records task lifecycle events.
func WithAuditStore(store audit.Store) Option {
	return func(c *Crew) error {
		c.audit = store
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crew) error {
		c.logger = logger
		return nil
	}
}

// WithEventEmitter receives semantic events during kickoff.
func WithEventEmitter(emitter core.EventEmitter) Option {
	return func(c *Crew) error {
		if emitter == nil {
			emitter = core.NoopEventEmitter{}
		}
		c.events = emitter
		return nil
	}
}

// WithMetrics overrides the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Crew) error {
		c.metrics = m
		return nil
	}
}

// Agents returns the crew's agents.
func (c *Crew) Agents() []*agent.Agent { return append([]*agent.Agent(nil), c.agents...) }

// Tasks returns the crew's tasks in execution order.
func (c *Crew) Tasks() []*task.Task { return append([]*task.Task(nil), c.tasks...) }

// Process returns the scheduling strategy.
func (c *Crew) Process() Process { return c.process }
