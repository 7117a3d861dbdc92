package crewfile

import (
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/agent"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/config"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/crew"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/resilience"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
)

// Env carries what a crew definition needs from the outside world.
type Env struct {
	Provider llm.Provider
	LLM      config.LLMConfig
	Agent    config.AgentConfig
	Crew     config.CrewConfig
	// Tools maps configured tool names to the tools they expose.
	Tools map[string][]core.Tool
}

// Build assembles agents and tasks and returns the crew.
// extra options are applied after those derived from the definition.
func Build(f *File, env Env, extra ...crew.Option) (*crew.Crew, error) {
	if env.Provider == nil {
		return nil, errors.Newf(errors.CodeConfig, "an llm provider is required")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	agents := make([]*agent.Agent, 0, len(f.Agents))
	byID := make(map[string]*agent.Agent, len(f.Agents))
	for _, spec := range f.Agents {
		a, err := buildAgent(spec, env)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
		byID[spec.ID] = a
	}

	tasks := make([]*task.Task, 0, len(f.Tasks))
	taskByID := make(map[string]*task.Task, len(f.Tasks))
	for _, spec := range f.Tasks {
		t := &task.Task{
			ID:             spec.ID,
			Description:    spec.Description,
			ExpectedOutput: spec.ExpectedOutput,
			Agent:          byID[spec.Agent],
			OutputFile:     spec.OutputFile,
			AsyncExecution: spec.AsyncExecution,
		}
		if spec.Tools != nil {
			tools, err := resolveTools(spec.Tools, env.Tools)
			if err != nil {
				return nil, errors.As(err).WithTask(spec.ID, spec.Agent)
			}
			t.Tools = tools
		}
		for _, dep := range spec.Context {
			t.Context = append(t.Context, taskByID[dep])
		}
		if spec.Timeout != "" {
			t.Timeout, _ = time.ParseDuration(spec.Timeout)
		}
		tasks = append(tasks, t)
		taskByID[spec.ID] = t
	}

	opts := append(crewOptions(f.Crew, env.Crew), extra...)
	return crew.New(agents, tasks, opts...)
}

func buildAgent(spec AgentSpec, env Env) (*agent.Agent, error) {
	tools, err := resolveTools(spec.Tools, env.Tools)
	if err != nil {
		return nil, errors.As(err).WithTask("", spec.ID)
	}

	model := env.LLM.Model
	if spec.Model != "" {
		model = spec.Model
	}
	temperature := env.LLM.Temperature
	if spec.Temperature != nil {
		temperature = *spec.Temperature
	}
	memory := true
	if spec.Memory != nil {
		memory = *spec.Memory
	}

	opts := []agent.Option{
		agent.WithRole(spec.Role),
		agent.WithGoal(spec.Goal),
		agent.WithBackstory(spec.Backstory),
		agent.WithTools(tools...),
		agent.WithAllowDelegation(spec.AllowDelegation),
		agent.WithMemory(memory),
		agent.WithVerbose(spec.Verbose),
		agent.WithLLM(env.Provider),
		agent.WithModel(model),
		agent.WithTemperature(temperature),
		agent.WithLLMTimeout(env.Agent.LLMTimeout),
		agent.WithToolTimeout(env.Agent.ToolTimeout),
	}
	maxIter := env.Agent.MaxIterations
	if spec.MaxIterations > 0 {
		maxIter = spec.MaxIterations
	}
	if maxIter > 0 {
		opts = append(opts, agent.WithMaxIterations(maxIter))
	}
	if env.Agent.LLMRetries > 0 {
		opts = append(opts, agent.WithLLMRetry(resilience.DefaultRetryConfig().WithMaxAttempts(env.Agent.LLMRetries)))
	}
	if env.Agent.ToolRetries > 0 {
		opts = append(opts, agent.WithToolRetry(resilience.DefaultRetryConfig().WithMaxAttempts(env.Agent.ToolRetries)))
	}
	return agent.New(spec.ID, opts...)
}

func resolveTools(names []string, available map[string][]core.Tool) ([]core.Tool, error) {
	out := make([]core.Tool, 0, len(names))
	for _, name := range names {
		tools, ok := available[name]
		if !ok {
			return nil, errors.Newf(errors.CodeConfig, "unknown tool %q", name).WithContext("tool_name", name)
		}
		out = append(out, tools...)
	}
	return out, nil
}

// crewOptions merges the definition's settings over the configured defaults.
func crewOptions(s Settings, base config.CrewConfig) []crew.Option {
	if s.Process != nil {
		base.Process = *s.Process
	}
	if s.Memory != nil {
		base.Memory = *s.Memory
	}
	if s.Cache != nil {
		base.Cache = *s.Cache
	}
	if s.MaxRPM != nil {
		base.MaxRPM = *s.MaxRPM
	}
	if s.ShareCrew != nil {
		base.ShareCrew = *s.ShareCrew
	}

	opts := []crew.Option{
		crew.WithMemory(base.Memory),
		crew.WithCache(base.Cache),
		crew.WithMaxRPM(base.MaxRPM),
		crew.WithShareCrew(base.ShareCrew),
		crew.WithTaskRetry(base.TaskRetry),
	}
	if base.Process != "" {
		opts = append(opts, crew.WithProcess(crew.Process(base.Process)))
	}
	if base.MemoryBudget > 0 {
		opts = append(opts, crew.WithMemoryBudget(base.MemoryBudget))
	}
	if base.MaxDelegationDepth > 0 {
		opts = append(opts, crew.WithMaxDelegationDepth(base.MaxDelegationDepth))
	}
	if base.RateLimitWait > 0 {
		opts = append(opts, crew.WithRateLimitWait(base.RateLimitWait))
	}
	return opts
}
