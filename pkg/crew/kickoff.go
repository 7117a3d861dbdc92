// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package crew

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/agent"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/audit"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/cache"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/delegation"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/memory"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/ratelimit"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/resilience"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/telemetry"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/template"
)

var tracer = otel.Tracer("replication-ai/crew")

// contextDivider separates dependency outputs in a task prompt.
const contextDivider = "\n\n----------\n\n"

// process schedules the tasks of one kickoff.
type process interface {
	run(ctx context.Context, k *kickoff) []*task.Result
}

// kickoff holds the run-scoped state of one Kickoff call.
type kickoff struct {
	crew    *Crew
	runID   string
	inputs  map[string]string
	rt      *agent.Runtime
	cache   *cache.Cache
	log     *slog.Logger
	results map[string]*task.Result
}

// RequiredInputs returns the sorted placeholders used by any agent or task.
func (c *Crew) RequiredInputs() []string {
	var texts []string
	for _, a := range c.agents {
		texts = append(texts, a.Templates()...)
	}
	for _, t := range c.tasks {
		texts = append(texts, t.Templates()...)
	}
	return template.Collect(texts...)
}

// ValidateInputs fails with a TemplateError naming every placeholder that
// inputs does not define.
func (c *Crew) ValidateInputs(inputs map[string]string) error {
	missing := template.Missing(c.RequiredInputs(), inputs)
	if len(missing) == 0 {
		return nil
	}
	return errors.Newf(errors.CodeTemplate, "missing inputs for placeholders: %s", strings.Join(missing, ", ")).
		WithContext("missing", missing)
}

// Kickoff runs every task once and returns one result per task in task
// order. Template and resource errors are returned before any task runs.
// Per-task failures are reported in the output, not as the returned error;
// a cancelled context returns the partial output along with the cause.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) (*Output, error) {
	if inputs == nil {
		inputs = map[string]string{}
	}
	ctx, runID := core.EnsureRunID(ctx)

	ctx, span := tracer.Start(ctx, "Crew.Kickoff")
	defer span.End()
	span.SetAttributes(telemetry.CrewAttributes(runID, string(c.process), len(c.tasks), c.maxRPM, c.memory, c.cache)...)

	log := c.logger.With(slog.String("run_id", runID))
	fail := func(err *errors.Error) (*Output, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordError(ctx, err, "crew")
		log.Error("crew.kickoff.error", slog.String("error", err.Error()), slog.String("error_code", string(err.Code)))
		return nil, err
	}

	if err := c.ValidateInputs(inputs); err != nil {
		return fail(errors.As(err))
	}
	k, err := c.newKickoff(runID, inputs, log)
	if err != nil {
		return fail(errors.As(err))
	}
	defer k.cache.Clear()

	log.Info("crew.kickoff.start",
		slog.String("process", string(c.process)),
		slog.Int("tasks", len(c.tasks)),
		slog.Int("max_rpm", c.maxRPM),
		slog.Bool("memory", c.memory),
		slog.Bool("cache", c.cache),
		slog.Bool("share_crew", c.shareCrew),
	)
	c.events.Emit(ctx, core.NewEvent(core.EventCrewStarted, "", "", map[string]any{
		"run_id": runID,
		"tasks":  len(c.tasks),
	}))

	start := time.Now()
	out := &Output{RunID: runID, Results: c.proc.run(ctx, k)}
	out.Duration = time.Since(start)

	failed := len(out.Failed())
	stats := k.cache.Stats()
	log.Info("crew.kickoff.complete",
		slog.Int("failed", failed),
		slog.Int("total_tokens", out.Usage().TotalTokens),
		slog.Int64("cache_hits", stats.Hits),
		slog.Int64("cache_misses", stats.Misses),
		slog.Duration("duration", out.Duration),
	)
	c.events.Emit(ctx, core.NewEvent(core.EventCrewCompleted, "", "", map[string]any{
		"run_id": runID,
		"failed": failed,
	}))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d tasks did not complete", failed, len(out.Results)))
	}

	if err := ctx.Err(); err != nil {
		return out, errors.New(errors.CodeCancelled, "kickoff cancelled", err)
	}
	return out, nil
}

func (c *Crew) newKickoff(runID string, inputs map[string]string, log *slog.Logger) (*kickoff, error) {
	limiterOpts := append([]ratelimit.Option{ratelimit.WithMaxWait(c.rateLimitWait)}, c.limiterOpts...)
	limiter, err := ratelimit.New(c.maxRPM, limiterOpts...)
	if err != nil {
		return nil, err
	}
	broker, err := delegation.New(c.agents, inputs, delegation.WithMaxDepth(c.maxDepth))
	if err != nil {
		return nil, err
	}

	k := &kickoff{
		crew:    c,
		runID:   runID,
		inputs:  inputs,
		log:     log,
		results: make(map[string]*task.Result, len(c.tasks)),
	}
	rt := &agent.Runtime{
		RunID:        runID,
		Inputs:       inputs,
		Limiter:      limiter,
		MemoryBudget: c.memoryBudget,
		Delegator:    broker,
		Logger:       log,
		Events:       c.events,
		Metrics:      c.metrics,
	}
	if c.cache {
		k.cache = cache.New()
		rt.Cache = k.cache
	}
	if c.memory {
		rt.Memory = memory.NewStore()
	}
	k.rt = rt
	return k, nil
}

// sequential runs tasks one at a time in list order.
type sequential struct{}

func (sequential) run(ctx context.Context, k *kickoff) []*task.Result {
	results := make([]*task.Result, 0, len(k.crew.tasks))
	for _, t := range k.crew.tasks {
		var res *task.Result
		if err := ctx.Err(); err != nil {
			res = k.cancelled(ctx, t, err)
		} else if dep := k.failedDependency(t); dep != nil {
			res = k.upstreamFailure(ctx, t, dep)
		} else {
			res = k.execute(ctx, t)
		}
		k.results[t.ID] = res
		results = append(results, res)
	}
	return results
}

// failedDependency returns the first context task that did not complete.
func (k *kickoff) failedDependency(t *task.Task) *task.Result {
	for _, dep := range t.Context {
		if res := k.results[dep.ID]; res == nil || !res.OK() {
			if res == nil {
				res = &task.Result{TaskID: dep.ID}
			}
			return res
		}
	}
	return nil
}

// upstreamContext joins the outputs of t's context tasks.
func (k *kickoff) upstreamContext(t *task.Task) string {
	parts := make([]string, 0, len(t.Context))
	for _, dep := range t.Context {
		if res := k.results[dep.ID]; res != nil && strings.TrimSpace(res.Raw) != "" {
			parts = append(parts, res.Raw)
		}
	}
	return strings.Join(parts, contextDivider)
}

func (k *kickoff) skipped(ctx context.Context, t *task.Task, status task.Status, err *errors.Error) *task.Result {
	a := k.crew.owners[t]
	now := time.Now()
	res := &task.Result{
		TaskID:    t.ID,
		AgentID:   a.ID(),
		AgentRole: a.ResolvedRole(k.inputs),
		Status:    status,
		Err:       err.WithTask(t.ID, a.ID()),
		Started:   now,
	}
	res.Finish()
	k.crew.metrics.RecordTask(ctx, string(status))
	k.crew.events.Emit(ctx, core.NewEvent(core.EventTaskSkipped, a.ID(), t.ID, map[string]any{
		"status": string(status),
		"reason": err.Error(),
	}))
	k.log.Warn("task.skipped",
		slog.String("task_id", t.ID),
		slog.String("status", string(status)),
		slog.String("error", err.Error()),
	)
	k.record(ctx, res, audit.PhaseFinished)
	return res
}

func (k *kickoff) cancelled(ctx context.Context, t *task.Task, cause error) *task.Result {
	return k.skipped(ctx, t, task.StatusCancelled, errors.New(errors.CodeCancelled, "kickoff cancelled before task ran", cause))
}

func (k *kickoff) upstreamFailure(ctx context.Context, t *task.Task, dep *task.Result) *task.Result {
	err := errors.Newf(errors.CodeUpstreamFailure, "dependency %q did not complete", dep.TaskID).
		WithContext("dependency", dep.TaskID).
		WithContext("dependency_status", string(dep.Status))
	err.Err = dep.Err
	return k.skipped(ctx, t, task.StatusUpstreamFailure, err)
}

// execute runs t on its agent, re-running it when only its deadline expired,
// then writes its artifact.
func (k *kickoff) execute(ctx context.Context, t *task.Task) *task.Result {
	c := k.crew
	a := c.owners[t]
	ctx = task.WithTaskID(ctx, t.ID)
	ctx, span := tracer.Start(ctx, "Task.Execute")
	defer span.End()

	log := k.log.With(slog.String("task_id", t.ID), slog.String("agent_id", a.ID()))
	log.Info("task.start", slog.Int("dependencies", len(t.Context)), slog.Bool("async", t.AsyncExecution))
	c.events.Emit(ctx, core.NewEvent(core.EventTaskStarted, a.ID(), t.ID, nil))
	k.record(ctx, &task.Result{TaskID: t.ID, AgentID: a.ID(), Started: time.Now()}, audit.PhaseStarted)

	upstream := k.upstreamContext(t)
	var (
		res      *task.Result
		expired  bool
		attempts int
	)
	rc := c.taskBackoff.
		WithMaxAttempts(c.taskRetry + 1).
		WithIsRecoverable(func(error) bool { return expired }).
		WithOnRetry(func(attempt int, _ error) {
			log.Warn("task.timeout.retry", slog.Int("attempt", attempt), slog.Duration("timeout", t.Timeout))
		})
	_, err := resilience.Retry(ctx, rc, func() (*task.Result, error) {
		attempts++
		var aerr error
		res, expired, aerr = k.attempt(ctx, a, t, upstream)
		return res, aerr
	})
	switch {
	case err == nil:
	case ctx.Err() != nil && expired:
		// Cancelled while backing off between attempts.
		res.Status = task.StatusCancelled
		res.Err = errors.As(err).WithTask(t.ID, a.ID())
		err = res.Err
	case expired:
		res.Status = task.StatusFailed
		res.Err = errors.New(errors.CodeAgentExecution, "task exceeded its timeout", err).
			WithContext("timeout", t.Timeout.String()).
			WithContext("attempts", attempts).
			WithTask(t.ID, a.ID())
		err = res.Err
	}

	if err == nil && strings.TrimSpace(t.OutputFile) != "" {
		k.writeArtifact(ctx, t, res, log)
	}

	span.SetAttributes(telemetry.TaskAttributes(t.ID, string(res.Status), res.OutputPath)...)
	c.metrics.RecordTask(ctx, string(res.Status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.events.Emit(ctx, core.NewEvent(core.EventTaskFailed, a.ID(), t.ID, map[string]any{
			"status":     string(res.Status),
			"error_code": string(errors.CodeOf(err)),
		}))
		log.Error("task.failed",
			slog.String("status", string(res.Status)),
			slog.String("error", err.Error()),
			slog.String("error_code", string(errors.CodeOf(err))),
		)
	} else {
		c.events.Emit(ctx, core.NewEvent(core.EventTaskCompleted, a.ID(), t.ID, map[string]any{
			"output_path": res.OutputPath,
			"iterations":  res.Iterations,
		}))
		log.Info("task.complete",
			slog.Int("iterations", res.Iterations),
			slog.Int("tool_calls", len(res.ToolCalls)),
			slog.Int("delegations", len(res.Delegations)),
			slog.Duration("duration", res.Duration),
		)
	}
	k.record(ctx, res, audit.PhaseFinished)
	return res
}

// attempt runs t once under its deadline. expired reports a failure caused
// only by the task deadline.
func (k *kickoff) attempt(ctx context.Context, a *agent.Agent, t *task.Task, upstream string) (*task.Result, bool, error) {
	tctx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	res, err := a.Execute(tctx, k.rt, t, upstream)
	expired := err != nil && ctx.Err() == nil && stderrors.Is(tctx.Err(), context.DeadlineExceeded)
	return res, expired, err
}

func (k *kickoff) writeArtifact(ctx context.Context, t *task.Task, res *task.Result, log *slog.Logger) {
	path := template.Interpolate(t.OutputFile, k.inputs)
	dest, err := k.crew.writer.Write(ctx, path, res.Raw)
	res.OutputPath = dest
	if err != nil {
		werr := errors.As(err)
		if werr.Code != errors.CodeIO {
			werr = errors.New(errors.CodeIO, "write artifact", err)
		}
		res.WriteErr = werr.WithTask(t.ID, res.AgentID)
		k.crew.metrics.RecordError(ctx, res.WriteErr, "artifact")
		log.Error("artifact.write_error", slog.String("path", dest), slog.String("error", err.Error()))
		return
	}
	log.Info("artifact.written", slog.String("path", dest), slog.Int("bytes", len(res.Raw)))
}

// record stores an audit event. Audit failures are logged and never fail a task.
func (k *kickoff) record(ctx context.Context, res *task.Result, phase string) {
	if k.crew.audit == nil {
		return
	}
	ev := audit.Event{
		RunID:      k.runID,
		TaskID:     res.TaskID,
		AgentID:    res.AgentID,
		Phase:      phase,
		Status:     string(res.Status),
		Output:     res.Raw,
		OutputPath: res.OutputPath,
		StartedAt:  res.Started,
		FinishedAt: res.Finished,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
		ev.ErrorCode = string(errors.CodeOf(res.Err))
	}
	if err := k.crew.audit.Record(ctx, ev); err != nil {
		k.log.Warn("audit.record_error", slog.String("task_id", res.TaskID), slog.String("error", err.Error()))
	}
}
