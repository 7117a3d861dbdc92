package agent

import (
	"context"
	"log/slog"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/cache"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/memory"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/ratelimit"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/telemetry"
)

// DelegationRequest is a coworker request decoded from a delegation tool call.
type DelegationRequest struct {
	// Kind is DelegateWorkTool or AskQuestionTool.
	Kind     string
	Coworker string
	// Task is the work item or the question.
	Task    string
	Context string
}

// Delegator routes delegation requests to coworkers.
type Delegator interface {
	// Coworkers returns the resolved roles the caller may delegate to.
	Coworkers(caller *Agent) []string
	// Delegate runs req on the named coworker and returns its answer.
	Delegate(ctx context.Context, rt *Runtime, caller *Agent, req DelegationRequest) (string, error)
}

// Runtime carries the run-scoped collaborators shared by every agent of one
// kickoff. It is created by the crew and discarded when the kickoff ends.
type Runtime struct {
	RunID        string
	Inputs       map[string]string
	Limiter      *ratelimit.Limiter
	Cache        *cache.Cache
	Memory       *memory.Store
	MemoryBudget int
	Delegator    Delegator
	// Depth is 0 for crew-level tasks and grows by one per delegation hop.
	Depth   int
	Logger  *slog.Logger
	Events  core.EventEmitter
	Metrics *telemetry.Metrics
}

// Child returns a copy of rt one delegation level deeper.
func (rt *Runtime) Child() *Runtime {
	child := *rt
	child.Depth = rt.Depth + 1
	return &child
}

func (rt *Runtime) logger() *slog.Logger {
	if rt == nil || rt.Logger == nil {
		return slog.Default()
	}
	return rt.Logger
}

func (rt *Runtime) emit(ctx context.Context, ev core.Event) {
	if rt == nil || rt.Events == nil {
		return
	}
	rt.Events.Emit(ctx, ev)
}
