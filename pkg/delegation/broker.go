// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package delegation routes coworker requests between the agents of a crew.
package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/agent"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/telemetry"
)

// DefaultMaxDepth bounds delegation chains.
const DefaultMaxDepth = 3

const (
	delegatedExpectedOutput = "Your best answer to your coworker asking you this, accounting for the context shared."
	questionExpectedOutput  = "A direct answer to your coworker's question, accounting for the context shared."
)

var tracer = otel.Tracer("replication-ai/delegation")

// Broker resolves coworker roles to agents. It is built per kickoff from the
// interpolated roles and implements agent.Delegator.
type Broker struct {
	agents   []*agent.Agent
	roles    map[*agent.Agent]string
	byRole   map[string]*agent.Agent
	maxDepth int
}

// Option configures a Broker.
type Option func(*Broker)

// WithMaxDepth sets the maximum delegation depth. Values below 1 keep the default.
func WithMaxDepth(depth int) Option {
	return func(b *Broker) {
		if depth >= 1 {
			b.maxDepth = depth
		}
	}
}

// New indexes agents by role after interpolating inputs. When any agent may
// delegate, every agent is a potential target and roles must be unique
// (case-insensitive); a clash fails with AmbiguousRole.
func New(agents []*agent.Agent, inputs map[string]string, opts ...Option) (*Broker, error) {
	b := &Broker{
		agents:   agents,
		roles:    make(map[*agent.Agent]string, len(agents)),
		byRole:   make(map[string]*agent.Agent, len(agents)),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(b)
	}

	delegating := false
	for _, a := range agents {
		if a.AllowDelegation() {
			delegating = true
		}
	}
	for _, a := range agents {
		role := strings.TrimSpace(a.ResolvedRole(inputs))
		b.roles[a] = role
		key := normalize(role)
		if prev, ok := b.byRole[key]; ok {
			if delegating && prev != a {
				return nil, errors.Newf(errors.CodeAmbiguousRole, "agents %q and %q share role %q", prev.ID(), a.ID(), role).
					WithContext("role", role)
			}
			continue
		}
		b.byRole[key] = a
	}
	return b, nil
}

func normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// MaxDepth returns the configured depth limit.
func (b *Broker) MaxDepth() int { return b.maxDepth }

// Lookup returns the agent registered under role.
func (b *Broker) Lookup(role string) (*agent.Agent, bool) {
	a, ok := b.byRole[normalize(role)]
	return a, ok
}

// Coworkers implements agent.Delegator. The caller is never its own coworker.
func (b *Broker) Coworkers(caller *agent.Agent) []string {
	out := make([]string, 0, len(b.agents))
	for _, a := range b.agents {
		if a == caller {
			continue
		}
		out = append(out, b.roles[a])
	}
	return out
}

// Delegate implements agent.Delegator: it runs req as an ad-hoc task on the
// target agent one level deeper, sharing the caller's limiter and cache.
func (b *Broker) Delegate(ctx context.Context, rt *agent.Runtime, caller *agent.Agent, req agent.DelegationRequest) (string, error) {
	depth := rt.Depth + 1
	ctx, span := tracer.Start(ctx, "Delegation")
	defer span.End()
	span.SetAttributes(telemetry.DelegationAttributes(req.Kind, req.Coworker, depth)...)

	out, err := b.delegate(ctx, rt, caller, req, depth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (b *Broker) delegate(ctx context.Context, rt *agent.Runtime, caller *agent.Agent, req agent.DelegationRequest, depth int) (string, error) {
	if depth > b.maxDepth {
		return "", errors.Newf(errors.CodeDelegationDepthExceeded, "delegation depth %d exceeds maximum %d", depth, b.maxDepth).
			WithContext("coworker", req.Coworker).
			WithContext("max_depth", b.maxDepth).
			WithTask("", caller.ID())
	}
	target, ok := b.Lookup(req.Coworker)
	if !ok || target == caller {
		return "", errors.Newf(errors.CodeAgentNotFound, "no coworker with role %q", req.Coworker).
			WithContext("available", b.Coworkers(caller)).
			WithTask("", caller.ID())
	}

	logger := rt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("delegation.start",
		slog.String("from", caller.ID()),
		slog.String("to", target.ID()),
		slog.String("kind", req.Kind),
		slog.Int("depth", depth),
	)

	adhoc := &task.Task{
		ID:             fmt.Sprintf("%s:%s>%s", req.Kind, caller.ID(), target.ID()),
		Description:    req.Task,
		ExpectedOutput: delegatedExpectedOutput,
		Agent:          target,
	}
	if req.Kind == agent.AskQuestionTool {
		adhoc.ExpectedOutput = questionExpectedOutput
	}
	res, err := target.Execute(ctx, rt.Child(), adhoc, req.Context)
	if err != nil {
		return "", err
	}
	return res.Raw, nil
}
