// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

// MeterName is the instrumentation scope for crew metrics.
const MeterName = "replication-ai/crew"

// Metrics records crew activity. A nil *Metrics discards everything.
type Metrics struct {
	tasks         metric.Int64Counter
	llmCalls      metric.Int64Counter
	toolCalls     metric.Int64Counter
	cacheLookups  metric.Int64Counter
	rateLimitWait metric.Float64Histogram
	delegations   metric.Int64Counter
	errors        metric.Int64Counter
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns metrics bound to the global meter provider,
// creating them on first use. Returns nil if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(nil)
		if err == nil {
			defaultMetrics = m
		}
	})
	return defaultMetrics
}

// NewMetrics creates the crew instruments on mp, or on the global provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(MeterName)

	var (
		m   Metrics
		err error
	)
	if m.tasks, err = meter.Int64Counter("crew.tasks.total",
		metric.WithDescription("Tasks finished by terminal status")); err != nil {
		return nil, err
	}
	if m.llmCalls, err = meter.Int64Counter("crew.llm.calls",
		metric.WithDescription("LLM chat calls by outcome")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("crew.tool.calls",
		metric.WithDescription("Tool invocations by tool and outcome")); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("crew.cache.lookups",
		metric.WithDescription("Tool cache lookups by result (hit|miss)")); err != nil {
		return nil, err
	}
	if m.rateLimitWait, err = meter.Float64Histogram("crew.ratelimit.wait_ms",
		metric.WithDescription("Time spent waiting for a rate limit slot"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.delegations, err = meter.Int64Counter("crew.delegations",
		metric.WithDescription("Delegations by kind and outcome")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("crew.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordTask counts a finished task.
func (m *Metrics) RecordTask(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.tasks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordLLMCall counts one chat call.
func (m *Metrics) RecordLLMCall(ctx context.Context, model string, err error) {
	if m == nil {
		return
	}
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordToolCall counts one tool call and the cache lookup that preceded it.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, cached bool, err error) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome(err)),
	))
	result := "miss"
	if cached {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRateLimitWait records how long a caller waited for admission.
func (m *Metrics) RecordRateLimitWait(ctx context.Context, waitMs float64) {
	if m == nil {
		return
	}
	m.rateLimitWait.Record(ctx, waitMs)
}

// RecordDelegation counts one delegation.
func (m *Metrics) RecordDelegation(ctx context.Context, kind string, err error) {
	if m == nil {
		return
	}
	m.delegations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordError counts err under its code for the given component.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	recoverable := "false"
	if errors.IsRecoverable(err) {
		recoverable = "true"
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", string(errors.CodeOf(err))),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
