// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	kerrors "github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return sums
}

func TestMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()

	m.RecordTask(ctx, "completed")
	m.RecordTask(ctx, "failed")
	m.RecordLLMCall(ctx, "gpt-4o", nil)
	m.RecordToolCall(ctx, "search", true, nil)
	m.RecordToolCall(ctx, "search", false, errors.New("boom"))
	m.RecordRateLimitWait(ctx, 12.5)
	m.RecordDelegation(ctx, "delegate_work", nil)
	m.RecordError(ctx, kerrors.ToolTimeout("search", nil), "agent")
	m.RecordError(ctx, nil, "agent")

	sums := collect(t, reader)
	expected := map[string]int64{
		"crew.tasks.total":       2,
		"crew.llm.calls":         1,
		"crew.tool.calls":        2,
		"crew.cache.lookups":     2,
		"crew.ratelimit.wait_ms": 1,
		"crew.delegations":       1,
		"crew.errors.total":      1,
	}
	for name, want := range expected {
		if sums[name] != want {
			t.Errorf("%s: got %d, want %d", name, sums[name], want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTask(ctx, "completed")
	m.RecordLLMCall(ctx, "x", nil)
	m.RecordToolCall(ctx, "x", false, nil)
	m.RecordRateLimitWait(ctx, 1)
	m.RecordDelegation(ctx, "x", nil)
	m.RecordError(ctx, errors.New("x"), "x")
}

func TestDefaultMetrics(t *testing.T) {
	if DefaultMetrics() == nil {
		t.Fatal("expected default metrics")
	}
	if DefaultMetrics() != DefaultMetrics() {
		t.Fatal("expected a single instance")
	}
}
