package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/observability"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

func metricsRun() *workflow.Run {
	return &workflow.Run{
		ID:          id.NewRunID(),
		Tenant:      "acme",
		WorkflowKey: "ticket-router",
	}
}

// collect gathers all recorded metrics keyed by instrument name.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func counterValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsExtensionRecordsRunLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	ext, err := observability.NewMetricsExtensionWithProvider(mp)
	if err != nil {
		t.Fatalf("NewMetricsExtensionWithProvider: %v", err)
	}
	if ext.Name() == "" {
		t.Error("extension name is empty")
	}

	ctx := context.Background()
	run := metricsRun()
	if err := ext.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if err := ext.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if err := ext.OnRunCompleted(ctx, run, 1500*time.Millisecond); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}
	if err := ext.OnRunFailed(ctx, run, errors.New("boom")); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	metrics := collect(t, reader)
	if got := counterValue(t, metrics["automation.runs.started"]); got != 2 {
		t.Errorf("runs.started = %d, want 2", got)
	}
	if got := counterValue(t, metrics["automation.runs.completed"]); got != 1 {
		t.Errorf("runs.completed = %d, want 1", got)
	}
	if got := counterValue(t, metrics["automation.runs.failed"]); got != 1 {
		t.Errorf("runs.failed = %d, want 1", got)
	}

	hist, ok := metrics["automation.run.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("run.duration data is %T, want Histogram[float64]", metrics["automation.run.duration"].Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("run.duration has %d data points, want 1", len(hist.DataPoints))
	}
	if got := hist.DataPoints[0].Sum; got != 1.5 {
		t.Errorf("run.duration sum = %v, want 1.5", got)
	}
}

func TestMetricsExtensionRecordsStepAndDLQ(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	ext, err := observability.NewMetricsExtensionWithProvider(mp)
	if err != nil {
		t.Fatalf("NewMetricsExtensionWithProvider: %v", err)
	}

	ctx := context.Background()
	run := metricsRun()
	rec := &workflow.StepRecord{
		ID:               id.NewStepID(),
		RunID:            run.ID,
		DefinitionStepID: "notify",
		Kind:             workflow.KindAction,
	}
	if err := ext.OnStepFailed(ctx, run, rec, errors.New("smtp unreachable")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}
	if err := ext.OnDLQPushed(ctx, &dlq.Entry{
		ID:          id.NewDLQID(),
		Tenant:      run.Tenant,
		RunID:       run.ID,
		WorkflowKey: run.WorkflowKey,
	}); err != nil {
		t.Fatalf("OnDLQPushed: %v", err)
	}

	metrics := collect(t, reader)
	if got := counterValue(t, metrics["automation.steps.failed"]); got != 1 {
		t.Errorf("steps.failed = %d, want 1", got)
	}
	if got := counterValue(t, metrics["automation.dlq.pushed"]); got != 1 {
		t.Errorf("dlq.pushed = %d, want 1", got)
	}
}
