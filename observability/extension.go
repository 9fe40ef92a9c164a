package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/ext"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

const meterName = "github.com/Nine-Minds/alga-psa-sub020/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.RunStarted   = (*MetricsExtension)(nil)
	_ ext.RunCompleted = (*MetricsExtension)(nil)
	_ ext.RunFailed    = (*MetricsExtension)(nil)
	_ ext.StepFailed   = (*MetricsExtension)(nil)
	_ ext.DLQPushed    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via
// OpenTelemetry. Register it as an engine extension to track run start,
// completion, and failure rates, run durations, step failures, and dead
// letter counts.
type MetricsExtension struct {
	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsFailed    metric.Int64Counter
	runDuration   metric.Float64Histogram
	stepsFailed   metric.Int64Counter
	dlqPushed     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global meter
// provider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithProvider(otel.GetMeterProvider())
}

// NewMetricsExtensionWithProvider creates a MetricsExtension with the
// provided meter provider.
func NewMetricsExtensionWithProvider(mp metric.MeterProvider) (*MetricsExtension, error) {
	meter := mp.Meter(meterName)
	m := &MetricsExtension{}

	var err error
	if m.runsStarted, err = meter.Int64Counter("automation.runs.started",
		metric.WithDescription("Workflow runs started"),
	); err != nil {
		return nil, fmt.Errorf("observability: create counter: %w", err)
	}
	if m.runsCompleted, err = meter.Int64Counter("automation.runs.completed",
		metric.WithDescription("Workflow runs completed successfully"),
	); err != nil {
		return nil, fmt.Errorf("observability: create counter: %w", err)
	}
	if m.runsFailed, err = meter.Int64Counter("automation.runs.failed",
		metric.WithDescription("Workflow runs failed terminally"),
	); err != nil {
		return nil, fmt.Errorf("observability: create counter: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("automation.run.duration",
		metric.WithDescription("Workflow run duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("observability: create histogram: %w", err)
	}
	if m.stepsFailed, err = meter.Int64Counter("automation.steps.failed",
		metric.WithDescription("Run steps failed"),
	); err != nil {
		return nil, fmt.Errorf("observability: create counter: %w", err)
	}
	if m.dlqPushed, err = meter.Int64Counter("automation.dlq.pushed",
		metric.WithDescription("Failed runs moved to the dead letter queue"),
	); err != nil {
		return nil, fmt.Errorf("observability: create counter: %w", err)
	}
	return m, nil
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func runAttrs(r *workflow.Run) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("tenant", r.Tenant),
		attribute.String("workflow_key", r.WorkflowKey),
	)
}

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	m.runsStarted.Add(ctx, 1, runAttrs(r))
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	m.runsCompleted.Add(ctx, 1, runAttrs(r))
	m.runDuration.Record(ctx, elapsed.Seconds(), runAttrs(r))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *workflow.Run, _ error) error {
	m.runsFailed.Add(ctx, 1, runAttrs(r))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, r *workflow.Run, rec *workflow.StepRecord, _ error) error {
	m.stepsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", r.Tenant),
		attribute.String("workflow_key", r.WorkflowKey),
		attribute.String("kind", string(rec.Kind)),
	))
	return nil
}

// OnDLQPushed implements ext.DLQPushed.
func (m *MetricsExtension) OnDLQPushed(ctx context.Context, entry *dlq.Entry) error {
	m.dlqPushed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", entry.Tenant),
		attribute.String("workflow_key", entry.WorkflowKey),
	))
	return nil
}
