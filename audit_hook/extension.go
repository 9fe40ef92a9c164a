package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/ext"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.RunStarted    = (*Extension)(nil)
	_ ext.RunCompleted  = (*Extension)(nil)
	_ ext.RunFailed     = (*Extension)(nil)
	_ ext.StepCompleted = (*Extension)(nil)
	_ ext.StepFailed    = (*Extension)(nil)
	_ ext.DLQPushed     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so this package does not bind to a concrete audit
// store — callers inject their backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is the structured audit record emitted for each lifecycle
// hook.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	Tenant     string         `json:"tenant,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges automation lifecycle events to an audit trail
// backend. Each lifecycle hook emits a structured audit event through
// the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	return e.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.Tenant, r.ID.String(), CategoryRun, nil,
		"workflow_key", r.WorkflowKey,
		"version", r.Version,
		"correlation_key", r.CorrelationKey,
	)
}

// OnRunCompleted implements ext.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionRunCompleted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.Tenant, r.ID.String(), CategoryRun, nil,
		"workflow_key", r.WorkflowKey,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunFailed implements ext.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, r *workflow.Run, runErr error) error {
	return e.record(ctx, ActionRunFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, r.Tenant, r.ID.String(), CategoryRun, runErr,
		"workflow_key", r.WorkflowKey,
		"correlation_key", r.CorrelationKey,
	)
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, r *workflow.Run, rec *workflow.StepRecord) error {
	return e.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceStep, r.Tenant, rec.ID.String(), CategoryRun, nil,
		"run_id", r.ID.String(),
		"step_id", rec.DefinitionStepID,
		"kind", string(rec.Kind),
		"status", string(rec.Status),
	)
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, r *workflow.Run, rec *workflow.StepRecord, stepErr error) error {
	return e.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure,
		ResourceStep, r.Tenant, rec.ID.String(), CategoryRun, stepErr,
		"run_id", r.ID.String(),
		"step_id", rec.DefinitionStepID,
		"kind", string(rec.Kind),
	)
}

// ── Dead letter hooks ───────────────────────────────

// OnDLQPushed implements ext.DLQPushed.
func (e *Extension) OnDLQPushed(ctx context.Context, entry *dlq.Entry) error {
	return e.record(ctx, ActionDLQPushed, SeverityCritical, OutcomeFailure,
		ResourceDLQ, entry.Tenant, entry.ID.String(), CategoryDLQ, nil,
		"run_id", entry.RunID.String(),
		"workflow_key", entry.WorkflowKey,
		"error", entry.Error,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, tenant, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		Tenant:     tenant,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
