// Package ext defines the extension system for the automation runtime.
// Extensions are notified of lifecycle events (run started, step failed,
// dead letter pushed, etc.) and can react to them — logging, metrics,
// alerting, custom audit sinks.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a run transitions to RUNNING.
type RunStarted interface {
	OnRunStarted(ctx context.Context, run *workflow.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, run *workflow.Run, err error) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepStarted is called when a step's audit record is appended.
type StepStarted interface {
	OnStepStarted(ctx context.Context, run *workflow.Run, rec *workflow.StepRecord) error
}

// StepCompleted is called after a step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, run *workflow.Run, rec *workflow.StepRecord) error
}

// StepFailed is called when a step fails.
type StepFailed interface {
	OnStepFailed(ctx context.Context, run *workflow.Run, rec *workflow.StepRecord, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// DLQPushed is called when a failed run is moved to the dead letter queue.
type DLQPushed interface {
	OnDLQPushed(ctx context.Context, entry *dlq.Entry) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
