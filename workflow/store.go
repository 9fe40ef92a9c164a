package workflow

import (
	"context"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// RunFilter controls run list queries. Zero-valued fields match everything.
type RunFilter struct {
	// Tenant scopes the query; required for all callers.
	Tenant string
	// WorkflowKey filters by workflow key. Empty means all workflows.
	WorkflowKey string
	// CorrelationKey filters by the triggering event's correlation key.
	CorrelationKey string
	// Status filters by run status. Empty means all statuses.
	Status Status
	// StartedAfter keeps only runs created at or after the given time.
	StartedAfter time.Time
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
}

// Matches reports whether the run satisfies every set filter field.
func (f RunFilter) Matches(r *Run) bool {
	if f.Tenant != "" && r.Tenant != f.Tenant {
		return false
	}
	if f.WorkflowKey != "" && r.WorkflowKey != f.WorkflowKey {
		return false
	}
	if f.CorrelationKey != "" && r.CorrelationKey != f.CorrelationKey {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.StartedAfter.IsZero() && r.CreatedAt.Before(f.StartedAfter) {
		return false
	}
	return true
}

// Store defines the persistence contract for workflow definitions, runs
// and step audit records.
type Store interface {
	// PutDefinition persists a workflow definition version. Publishing a
	// (tenant, key, version) tuple that already exists fails with
	// ErrVersionConflict unless force is true, in which case the stored
	// definition is replaced.
	PutDefinition(ctx context.Context, def *Definition, force bool) error

	// GetDefinition retrieves a specific definition version.
	GetDefinition(ctx context.Context, tenant, key string, version int) (*Definition, error)

	// LatestDefinition retrieves the highest version stored for a key.
	LatestDefinition(ctx context.Context, tenant, key string) (*Definition, error)

	// MatchDefinitions returns the latest version of every definition in
	// the tenant whose trigger event equals eventName, paused ones
	// included. Callers filter on Enabled themselves.
	MatchDefinitions(ctx context.Context, tenant, eventName string) ([]*Definition, error)

	// CreateRun persists a new run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID within the tenant.
	GetRun(ctx context.Context, tenant string, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run. Transitions out of a
	// terminal status fail with ErrInvalidState.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// AppendStep persists a new step audit record.
	AppendStep(ctx context.Context, rec *StepRecord) error

	// UpdateStep persists changes to an existing step record.
	UpdateStep(ctx context.Context, rec *StepRecord) error

	// ListSteps returns a run's step records in execution order.
	ListSteps(ctx context.Context, tenant string, runID id.RunID) ([]*StepRecord, error)
}
