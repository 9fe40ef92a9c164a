package workflow

import (
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Status is the lifecycle state of a run or a step record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"

	// StatusSkipped applies to step records only, never to runs.
	StatusSkipped Status = "SKIPPED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Outcome markers recorded on a run when a return step terminates it.
const (
	OutcomeReturn       = "return"
	OutcomeSystemReturn = "systemReturn"
)

// Run is one execution of a workflow definition against a triggering event.
type Run struct {
	automation.Entity

	ID             id.RunID       `json:"id"`
	Tenant         string         `json:"tenant"`
	WorkflowKey    string         `json:"workflowKey"`
	Version        int            `json:"version"`
	CorrelationKey string         `json:"correlationKey"`
	Event          event.Envelope `json:"event"`
	Status         Status         `json:"status"`

	// Error holds the failure message when Status is FAILED.
	Error string `json:"error,omitempty"`

	// Outcome marks how the run ended when it was cut short by a
	// return step; empty for runs that drained their full step list.
	Outcome string `json:"outcome,omitempty"`

	// ParentRunID is set for runs started by a callWorkflow step.
	ParentRunID *id.RunID `json:"parentRunId,omitempty"`

	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// NewRun builds a PENDING run for the given definition and triggering event.
func NewRun(def *Definition, env event.Envelope) *Run {
	return &Run{
		Entity:         automation.NewEntity(),
		ID:             id.NewRunID(),
		Tenant:         def.Tenant,
		WorkflowKey:    def.Key,
		Version:        def.Version,
		CorrelationKey: env.CorrelationKey,
		Event:          env,
		Status:         StatusPending,
	}
}

// Child builds a PENDING child run for a callWorkflow step. The child
// gets its own correlation key derived from the parent's so nested
// invocations of the same workflow stay distinguishable. The parent's
// schema ref is not carried over: the child payload is the callWorkflow
// input, not an instance of the parent event's schema.
func (r *Run) Child(def *Definition, stepID string, input map[string]any) *Run {
	env := event.Envelope{
		Name:           r.Event.Name,
		CorrelationKey: r.CorrelationKey + ":" + stepID,
		Payload:        input,
	}
	child := NewRun(def, env)
	child.ParentRunID = &r.ID
	return child
}

// Start transitions the run to RUNNING and stamps the start time.
func (r *Run) Start(now time.Time) {
	r.Status = StatusRunning
	r.StartedAt = &now
	r.Touch()
}

// Finish transitions the run to a terminal status and stamps the end time.
func (r *Run) Finish(status Status, errMsg string, now time.Time) {
	r.Status = status
	r.Error = errMsg
	r.EndedAt = &now
	r.Touch()
}
