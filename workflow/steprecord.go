package workflow

import (
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// StepRecord is the audit entry for one executed step instance. A forEach
// body produces one record per item per step, so DefinitionStepID is not
// unique within a run.
type StepRecord struct {
	automation.Entity

	ID    id.StepID `json:"id"`
	RunID id.RunID  `json:"runId"`

	// DefinitionStepID is the step's id within the workflow definition.
	DefinitionStepID string `json:"definitionStepId"`

	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	// Error holds the failure message when Status is FAILED.
	Error string `json:"error,omitempty"`

	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// NewStepRecord builds a RUNNING record for a step that is about to execute.
func NewStepRecord(runID id.RunID, defStepID string, kind Kind, input map[string]any, now time.Time) *StepRecord {
	return &StepRecord{
		Entity:           automation.NewEntity(),
		ID:               id.NewStepID(),
		RunID:            runID,
		DefinitionStepID: defStepID,
		Kind:             kind,
		Status:           StatusRunning,
		Input:            input,
		StartedAt:        now,
	}
}

// Finish transitions the record to a terminal status.
func (s *StepRecord) Finish(status Status, output map[string]any, errMsg string, now time.Time) {
	s.Status = status
	s.Output = output
	s.Error = errMsg
	s.EndedAt = &now
	s.Touch()
}
