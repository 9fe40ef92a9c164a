package dlq

import (
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Entry represents a run that ended FAILED and was moved to the dead
// letter queue for inspection or replay. The triggering envelope is
// carried whole so a replay can resubmit it unchanged.
type Entry struct {
	ID          id.DLQID       `json:"id"`
	Tenant      string         `json:"tenant"`
	RunID       id.RunID       `json:"runId"`
	WorkflowKey string         `json:"workflowKey"`
	Version     int            `json:"version"`
	Event       event.Envelope `json:"event"`
	Error       string         `json:"error"`
	FailedAt    time.Time      `json:"failedAt"`
	ReplayedAt  *time.Time     `json:"replayedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
