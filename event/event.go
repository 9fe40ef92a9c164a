// Package event defines the business event envelope and the in-process
// notification bus. Run completion is published on the bus; AwaitRun-style
// callers subscribe with a bounded timeout instead of busy polling.
package event

import (
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Notification names published by the runtime.
const (
	// RunCompleted is published when a run reaches a terminal state.
	// The payload is the run ID string.
	RunCompleted = "workflow.run.completed"
)

// Event is a named notification published to the bus.
type Event struct {
	ID             id.EventID `json:"id"`
	Tenant         string     `json:"tenant"`
	Name           string     `json:"name"`
	CorrelationKey string     `json:"correlation_key,omitempty"`
	Payload        []byte     `json:"payload,omitempty"`
	Acked          bool       `json:"acked"`
	CreatedAt      time.Time  `json:"created_at"`
}
