package trigger

import (
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Entry represents a scheduled trigger: a cron expression paired with an
// event envelope template. Each firing submits the template through the
// normal ingress path, with the fire time appended to the correlation
// key so idempotent workflows admit every occurrence separately.
type Entry struct {
	automation.Entity

	ID       id.TriggerID `json:"id"`
	Tenant   string       `json:"tenant"`
	Name     string       `json:"name"`
	Schedule string       `json:"schedule"`

	// Event is the envelope template submitted on each firing.
	Event event.Envelope `json:"event"`

	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
	Enabled   bool       `json:"enabled"`
}

// FireEnvelope derives the envelope for one firing at the given time.
func (e *Entry) FireEnvelope(at time.Time) event.Envelope {
	env := e.Event
	env.CorrelationKey = env.CorrelationKey + "@" + at.UTC().Format(time.RFC3339)
	return env
}
