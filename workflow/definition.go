package workflow

import (
	"fmt"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Definition is a versioned, tenant-scoped workflow bundle bound to a
// triggering event name. Versions are immutable once referenced by a run;
// re-importing the same key creates a new version.
type Definition struct {
	automation.Entity

	ID      id.WorkflowID `json:"id"`
	Tenant  string        `json:"tenant"`
	Key     string        `json:"key"`
	Version int           `json:"version"`

	// TriggerEvent is the business event name this workflow matches.
	TriggerEvent string `json:"trigger_event"`

	// Enabled false means the workflow is paused: it still matches events
	// but the scheduler creates no run for it.
	Enabled bool `json:"enabled"`

	// Idempotent requests at-most-once run admission per
	// (tenant, key, correlationKey) through the idempotency guard.
	Idempotent bool `json:"idempotent"`

	// Root is the step graph executed for each run.
	Root []Step `json:"root"`
}

// Paused reports whether the definition matches events without creating runs.
func (d *Definition) Paused() bool { return !d.Enabled }

// Validate checks the definition's structural rules and compiles every
// branch condition through cc (pass nil to skip condition compilation).
func (d *Definition) Validate(cc ConditionCompiler) error {
	if d.Tenant == "" {
		return fmt.Errorf("workflow %q: missing tenant", d.Key)
	}
	if d.Key == "" {
		return fmt.Errorf("workflow definition: missing key")
	}
	if d.TriggerEvent == "" {
		return fmt.Errorf("workflow %q: missing trigger event", d.Key)
	}
	if d.Version <= 0 {
		return fmt.Errorf("workflow %q: version must be positive", d.Key)
	}
	if len(d.Root) == 0 {
		return fmt.Errorf("workflow %q: empty step graph", d.Key)
	}
	if err := validateSteps(d.Root, make(map[string]bool), cc); err != nil {
		return fmt.Errorf("workflow %q: %w", d.Key, err)
	}
	return nil
}
