// Package action maps action names to handlers invoked by action steps.
// Handlers receive resolved input and return a structured output that is
// recorded on the step and exposed to later steps.
package action

import (
	"context"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Call carries everything a handler (and the middleware around it) needs
// to know about one action invocation.
type Call struct {
	Tenant string
	RunID  id.RunID
	// StepID is the invoking step's id within the workflow definition.
	StepID string
	// Name is the registered action name.
	Name  string
	Input map[string]any
	// Timeout bounds handler execution when non-zero; enforced by the
	// timeout middleware.
	Timeout time.Duration
}

// Handler executes one action invocation.
type Handler func(ctx context.Context, call *Call) (map[string]any, error)
