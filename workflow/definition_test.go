package workflow_test

import (
	"strings"
	"testing"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/expr"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

func validDefinition() *workflow.Definition {
	return &workflow.Definition{
		Entity:       automation.NewEntity(),
		ID:           id.NewWorkflowID(),
		Tenant:       "acme",
		Key:          "ticket-escalation",
		Version:      1,
		TriggerEvent: "TICKET_CREATED",
		Enabled:      true,
		Root: []workflow.Step{
			{ID: "notify", Kind: workflow.KindAction, Action: &workflow.ActionStep{Name: "send-email"}},
		},
	}
}

func TestDefinitionValidate(t *testing.T) {
	eval, err := expr.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	if err := validDefinition().Validate(eval); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*workflow.Definition)
		wantSub string
	}{
		{
			name:    "missing tenant",
			mutate:  func(d *workflow.Definition) { d.Tenant = "" },
			wantSub: "missing tenant",
		},
		{
			name:    "missing key",
			mutate:  func(d *workflow.Definition) { d.Key = "" },
			wantSub: "missing key",
		},
		{
			name:    "missing trigger event",
			mutate:  func(d *workflow.Definition) { d.TriggerEvent = "" },
			wantSub: "missing trigger event",
		},
		{
			name:    "non-positive version",
			mutate:  func(d *workflow.Definition) { d.Version = 0 },
			wantSub: "version must be positive",
		},
		{
			name:    "empty step graph",
			mutate:  func(d *workflow.Definition) { d.Root = nil },
			wantSub: "empty step graph",
		},
		{
			name: "duplicate step IDs",
			mutate: func(d *workflow.Definition) {
				d.Root = append(d.Root, workflow.Step{
					ID: "notify", Kind: workflow.KindAction,
					Action: &workflow.ActionStep{Name: "send-sms"},
				})
			},
			wantSub: "duplicate",
		},
		{
			name: "unknown kind",
			mutate: func(d *workflow.Definition) {
				d.Root = []workflow.Step{{ID: "x", Kind: "teleport"}}
			},
			wantSub: "teleport",
		},
		{
			name: "uncompilable branch condition",
			mutate: func(d *workflow.Definition) {
				d.Root = []workflow.Step{{
					ID:   "route",
					Kind: workflow.KindDecision,
					Decision: &workflow.DecisionStep{
						Branches: []workflow.Branch{{
							When: "event.payload.priority >",
							Steps: []workflow.Step{
								{ID: "a", Kind: workflow.KindAction, Action: &workflow.ActionStep{Name: "noop"}},
							},
						}},
					},
				}}
			},
			wantSub: "compile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			err := def.Validate(eval)
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantSub)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestDefinitionPaused(t *testing.T) {
	def := validDefinition()
	if def.Paused() {
		t.Error("enabled definition reported paused")
	}
	def.Enabled = false
	if !def.Paused() {
		t.Error("disabled definition not reported paused")
	}
}

func TestRunChildDerivesCorrelationKey(t *testing.T) {
	parentEnv := envelope("corr-1")
	parentEnv.SchemaRef = "ticket.v1"
	parent := workflow.NewRun(validDefinition(), parentEnv)
	childDef := validDefinition()
	childDef.Key = "child-flow"

	child := parent.Child(childDef, "call-step", map[string]any{"k": "v"})

	if got, want := child.CorrelationKey, "corr-1:call-step"; got != want {
		t.Errorf("child correlation key = %q, want %q", got, want)
	}
	if child.ParentRunID == nil || *child.ParentRunID != parent.ID {
		t.Errorf("child parent run ID = %v, want %v", child.ParentRunID, parent.ID)
	}
	if child.WorkflowKey != "child-flow" {
		t.Errorf("child workflow key = %q", child.WorkflowKey)
	}
	// The child payload is the callWorkflow input, so the parent event's
	// schema ref must not tag it.
	if child.Event.SchemaRef != "" {
		t.Errorf("child schema ref = %q, want none", child.Event.SchemaRef)
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[workflow.Status]bool{
		workflow.StatusPending:   false,
		workflow.StatusRunning:   false,
		workflow.StatusSucceeded: true,
		workflow.StatusFailed:    true,
		workflow.StatusSkipped:   true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
