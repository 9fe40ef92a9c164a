// Package workflow defines declarative workflow bundles, runs, step records,
// the step-graph executor, and the workflow store interface.
//
// A workflow [Definition] is a versioned, tenant-scoped bundle bound to a
// triggering event name. Its step graph is a closed tagged variant over six
// step kinds — action, decision, tryCatch, forEach, callWorkflow, return —
// interpreted by a single exhaustive-match [Executor].
//
// # Defining a Workflow
//
//	def := &workflow.Definition{
//	    Tenant:       "acme",
//	    Key:          "ticket-triage",
//	    Version:      1,
//	    TriggerEvent: "TICKET_CREATED",
//	    Enabled:      true,
//	    Idempotent:   true,
//	    Root: []workflow.Step{
//	        {ID: "assign", Kind: workflow.KindAction, Action: &workflow.ActionStep{
//	            Name:  "assign_ticket",
//	            Input: map[string]any{"ticketId": "{{event.payload.ticketId}}"},
//	        }},
//	    },
//	}
//
// # State Machine
//
// A [Run] moves through these states:
//
//	PENDING → RUNNING → SUCCEEDED
//	PENDING → RUNNING → FAILED
//
// Status is monotonic; stores reject transitions out of a terminal state.
// The run is owned exclusively by the scheduler (engine package); every
// other component reads it only.
//
// # Audit Contract
//
// Step records are appended as execution proceeds. The multiset of recorded
// definition step IDs is exactly the path taken through the graph: branches
// not selected are absent, forEach bodies repeat per element, and nothing
// after an executed return is recorded.
package workflow
