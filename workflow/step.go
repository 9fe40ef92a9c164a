package workflow

import "fmt"

// Kind discriminates the step-graph variant. The set is closed: the
// executor matches exhaustively and rejects unknown kinds at import time.
type Kind string

const (
	// KindAction invokes a named side-effecting operation.
	KindAction Kind = "action"
	// KindDecision evaluates ordered conditions and executes the first
	// matching branch (first-match-wins, short-circuit).
	KindDecision Kind = "decision"
	// KindTryCatch executes a guarded sub-sequence with error recovery.
	KindTryCatch Kind = "tryCatch"
	// KindForEach iterates a resolved collection, executing its body once
	// per element.
	KindForEach Kind = "forEach"
	// KindCallWorkflow invokes another workflow definition as a nested run.
	KindCallWorkflow Kind = "callWorkflow"
	// KindReturn terminates the run's execution path with an outcome marker.
	KindReturn Kind = "return"
)

// Step is one node of a workflow's step graph. Exactly one of the
// kind-specific fields is set, matching Kind. ID is the definition step ID
// recorded on every executed step for auditing.
type Step struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	Action       *ActionStep       `json:"action,omitempty"`
	Decision     *DecisionStep     `json:"decision,omitempty"`
	TryCatch     *TryCatchStep     `json:"tryCatch,omitempty"`
	ForEach      *ForEachStep      `json:"forEach,omitempty"`
	CallWorkflow *CallWorkflowStep `json:"callWorkflow,omitempty"`
	Return       *ReturnStep       `json:"return,omitempty"`
}

// ActionStep invokes a registered action handler by name. Input values are
// interpolated against the run scope before invocation; keys listed in
// Required must resolve non-nil or the step fails cleanly without invoking
// the handler.
type ActionStep struct {
	Name     string         `json:"name"`
	Input    map[string]any `json:"input,omitempty"`
	Required []string       `json:"required,omitempty"`
}

// Branch is one alternative of a decision step. When is a CEL expression
// over the run scope.
type Branch struct {
	When  string `json:"when"`
	Steps []Step `json:"steps"`
}

// DecisionStep evaluates Branches in order and executes the first whose
// condition holds. If none match and Default is non-empty, Default runs;
// otherwise the decision completes with no child steps executed.
type DecisionStep struct {
	Branches []Branch `json:"branches"`
	Default  []Step   `json:"default,omitempty"`
}

// TryCatchStep executes Try; if any child step fails, the tryCatch step is
// marked FAILED but execution continues into Catch instead of failing the
// run. A failure inside Catch fails the run.
type TryCatchStep struct {
	Try   []Step `json:"try"`
	Catch []Step `json:"catch,omitempty"`
}

// ForEachStep iterates the collection resolved from Items (a dotted key
// path into the run scope), executing Body once per element with the
// element bound as "item". Iterations run sequentially; per-item failures
// are recorded independently and all iterations run before the step fails.
type ForEachStep struct {
	Items string `json:"items"`
	Body  []Step `json:"body"`
}

// CallWorkflowStep invokes another workflow definition by key as a nested
// run sharing the parent's tenant. The child's correlation key is derived
// from the parent's key and this step's ID. The parent step blocks until
// the child run reaches a terminal state; the child's terminal status
// propagates as this step's status.
type CallWorkflowStep struct {
	WorkflowKey string         `json:"workflowKey"`
	Input       map[string]any `json:"input,omitempty"`
}

// ReturnStep terminates the run's current execution path immediately.
// System marks the privileged short-circuit form; the marker is recorded
// on the run as its outcome.
type ReturnStep struct {
	System bool `json:"system"`
}

// ConditionCompiler is the subset of expr.Evaluator needed for validation,
// declared here so workflow does not bind to a concrete evaluator type.
type ConditionCompiler interface {
	Compile(condition string) error
}

// validateSteps walks a sequence, checking structural rules: non-empty,
// unique definition step IDs, a kind field matching Kind, and compilable
// branch conditions.
func validateSteps(steps []Step, seen map[string]bool, cc ConditionCompiler) error {
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return fmt.Errorf("step %d: missing definition step ID", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("step %q: duplicate definition step ID", s.ID)
		}
		seen[s.ID] = true

		switch s.Kind {
		case KindAction:
			if s.Action == nil || s.Action.Name == "" {
				return fmt.Errorf("step %q: action requires a name", s.ID)
			}
		case KindDecision:
			if s.Decision == nil || len(s.Decision.Branches) == 0 {
				return fmt.Errorf("step %q: decision requires branches", s.ID)
			}
			for bi, b := range s.Decision.Branches {
				if b.When == "" {
					return fmt.Errorf("step %q branch %d: missing condition", s.ID, bi)
				}
				if cc != nil {
					if err := cc.Compile(b.When); err != nil {
						return fmt.Errorf("step %q branch %d: %w", s.ID, bi, err)
					}
				}
				if err := validateSteps(b.Steps, seen, cc); err != nil {
					return err
				}
			}
			if err := validateSteps(s.Decision.Default, seen, cc); err != nil {
				return err
			}
		case KindTryCatch:
			if s.TryCatch == nil || len(s.TryCatch.Try) == 0 {
				return fmt.Errorf("step %q: tryCatch requires a try sequence", s.ID)
			}
			if err := validateSteps(s.TryCatch.Try, seen, cc); err != nil {
				return err
			}
			if err := validateSteps(s.TryCatch.Catch, seen, cc); err != nil {
				return err
			}
		case KindForEach:
			if s.ForEach == nil || s.ForEach.Items == "" {
				return fmt.Errorf("step %q: forEach requires an items path", s.ID)
			}
			if len(s.ForEach.Body) == 0 {
				return fmt.Errorf("step %q: forEach requires a body", s.ID)
			}
			if err := validateSteps(s.ForEach.Body, seen, cc); err != nil {
				return err
			}
		case KindCallWorkflow:
			if s.CallWorkflow == nil || s.CallWorkflow.WorkflowKey == "" {
				return fmt.Errorf("step %q: callWorkflow requires a workflow key", s.ID)
			}
		case KindReturn:
			if s.Return == nil {
				return fmt.Errorf("step %q: return requires a marker", s.ID)
			}
		default:
			return fmt.Errorf("step %q: unknown kind %q", s.ID, s.Kind)
		}
	}
	return nil
}
