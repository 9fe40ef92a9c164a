package expr

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator evaluates decision-branch conditions as CEL expressions over
// the run scope. Compiled programs are cached per expression string; the
// Evaluator is safe for concurrent use by all runs of an engine.
type Evaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator creates a condition evaluator. The CEL environment declares
// the run-scope variables available to conditions:
//
//	event          — the triggering event (name, correlationKey, payload)
//	steps          — prior step outputs keyed by definition step ID
//	item           — the current forEach element, when inside a loop body
//	tenant         — the run's tenant identifier
//	correlationKey — the run's correlation key
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.DynType),
		cel.Variable("steps", cel.DynType),
		cel.Variable("item", cel.DynType),
		cel.Variable("tenant", cel.StringType),
		cel.Variable("correlationKey", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile checks that condition is a valid CEL expression and caches the
// compiled program. Used at bundle import time so that broken conditions
// are rejected before any run references the definition.
func (e *Evaluator) Compile(condition string) error {
	_, err := e.program(condition)
	return err
}

// EvalBool evaluates condition against the scope and reports whether it
// held. A non-boolean result is an error, not a truthy coercion.
func (e *Evaluator) EvalBool(condition string, scope map[string]any) (bool, error) {
	prg, err := e.program(condition)
	if err != nil {
		return false, err
	}

	activation := map[string]any{
		"event":          scope["event"],
		"steps":          scope["steps"],
		"item":           scope["item"],
		"tenant":         stringOr(scope["tenant"]),
		"correlationKey": stringOr(scope["correlationKey"]),
	}
	if activation["event"] == nil {
		activation["event"] = map[string]any{}
	}
	if activation["steps"] == nil {
		activation["steps"] = map[string]any{}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("expr: evaluate %q: %w", condition, err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expr: condition %q evaluated to %T, want bool", condition, out.Value())
	}
	return b, nil
}

func (e *Evaluator) program(condition string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[condition]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", condition, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expr: program %q: %w", condition, err)
	}

	e.mu.Lock()
	e.programs[condition] = prg
	e.mu.Unlock()
	return prg, nil
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}
