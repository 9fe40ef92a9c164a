package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/expr"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// ActionInvoker executes named actions on behalf of action steps. It is
// satisfied by the engine, which routes calls through the action registry
// and its middleware chain, keeping workflow free of a registry dependency.
type ActionInvoker interface {
	Invoke(ctx context.Context, tenant string, runID id.RunID, stepID, action string, input map[string]any) (map[string]any, error)
}

// ChildRunner starts a child run for a callWorkflow step and blocks until
// it reaches a terminal state. Implemented by the engine to break the
// import cycle between workflow and engine.
type ChildRunner interface {
	RunChild(ctx context.Context, parent *Run, workflowKey, stepID string, input map[string]any) (*Run, error)
}

// StepEmitter emits step-level lifecycle events. Satisfied by
// ext.Registry; declared here to break the import cycle between workflow
// and ext.
type StepEmitter interface {
	EmitStepStarted(ctx context.Context, run *Run, rec *StepRecord)
	EmitStepCompleted(ctx context.Context, run *Run, rec *StepRecord)
	EmitStepFailed(ctx context.Context, run *Run, rec *StepRecord, err error)
}

// ConditionEvaluator compiles and evaluates branch conditions. Satisfied
// by expr.Evaluator.
type ConditionEvaluator interface {
	ConditionCompiler
	EvalBool(condition string, scope map[string]any) (bool, error)
}

// Executor interprets a definition's step graph against a run, recording
// one audit record per executed step instance. It owns the run's state
// transitions; admission, dead-lettering and completion events belong to
// the engine.
type Executor struct {
	store    Store
	eval     ConditionEvaluator
	actions  ActionInvoker
	children ChildRunner
	emitter  StepEmitter
	logger   *slog.Logger
}

// NewExecutor creates a step executor.
func NewExecutor(
	store Store,
	eval ConditionEvaluator,
	actions ActionInvoker,
	children ChildRunner,
	emitter StepEmitter,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		store:    store,
		eval:     eval,
		actions:  actions,
		children: children,
		emitter:  emitter,
		logger:   logger,
	}
}

// infraErr tags err as an infrastructure fault so tryCatch steps let it
// pass through instead of treating it as a business failure.
func infraErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, automation.ErrInfrastructure, err)
}

// recoveredFailure marks a try failure that the catch sequence absorbed.
// The tryCatch step's own record finishes FAILED carrying the try error,
// but the run continues past it. Never escapes executeStep.
type recoveredFailure struct {
	err error
}

func (f *recoveredFailure) Error() string { return f.err.Error() }

// Execute runs the definition's step graph to completion and leaves the
// run in a terminal state. The returned error is the failure that ended
// the run, nil when it succeeded.
func (e *Executor) Execute(ctx context.Context, def *Definition, run *Run) error {
	now := time.Now().UTC()
	run.Start(now)
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return infraErr("start run", err)
	}

	sc := map[string]any{
		"event": map[string]any{
			"name":           run.Event.Name,
			"correlationKey": run.Event.CorrelationKey,
			"payload":        run.Event.Payload,
		},
		"steps":          map[string]any{},
		"tenant":         run.Tenant,
		"correlationKey": run.CorrelationKey,
	}

	_, err := e.runSequence(ctx, run, def.Root, sc)

	end := time.Now().UTC()
	if err != nil {
		run.Finish(StatusFailed, err.Error(), end)
	} else {
		run.Finish(StatusSucceeded, "", end)
	}
	if uerr := e.store.UpdateRun(ctx, run); uerr != nil {
		if err == nil {
			err = infraErr("finish run", uerr)
		} else {
			e.logger.Error("finish run", "run_id", run.ID, "error", uerr)
		}
	}
	return err
}

// runSequence executes steps in order. It reports terminated=true when a
// return step cut the run short; the caller must stop immediately.
func (e *Executor) runSequence(ctx context.Context, run *Run, steps []Step, sc map[string]any) (terminated bool, err error) {
	for i := range steps {
		terminated, err = e.executeStep(ctx, run, &steps[i], sc)
		if err != nil || terminated {
			return terminated, err
		}
	}
	return false, nil
}

// executeStep runs one step, appending a RUNNING audit record before the
// work and finishing it afterwards.
func (e *Executor) executeStep(ctx context.Context, run *Run, step *Step, sc map[string]any) (terminated bool, err error) {
	now := time.Now().UTC()
	rec := NewStepRecord(run.ID, step.ID, step.Kind, e.recordInput(step, sc), now)
	if aerr := e.store.AppendStep(ctx, rec); aerr != nil {
		return false, infraErr("append step "+step.ID, aerr)
	}
	e.emitter.EmitStepStarted(ctx, run, rec)

	var output map[string]any
	switch step.Kind {
	case KindAction:
		output, err = e.runAction(ctx, run, step, sc)
	case KindDecision:
		output, terminated, err = e.runDecision(ctx, run, step, sc)
	case KindTryCatch:
		output, terminated, err = e.runTryCatch(ctx, run, step, sc)
	case KindForEach:
		output, terminated, err = e.runForEach(ctx, run, step, sc)
	case KindCallWorkflow:
		output, err = e.runCallWorkflow(ctx, run, step, sc)
	case KindReturn:
		terminated = true
		if step.Return.System {
			run.Outcome = OutcomeSystemReturn
		} else {
			run.Outcome = OutcomeReturn
		}
	default:
		err = fmt.Errorf("step %s: %w: unknown kind %q", step.ID, automation.ErrInvalidState, step.Kind)
	}

	end := time.Now().UTC()
	var recovered *recoveredFailure
	switch {
	case errors.As(err, &recovered):
		rec.Finish(StatusFailed, output, recovered.err.Error(), end)
	case err != nil:
		rec.Finish(StatusFailed, output, err.Error(), end)
	default:
		rec.Finish(StatusSucceeded, output, "", end)
	}
	if uerr := e.store.UpdateStep(ctx, rec); uerr != nil && (err == nil || recovered != nil) {
		err = infraErr("update step "+step.ID, uerr)
		recovered = nil
	}

	if recovered != nil {
		// A caught try failure fails this record only; the run goes on.
		e.emitter.EmitStepFailed(ctx, run, rec, recovered.err)
		if output != nil {
			sc["steps"].(map[string]any)[step.ID] = output
		}
		return terminated, nil
	}
	if err != nil {
		e.emitter.EmitStepFailed(ctx, run, rec, err)
		return false, fmt.Errorf("step %s: %w", step.ID, err)
	}
	e.emitter.EmitStepCompleted(ctx, run, rec)

	if output != nil {
		sc["steps"].(map[string]any)[step.ID] = output
	}
	return terminated, nil
}

// recordInput resolves what a step consumed for the audit record. Only
// action and callWorkflow steps carry a resolvable input map.
func (e *Executor) recordInput(step *Step, sc map[string]any) map[string]any {
	switch step.Kind {
	case KindAction:
		return expr.InterpolateInput(step.Action.Input, sc)
	case KindCallWorkflow:
		return expr.InterpolateInput(step.CallWorkflow.Input, sc)
	}
	return nil
}

func (e *Executor) runAction(ctx context.Context, run *Run, step *Step, sc map[string]any) (map[string]any, error) {
	input := expr.InterpolateInput(step.Action.Input, sc)
	if missing := expr.MissingRequired(input, step.Action.Required); len(missing) > 0 {
		return nil, fmt.Errorf("action %q: missing required input: %s",
			step.Action.Name, strings.Join(missing, ", "))
	}
	out, err := e.actions.Invoke(ctx, run.Tenant, run.ID, step.ID, step.Action.Name, input)
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", step.Action.Name, err)
	}
	return out, nil
}

// runDecision evaluates branch conditions in order and executes the first
// match. Steps of untaken branches never produce audit records.
func (e *Executor) runDecision(ctx context.Context, run *Run, step *Step, sc map[string]any) (map[string]any, bool, error) {
	for i := range step.Decision.Branches {
		br := &step.Decision.Branches[i]
		ok, err := e.eval.EvalBool(br.When, sc)
		if err != nil {
			return nil, false, fmt.Errorf("branch %d condition: %w", i, err)
		}
		if !ok {
			continue
		}
		terminated, err := e.runSequence(ctx, run, br.Steps, sc)
		return map[string]any{"selectedBranch": strconv.Itoa(i)}, terminated, err
	}
	if step.Decision.Default != nil {
		terminated, err := e.runSequence(ctx, run, step.Decision.Default, sc)
		return map[string]any{"selectedBranch": "default"}, terminated, err
	}
	// No match and no default: the decision completes with no child steps.
	return map[string]any{"selectedBranch": ""}, false, nil
}

// runTryCatch executes the try sequence and, on a business failure, the
// catch sequence. Infrastructure faults are not caught. A recovered
// failure still marks the tryCatch record FAILED; only the run survives.
func (e *Executor) runTryCatch(ctx context.Context, run *Run, step *Step, sc map[string]any) (map[string]any, bool, error) {
	terminated, tryErr := e.runSequence(ctx, run, step.TryCatch.Try, sc)
	if tryErr == nil {
		return map[string]any{"caught": false}, terminated, nil
	}
	if errors.Is(tryErr, automation.ErrInfrastructure) {
		return nil, false, tryErr
	}

	sc["error"] = map[string]any{"message": tryErr.Error()}
	terminated, catchErr := e.runSequence(ctx, run, step.TryCatch.Catch, sc)
	delete(sc, "error")
	if catchErr != nil {
		return nil, false, catchErr
	}
	out := map[string]any{"caught": true, "error": tryErr.Error()}
	return out, terminated, &recoveredFailure{err: tryErr}
}

// runForEach resolves the items key path and executes the body once per
// item, sequentially. Every iteration runs even when an earlier one
// failed; the step fails afterwards if any iteration did.
func (e *Executor) runForEach(ctx context.Context, run *Run, step *Step, sc map[string]any) (map[string]any, bool, error) {
	v, ok := expr.Lookup(step.ForEach.Items, sc)
	if !ok {
		return nil, false, fmt.Errorf("forEach: no value at %q", step.ForEach.Items)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false, fmt.Errorf("forEach: value at %q is %T, not a list", step.ForEach.Items, v)
	}

	prevItem, hadItem := sc["item"]
	defer func() {
		if hadItem {
			sc["item"] = prevItem
		} else {
			delete(sc, "item")
		}
	}()

	var failures []string
	for i, item := range items {
		sc["item"] = item
		terminated, err := e.runSequence(ctx, run, step.ForEach.Body, sc)
		if err != nil {
			if errors.Is(err, automation.ErrInfrastructure) {
				return nil, false, err
			}
			failures = append(failures, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		if terminated {
			return map[string]any{"items": len(items), "completed": i + 1}, true, nil
		}
	}
	if len(failures) > 0 {
		return nil, false, fmt.Errorf("forEach: %d of %d iterations failed: %s",
			len(failures), len(items), strings.Join(failures, "; "))
	}
	return map[string]any{"items": len(items), "completed": len(items)}, false, nil
}

// runCallWorkflow starts a child run and blocks until it terminates. A
// failed child run is a business failure of the calling step.
func (e *Executor) runCallWorkflow(ctx context.Context, run *Run, step *Step, sc map[string]any) (map[string]any, error) {
	input := expr.InterpolateInput(step.CallWorkflow.Input, sc)
	child, err := e.children.RunChild(ctx, run, step.CallWorkflow.WorkflowKey, step.ID, input)
	if err != nil {
		return nil, fmt.Errorf("call workflow %q: %w", step.CallWorkflow.WorkflowKey, err)
	}
	out := map[string]any{
		"runId":  child.ID.String(),
		"status": string(child.Status),
	}
	if child.Status == StatusFailed {
		return out, fmt.Errorf("call workflow %q: child run %s failed: %s",
			step.CallWorkflow.WorkflowKey, child.ID, child.Error)
	}
	return out, nil
}
