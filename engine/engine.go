// Package engine wires all automation subsystems together. It creates
// the extension registry, action registry, middleware chain, step
// executor, and trigger scheduler, and provides the submit/await
// operations that make up the run scheduler.
//
// This package exists to break the import cycle: the root automation
// package defines Entity (imported by workflow, trigger, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/action"
	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/expr"
	"github.com/Nine-Minds/alga-psa-sub020/ext"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/idem"
	mw "github.com/Nine-Minds/alga-psa-sub020/middleware"
	"github.com/Nine-Minds/alga-psa-sub020/schema"
	"github.com/Nine-Minds/alga-psa-sub020/trigger"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// instrumentationName is the scope name for engine-provided OTel providers.
const instrumentationName = "github.com/Nine-Minds/alga-psa-sub020"

// Engine is the run scheduler: it accepts event envelopes, matches
// workflow definitions, admits runs through the idempotency guard, and
// executes the step graph on a bounded worker pool.
type Engine struct {
	rt         *automation.Runtime
	extensions *ext.Registry
	actions    *action.Registry
	schemas    *schema.Registry
	guard      *idem.Guard
	eval       *expr.Evaluator
	executor   *workflow.Executor
	bus        *event.Bus
	dlqService *dlq.Service
	scheduler  *trigger.Scheduler
	mws        []mw.Middleware
	chain      mw.Middleware
	logger     *slog.Logger

	wfStore      workflow.Store
	idemStore    idem.Store
	eventStore   event.Store
	dlqStore     dlq.Store
	triggerStore trigger.Store

	// sem bounds the number of concurrently executing runs.
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's action chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware uses this provider instead of the
// global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Runtime. The Runtime's store
// must implement every subsystem store interface.
func Build(rt *automation.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	st := rt.Store()

	if st == nil {
		return nil, automation.ErrNoStore
	}

	ws, ok := st.(workflow.Store)
	if !ok {
		return nil, fmt.Errorf("automation: store does not implement workflow.Store")
	}
	is, ok := st.(idem.Store)
	if !ok {
		return nil, fmt.Errorf("automation: store does not implement idem.Store")
	}
	es, ok := st.(event.Store)
	if !ok {
		return nil, fmt.Errorf("automation: store does not implement event.Store")
	}
	ds, ok := st.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("automation: store does not implement dlq.Store")
	}
	ts, ok := st.(trigger.Store)
	if !ok {
		return nil, fmt.Errorf("automation: store does not implement trigger.Store")
	}

	eval, err := expr.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("build condition evaluator: %w", err)
	}

	eng := &Engine{
		rt:           rt,
		extensions:   ext.NewRegistry(logger),
		actions:      action.NewRegistry(),
		schemas:      schema.NewRegistry(),
		eval:         eval,
		logger:       logger,
		wfStore:      ws,
		idemStore:    is,
		eventStore:   es,
		dlqStore:     ds,
		triggerStore: ts,
	}

	for _, opt := range opts {
		opt(eng)
	}

	eng.guard = idem.NewGuard(is)
	eng.bus = event.NewBus(es)
	eng.dlqService = dlq.NewService(ds)
	eng.scheduler = trigger.NewScheduler(ts, eng, logger)

	config := rt.Config()
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	eng.sem = semaphore.NewWeighted(int64(concurrency))

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws = append(allMws, eng.mws...)
	eng.chain = mw.Chain(allMws...)

	eng.executor = workflow.NewExecutor(ws, eval, eng, eng, eng.extensions, logger)

	return eng, nil
}

// RegisterAction registers an action handler under the given name.
func (eng *Engine) RegisterAction(name string, h action.Handler) {
	eng.actions.Register(name, h)
}

// RegisterSchema compiles and registers a payload schema under its ref.
func (eng *Engine) RegisterSchema(ref, schemaJSON string) error {
	return eng.schemas.Register(ref, schemaJSON)
}

// PublishDefinition validates and persists a workflow definition
// version. An existing (tenant, key, version) fails with
// ErrVersionConflict unless force is true.
func (eng *Engine) PublishDefinition(ctx context.Context, def *workflow.Definition, force bool) error {
	if err := def.Validate(eng.eval); err != nil {
		return fmt.Errorf("validate workflow %q: %w", def.Key, err)
	}
	if err := eng.wfStore.PutDefinition(ctx, def, force); err != nil {
		return err
	}
	eng.logger.Info("workflow published",
		slog.String("tenant", def.Tenant),
		slog.String("workflow_key", def.Key),
		slog.Int("version", def.Version),
		slog.Bool("enabled", def.Enabled),
	)
	return nil
}

// ImportBundle publishes a set of definitions as one unit. Validation
// runs over the whole bundle before anything is persisted, so a bundle
// with one bad definition imports nothing.
func (eng *Engine) ImportBundle(ctx context.Context, defs []*workflow.Definition, force bool) error {
	for _, def := range defs {
		if err := def.Validate(eng.eval); err != nil {
			return fmt.Errorf("validate workflow %q: %w", def.Key, err)
		}
	}
	for _, def := range defs {
		if err := eng.wfStore.PutDefinition(ctx, def, force); err != nil {
			return fmt.Errorf("import workflow %q: %w", def.Key, err)
		}
	}
	return nil
}

// Submit accepts an event envelope and schedules matching workflows.
// It satisfies dlq.Submitter and trigger.Submitter.
func (eng *Engine) Submit(ctx context.Context, tenant string, env event.Envelope) error {
	_, err := eng.HandleEvent(ctx, tenant, env)
	return err
}

// HandleEvent validates the envelope's payload, matches workflow
// definitions bound to the event, admits runs through the idempotency
// guard, and starts execution asynchronously. It returns the runs it
// created; duplicates and paused workflows create none, silently.
func (eng *Engine) HandleEvent(ctx context.Context, tenant string, env event.Envelope) ([]*workflow.Run, error) {
	// An empty ref goes through Validate and fails like any unknown ref,
	// so internal submitters get the same rejection path as ingress.
	if err := eng.schemas.Validate(env.SchemaRef, env.Payload); err != nil {
		return nil, err
	}

	defs, err := eng.wfStore.MatchDefinitions(ctx, tenant, env.Name)
	if err != nil {
		return nil, fmt.Errorf("match workflows for event %q: %w", env.Name, err)
	}

	var created []*workflow.Run
	for _, def := range defs {
		if def.Paused() {
			// Paused workflows match but never run. Not an error; the
			// caller observes the absence of a run.
			eng.logger.Debug("workflow paused, skipping",
				slog.String("tenant", tenant),
				slog.String("workflow_key", def.Key),
				slog.String("event", env.Name),
			)
			continue
		}

		run, err := eng.admit(ctx, def, env)
		if err != nil {
			return created, err
		}
		if run == nil {
			continue // duplicate, coalesced
		}
		created = append(created, run)
		eng.executeAsync(def, run)
	}
	return created, nil
}

// admit creates a PENDING run for the definition, passing idempotent
// workflows through the guard first. A nil run with nil error means the
// submission was coalesced into an existing run.
func (eng *Engine) admit(ctx context.Context, def *workflow.Definition, env event.Envelope) (*workflow.Run, error) {
	run := workflow.NewRun(def, env)

	if def.Idempotent && env.CorrelationKey != "" {
		existing, admitted, err := eng.guard.Admit(ctx, def.Tenant, def.Key, env.CorrelationKey, run.ID)
		if err != nil {
			return nil, fmt.Errorf("admit run for workflow %q: %w", def.Key, err)
		}
		if !admitted {
			eng.logger.Debug("duplicate submission coalesced",
				slog.String("tenant", def.Tenant),
				slog.String("workflow_key", def.Key),
				slog.String("correlation_key", env.CorrelationKey),
				slog.String("existing_run_id", existing.String()),
			)
			return nil, nil
		}
	}

	if err := eng.wfStore.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", def.Key, err)
	}
	return run, nil
}

// executeAsync runs the definition on the bounded pool. The submitting
// caller observes completion only through AwaitRun or the run store.
func (eng *Engine) executeAsync(def *workflow.Definition, run *workflow.Run) {
	eng.wg.Add(1)
	go func() {
		defer eng.wg.Done()

		ctx := context.Background()
		if err := eng.sem.Acquire(ctx, 1); err != nil {
			eng.logger.Error("acquire run slot", "run_id", run.ID, "error", err)
			return
		}
		defer eng.sem.Release(1)

		eng.execute(ctx, def, run)
	}()
}

// execute drives one run to a terminal state, emits lifecycle events,
// dead-letters failures, and publishes the completion notification.
func (eng *Engine) execute(ctx context.Context, def *workflow.Definition, run *workflow.Run) {
	start := time.Now()
	eng.extensions.EmitRunStarted(ctx, run)

	err := eng.executor.Execute(ctx, def, run)
	elapsed := time.Since(start)

	if err != nil {
		eng.extensions.EmitRunFailed(ctx, run, err)
		eng.logger.Error("run failed",
			slog.String("run_id", run.ID.String()),
			slog.String("workflow_key", run.WorkflowKey),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		if entry, dlqErr := eng.dlqService.Push(ctx, run); dlqErr != nil {
			eng.logger.Error("push dead letter", "run_id", run.ID, "error", dlqErr)
		} else {
			eng.extensions.EmitDLQPushed(ctx, entry)
		}
	} else {
		eng.extensions.EmitRunCompleted(ctx, run, elapsed)
		eng.logger.Info("run completed",
			slog.String("run_id", run.ID.String()),
			slog.String("workflow_key", run.WorkflowKey),
			slog.Duration("elapsed", elapsed),
		)
	}

	if _, pubErr := eng.bus.Publish(ctx, run.Tenant, event.RunCompleted, run.CorrelationKey, []byte(run.ID.String())); pubErr != nil {
		eng.logger.Error("publish run completion", "run_id", run.ID, "error", pubErr)
	}
}

// RunChild starts a child run for a callWorkflow step and blocks until
// it terminates. It satisfies workflow.ChildRunner. The child uses the
// latest enabled version of the target workflow.
func (eng *Engine) RunChild(ctx context.Context, parent *workflow.Run, workflowKey, stepID string, input map[string]any) (*workflow.Run, error) {
	def, err := eng.wfStore.LatestDefinition(ctx, parent.Tenant, workflowKey)
	if err != nil {
		return nil, fmt.Errorf("resolve workflow %q: %w", workflowKey, err)
	}
	if def.Paused() {
		return nil, fmt.Errorf("workflow %q is paused", workflowKey)
	}

	child := parent.Child(def, stepID, input)
	if err := eng.wfStore.CreateRun(ctx, child); err != nil {
		return nil, fmt.Errorf("create child run for workflow %q: %w", workflowKey, err)
	}

	eng.execute(ctx, def, child)

	// Re-read: execute leaves the terminal state on the stored run.
	return eng.wfStore.GetRun(ctx, child.Tenant, child.ID)
}

// Invoke routes one action call through the middleware chain into the
// action registry. It satisfies workflow.ActionInvoker.
func (eng *Engine) Invoke(ctx context.Context, tenant string, runID id.RunID, stepID, actionName string, input map[string]any) (map[string]any, error) {
	call := &action.Call{
		Tenant:  tenant,
		RunID:   runID,
		StepID:  stepID,
		Name:    actionName,
		Input:   input,
		Timeout: eng.rt.Config().ActionTimeout,
	}
	return eng.chain(ctx, call, func(ctx context.Context) (map[string]any, error) {
		return eng.actions.Invoke(ctx, call)
	})
}

// AwaitRun blocks until a run matching the filter exists in a terminal
// state, or the timeout expires with ErrAwaitTimeout. A zero timeout
// uses the configured default. The filter's Status field, when set,
// narrows the wait to that terminal status.
func (eng *Engine) AwaitRun(ctx context.Context, filter workflow.RunFilter, timeout time.Duration) (*workflow.Run, error) {
	config := eng.rt.Config()
	if timeout <= 0 {
		timeout = config.DefaultAwaitTimeout
	}
	deadline := time.Now().Add(timeout)

	filter.Limit = 1
	for {
		runs, err := eng.wfStore.ListRuns(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("await run: %w", err)
		}
		for _, run := range runs {
			if filter.Status != "" || run.Status.Terminal() {
				return run, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, automation.ErrAwaitTimeout
		}

		// Block on the completion notification rather than busy polling;
		// the poll interval caps the wait so newly created runs are
		// noticed even if a notification was acked by another waiter.
		wait := config.AwaitPollInterval
		if wait > remaining {
			wait = remaining
		}
		evt, err := eng.bus.Subscribe(ctx, event.RunCompleted, wait)
		if err != nil {
			return nil, fmt.Errorf("await run: %w", err)
		}
		if evt != nil {
			if ackErr := eng.bus.Ack(ctx, evt.ID); ackErr != nil && !errors.Is(ackErr, automation.ErrEventNotFound) {
				eng.logger.Warn("ack completion event", "event_id", evt.ID, "error", ackErr)
			}
		}
	}
}

// Start launches the trigger scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.scheduler.Start(ctx)
}

// Stop gracefully shuts down the engine: the trigger scheduler stops,
// in-flight runs get ShutdownTimeout to finish, and extensions are
// notified.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("trigger scheduler stop", "error", err)
	}

	done := make(chan struct{})
	go func() {
		eng.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(eng.rt.Config().ShutdownTimeout):
		eng.logger.Warn("shutdown timeout reached with runs in flight")
	case <-ctx.Done():
		return ctx.Err()
	}

	eng.extensions.EmitShutdown(ctx)
	return nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Actions returns the action registry.
func (eng *Engine) Actions() *action.Registry { return eng.actions }

// Schemas returns the payload schema registry.
func (eng *Engine) Schemas() *schema.Registry { return eng.schemas }

// Runtime returns the underlying Runtime.
func (eng *Engine) Runtime() *automation.Runtime { return eng.rt }

// WorkflowStore returns the workflow store.
func (eng *Engine) WorkflowStore() workflow.Store { return eng.wfStore }

// TriggerStore returns the trigger store.
func (eng *Engine) TriggerStore() trigger.Store { return eng.triggerStore }

// DLQService returns the dead letter service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// EventBus returns the event bus.
func (eng *Engine) EventBus() *event.Bus { return eng.bus }

// Scheduler returns the trigger scheduler.
func (eng *Engine) Scheduler() *trigger.Scheduler { return eng.scheduler }

// ReplayDeadLetter resubmits a dead letter's envelope through the normal
// ingress path and marks the entry replayed.
func (eng *Engine) ReplayDeadLetter(ctx context.Context, tenant string, entryID id.DLQID) error {
	return eng.dlqService.Replay(ctx, eng, tenant, entryID)
}
