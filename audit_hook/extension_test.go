package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	audithook "github.com/Nine-Minds/alga-psa-sub020/audit_hook"
	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

type captureRecorder struct {
	events []*audithook.AuditEvent
	err    error
}

func (c *captureRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	c.events = append(c.events, evt)
	return c.err
}

func auditRun() *workflow.Run {
	return &workflow.Run{
		Entity:         automation.NewEntity(),
		ID:             id.NewRunID(),
		Tenant:         "acme",
		WorkflowKey:    "ticket-escalation",
		Version:        1,
		CorrelationKey: "corr-1",
		Status:         workflow.StatusRunning,
	}
}

func TestRunLifecycleEvents(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec)
	ctx := context.Background()
	run := auditRun()

	if err := e.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if err := e.OnRunCompleted(ctx, run, 1500*time.Millisecond); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}
	if err := e.OnRunFailed(ctx, run, errors.New("smtp unreachable")); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	if len(rec.events) != 3 {
		t.Fatalf("events = %d, want 3", len(rec.events))
	}

	started := rec.events[0]
	if started.Action != audithook.ActionRunStarted || started.Outcome != audithook.OutcomeSuccess {
		t.Errorf("started = %+v", started)
	}
	if started.Tenant != "acme" || started.ResourceID != run.ID.String() {
		t.Errorf("started = %+v", started)
	}
	if started.Metadata["workflow_key"] != "ticket-escalation" || started.Metadata["correlation_key"] != "corr-1" {
		t.Errorf("started metadata = %v", started.Metadata)
	}

	completed := rec.events[1]
	if completed.Action != audithook.ActionRunCompleted {
		t.Errorf("completed = %+v", completed)
	}
	if completed.Metadata["elapsed_ms"] != int64(1500) {
		t.Errorf("elapsed metadata = %v", completed.Metadata["elapsed_ms"])
	}

	failed := rec.events[2]
	if failed.Severity != audithook.SeverityCritical || failed.Outcome != audithook.OutcomeFailure {
		t.Errorf("failed = %+v", failed)
	}
	if failed.Reason != "smtp unreachable" || failed.Metadata["error"] != "smtp unreachable" {
		t.Errorf("failed = %+v", failed)
	}
}

func TestStepAndDLQEvents(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec)
	ctx := context.Background()
	run := auditRun()
	stepRec := workflow.NewStepRecord(run.ID, "notify", workflow.KindAction, nil, time.Now().UTC())

	if err := e.OnStepCompleted(ctx, run, stepRec); err != nil {
		t.Fatalf("OnStepCompleted: %v", err)
	}
	if err := e.OnStepFailed(ctx, run, stepRec, errors.New("boom")); err != nil {
		t.Fatalf("OnStepFailed: %v", err)
	}
	entry := &dlq.Entry{
		ID:          id.NewDLQID(),
		Tenant:      "acme",
		RunID:       run.ID,
		WorkflowKey: run.WorkflowKey,
		Error:       "boom",
	}
	if err := e.OnDLQPushed(ctx, entry); err != nil {
		t.Fatalf("OnDLQPushed: %v", err)
	}

	if len(rec.events) != 3 {
		t.Fatalf("events = %d, want 3", len(rec.events))
	}
	if rec.events[0].Resource != audithook.ResourceStep || rec.events[0].Metadata["step_id"] != "notify" {
		t.Errorf("step completed = %+v", rec.events[0])
	}
	if rec.events[1].Severity != audithook.SeverityWarning {
		t.Errorf("step failed = %+v", rec.events[1])
	}
	pushed := rec.events[2]
	if pushed.Action != audithook.ActionDLQPushed || pushed.Category != audithook.CategoryDLQ {
		t.Errorf("dlq pushed = %+v", pushed)
	}
	if pushed.ResourceID != entry.ID.String() || pushed.Metadata["run_id"] != run.ID.String() {
		t.Errorf("dlq pushed = %+v", pushed)
	}
}

func TestWithActionsFiltersEvents(t *testing.T) {
	rec := &captureRecorder{}
	e := audithook.New(rec, audithook.WithActions(audithook.ActionRunFailed))
	ctx := context.Background()
	run := auditRun()

	if err := e.OnRunStarted(ctx, run); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if err := e.OnRunFailed(ctx, run, errors.New("boom")); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}

	if len(rec.events) != 1 || rec.events[0].Action != audithook.ActionRunFailed {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestRecorderFailureDoesNotPropagate(t *testing.T) {
	rec := &captureRecorder{err: errors.New("audit store down")}
	e := audithook.New(rec, audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := e.OnRunStarted(context.Background(), auditRun()); err != nil {
		t.Fatalf("recorder failure propagated: %v", err)
	}
}

func TestAllActionsCoversEveryHook(t *testing.T) {
	actions := audithook.AllActions()
	want := map[string]bool{
		audithook.ActionRunStarted:    true,
		audithook.ActionRunCompleted:  true,
		audithook.ActionRunFailed:     true,
		audithook.ActionStepCompleted: true,
		audithook.ActionStepFailed:    true,
		audithook.ActionDLQPushed:     true,
	}
	if len(actions) != len(want) {
		t.Fatalf("AllActions = %v", actions)
	}
	for _, a := range actions {
		if !want[a] {
			t.Errorf("unexpected action %q", a)
		}
	}
}
