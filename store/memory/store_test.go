package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/idem"
	"github.com/Nine-Minds/alga-psa-sub020/store/memory"
	"github.com/Nine-Minds/alga-psa-sub020/trigger"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

func definition(tenant, key string, version int) *workflow.Definition {
	return &workflow.Definition{
		Entity:       automation.NewEntity(),
		ID:           id.NewWorkflowID(),
		Tenant:       tenant,
		Key:          key,
		Version:      version,
		TriggerEvent: "TICKET_CREATED",
		Enabled:      true,
		Root: []workflow.Step{
			{ID: "notify", Kind: workflow.KindAction, Action: &workflow.ActionStep{Name: "send-email"}},
		},
	}
}

func newRun(t *testing.T, st *memory.Store, def *workflow.Definition, correlationKey string) *workflow.Run {
	t.Helper()
	run := workflow.NewRun(def, event.Envelope{
		Name:           def.TriggerEvent,
		CorrelationKey: correlationKey,
	})
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func TestDefinitionVersioning(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	if err := st.PutDefinition(ctx, definition("acme", "flow", 1), false); err != nil {
		t.Fatalf("PutDefinition v1: %v", err)
	}
	if err := st.PutDefinition(ctx, definition("acme", "flow", 1), false); !errors.Is(err, automation.ErrVersionConflict) {
		t.Fatalf("duplicate version = %v, want ErrVersionConflict", err)
	}
	if err := st.PutDefinition(ctx, definition("acme", "flow", 1), true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
	if err := st.PutDefinition(ctx, definition("acme", "flow", 2), false); err != nil {
		t.Fatalf("PutDefinition v2: %v", err)
	}

	got, err := st.GetDefinition(ctx, "acme", "flow", 1)
	if err != nil || got.Version != 1 {
		t.Fatalf("GetDefinition v1 = %+v, %v", got, err)
	}
	latest, err := st.LatestDefinition(ctx, "acme", "flow")
	if err != nil || latest.Version != 2 {
		t.Fatalf("LatestDefinition = %+v, %v", latest, err)
	}

	if _, err := st.GetDefinition(ctx, "acme", "flow", 9); !errors.Is(err, automation.ErrDefinitionNotFound) {
		t.Errorf("missing version = %v", err)
	}
	if _, err := st.LatestDefinition(ctx, "other", "flow"); !errors.Is(err, automation.ErrDefinitionNotFound) {
		t.Errorf("foreign tenant = %v", err)
	}
}

func TestMatchDefinitionsLatestPerKey(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	for _, def := range []*workflow.Definition{
		definition("acme", "alpha", 1),
		definition("acme", "alpha", 2),
		definition("acme", "beta", 1),
		definition("other", "alpha", 1),
	} {
		if err := st.PutDefinition(ctx, def, false); err != nil {
			t.Fatalf("PutDefinition: %v", err)
		}
	}
	unrelated := definition("acme", "gamma", 1)
	unrelated.TriggerEvent = "INVOICE_PAID"
	if err := st.PutDefinition(ctx, unrelated, false); err != nil {
		t.Fatalf("PutDefinition: %v", err)
	}

	defs, err := st.MatchDefinitions(ctx, "acme", "TICKET_CREATED")
	if err != nil {
		t.Fatalf("MatchDefinitions: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("matched = %d, want 2", len(defs))
	}
	if defs[0].Key != "alpha" || defs[0].Version != 2 {
		t.Errorf("defs[0] = %s v%d, want alpha v2", defs[0].Key, defs[0].Version)
	}
	if defs[1].Key != "beta" {
		t.Errorf("defs[1] = %s", defs[1].Key)
	}
}

func TestRunLifecycle(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	def := definition("acme", "flow", 1)

	run := newRun(t, st, def, "corr-1")
	if err := st.CreateRun(ctx, run); !errors.Is(err, automation.ErrDuplicateRun) {
		t.Fatalf("duplicate create = %v", err)
	}
	if _, err := st.GetRun(ctx, "other", run.ID); !errors.Is(err, automation.ErrRunNotFound) {
		t.Errorf("foreign tenant read = %v", err)
	}

	run.Start(time.Now().UTC())
	if err := st.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun running: %v", err)
	}
	run.Finish(workflow.StatusSucceeded, "", time.Now().UTC())
	if err := st.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun terminal: %v", err)
	}

	// Terminal runs reject further transitions.
	run.Status = workflow.StatusRunning
	if err := st.UpdateRun(ctx, run); !errors.Is(err, automation.ErrInvalidState) {
		t.Fatalf("update after terminal = %v, want ErrInvalidState", err)
	}

	got, err := st.GetRun(ctx, "acme", run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != workflow.StatusSucceeded {
		t.Errorf("stored status = %s", got.Status)
	}
}

func TestListRunsFilterAndPagination(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	def := definition("acme", "flow", 1)
	other := definition("acme", "other-flow", 1)

	a := newRun(t, st, def, "corr-a")
	newRun(t, st, def, "corr-b")
	newRun(t, st, other, "corr-a")

	all, err := st.ListRuns(ctx, workflow.RunFilter{Tenant: "acme"})
	if err != nil || len(all) != 3 {
		t.Fatalf("ListRuns all = %d, %v", len(all), err)
	}

	byKey, err := st.ListRuns(ctx, workflow.RunFilter{Tenant: "acme", WorkflowKey: "flow"})
	if err != nil || len(byKey) != 2 {
		t.Fatalf("ListRuns by key = %d, %v", len(byKey), err)
	}
	byCorr, err := st.ListRuns(ctx, workflow.RunFilter{Tenant: "acme", CorrelationKey: "corr-a"})
	if err != nil || len(byCorr) != 2 {
		t.Fatalf("ListRuns by correlation = %d, %v", len(byCorr), err)
	}

	a.Start(time.Now().UTC())
	a.Finish(workflow.StatusFailed, "boom", time.Now().UTC())
	if err := st.UpdateRun(ctx, a); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	failed, err := st.ListRuns(ctx, workflow.RunFilter{Tenant: "acme", Status: workflow.StatusFailed})
	if err != nil || len(failed) != 1 || failed[0].ID != a.ID {
		t.Fatalf("ListRuns failed = %v, %v", failed, err)
	}

	page, err := st.ListRuns(ctx, workflow.RunFilter{Tenant: "acme", Limit: 2})
	if err != nil || len(page) != 2 {
		t.Fatalf("ListRuns limit = %d, %v", len(page), err)
	}
	rest, err := st.ListRuns(ctx, workflow.RunFilter{Tenant: "acme", Limit: 2, Offset: 2})
	if err != nil || len(rest) != 1 {
		t.Fatalf("ListRuns offset = %d, %v", len(rest), err)
	}
	past, err := st.ListRuns(ctx, workflow.RunFilter{Tenant: "acme", Offset: 10})
	if err != nil || len(past) != 0 {
		t.Fatalf("ListRuns past end = %d, %v", len(past), err)
	}
}

func TestStepRecords(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	run := newRun(t, st, definition("acme", "flow", 1), "corr-1")

	now := time.Now().UTC()
	first := workflow.NewStepRecord(run.ID, "lookup", workflow.KindAction, nil, now)
	second := workflow.NewStepRecord(run.ID, "notify", workflow.KindAction, nil, now)
	for _, rec := range []*workflow.StepRecord{first, second} {
		if err := st.AppendStep(ctx, rec); err != nil {
			t.Fatalf("AppendStep: %v", err)
		}
	}

	first.Finish(workflow.StatusSucceeded, map[string]any{"email": "x"}, "", time.Now().UTC())
	if err := st.UpdateStep(ctx, first); err != nil {
		t.Fatalf("UpdateStep: %v", err)
	}
	ghost := workflow.NewStepRecord(run.ID, "ghost", workflow.KindAction, nil, now)
	if err := st.UpdateStep(ctx, ghost); !errors.Is(err, automation.ErrStepNotFound) {
		t.Fatalf("update unknown step = %v", err)
	}

	steps, err := st.ListSteps(ctx, "acme", run.ID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 2 || steps[0].DefinitionStepID != "lookup" || steps[1].DefinitionStepID != "notify" {
		t.Fatalf("steps out of order: %+v", steps)
	}
	if steps[0].Status != workflow.StatusSucceeded {
		t.Errorf("updated step status = %s", steps[0].Status)
	}

	if _, err := st.ListSteps(ctx, "other", run.ID); !errors.Is(err, automation.ErrRunNotFound) {
		t.Errorf("foreign tenant steps = %v", err)
	}
}

func TestClaimRunSingleAdmission(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	const claimants = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		winners  = map[string]bool{}
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim := &idem.Claim{
				Tenant:         "acme",
				WorkflowKey:    "flow",
				CorrelationKey: "corr-1",
				RunID:          id.NewRunID(),
				CreatedAt:      time.Now().UTC(),
			}
			runID, won, err := st.ClaimRun(ctx, claim)
			if err != nil {
				t.Errorf("ClaimRun: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if won {
				admitted++
			}
			winners[runID.String()] = true
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d, want 1", admitted)
	}
	// Every claimant observed the same holding run.
	if len(winners) != 1 {
		t.Errorf("distinct run IDs observed = %d, want 1", len(winners))
	}

	claim, err := st.GetClaim(ctx, "acme", "flow", "corr-1")
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	if !winners[claim.RunID.String()] {
		t.Errorf("stored claim holds %s, claimants saw %v", claim.RunID, winners)
	}
	if _, err := st.GetClaim(ctx, "acme", "flow", "corr-2"); !errors.Is(err, automation.ErrClaimNotFound) {
		t.Errorf("missing claim = %v", err)
	}
}

func TestEventPublishSubscribeAck(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	evt := &event.Event{
		ID:        id.NewEventID(),
		Tenant:    "acme",
		Name:      event.RunCompleted,
		Payload:   []byte("run_x"),
		CreatedAt: time.Now().UTC(),
	}
	if err := st.PublishEvent(ctx, evt); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	got, err := st.SubscribeEvent(ctx, event.RunCompleted, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("SubscribeEvent: %v", err)
	}
	if got == nil || got.ID != evt.ID {
		t.Fatalf("SubscribeEvent = %+v", got)
	}

	if err := st.AckEvent(ctx, evt.ID); err != nil {
		t.Fatalf("AckEvent: %v", err)
	}
	if err := st.AckEvent(ctx, id.NewEventID()); !errors.Is(err, automation.ErrEventNotFound) {
		t.Errorf("ack unknown = %v", err)
	}

	// Acked events are not redelivered; the subscribe times out with nil.
	none, err := st.SubscribeEvent(ctx, event.RunCompleted, 50*time.Millisecond)
	if err != nil || none != nil {
		t.Fatalf("SubscribeEvent after ack = %+v, %v", none, err)
	}
}

func TestSubscribeEventHonorsContext(t *testing.T) {
	st := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := st.SubscribeEvent(ctx, event.RunCompleted, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("SubscribeEvent = %v, want context.Canceled", err)
	}
}

func TestDLQOperations(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	push := func(tenant, key string, failedAt time.Time) *dlq.Entry {
		entry := &dlq.Entry{
			ID:          id.NewDLQID(),
			Tenant:      tenant,
			RunID:       id.NewRunID(),
			WorkflowKey: key,
			Version:     1,
			Event:       event.Envelope{Name: "TICKET_CREATED"},
			Error:       "boom",
			FailedAt:    failedAt,
			CreatedAt:   failedAt,
		}
		if err := st.PushDLQ(ctx, entry); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
		return entry
	}

	base := time.Now().UTC()
	old := push("acme", "flow", base.Add(-2*time.Hour))
	recent := push("acme", "flow", base.Add(-time.Minute))
	push("acme", "other-flow", base)
	push("other", "flow", base)

	entries, err := st.ListDLQ(ctx, dlq.ListOpts{Tenant: "acme"})
	if err != nil || len(entries) != 3 {
		t.Fatalf("ListDLQ = %d, %v", len(entries), err)
	}
	if entries[0].ID != old.ID {
		t.Errorf("entries not oldest-first: %v", entries[0].FailedAt)
	}
	byKey, err := st.ListDLQ(ctx, dlq.ListOpts{Tenant: "acme", WorkflowKey: "flow"})
	if err != nil || len(byKey) != 2 {
		t.Fatalf("ListDLQ by key = %d, %v", len(byKey), err)
	}

	if err := st.MarkReplayed(ctx, "acme", recent.ID, base); err != nil {
		t.Fatalf("MarkReplayed: %v", err)
	}
	got, err := st.GetDLQ(ctx, "acme", recent.ID)
	if err != nil || got.ReplayedAt == nil {
		t.Fatalf("GetDLQ after replay = %+v, %v", got, err)
	}
	if _, err := st.GetDLQ(ctx, "other", recent.ID); !errors.Is(err, automation.ErrDLQNotFound) {
		t.Errorf("foreign tenant entry = %v", err)
	}

	purged, err := st.PurgeDLQ(ctx, "acme", base.Add(-time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("PurgeDLQ = %d, %v", purged, err)
	}
	count, err := st.CountDLQ(ctx, "acme")
	if err != nil || count != 2 {
		t.Fatalf("CountDLQ = %d, %v", count, err)
	}
}

func TestTriggerCRUD(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	entry := &trigger.Entry{
		Entity:   automation.NewEntity(),
		ID:       id.NewTriggerID(),
		Tenant:   "acme",
		Name:     "nightly-report",
		Schedule: "0 2 * * *",
		Event:    event.Envelope{Name: "REPORT_DUE", CorrelationKey: "nightly"},
		Enabled:  true,
	}
	if err := st.RegisterTrigger(ctx, entry); err != nil {
		t.Fatalf("RegisterTrigger: %v", err)
	}

	dup := *entry
	dup.ID = id.NewTriggerID()
	if err := st.RegisterTrigger(ctx, &dup); !errors.Is(err, automation.ErrDuplicateTrigger) {
		t.Fatalf("duplicate name = %v", err)
	}

	got, err := st.GetTrigger(ctx, "acme", entry.ID)
	if err != nil || got.Name != "nightly-report" {
		t.Fatalf("GetTrigger = %+v, %v", got, err)
	}
	if _, err := st.GetTrigger(ctx, "other", entry.ID); !errors.Is(err, automation.ErrTriggerNotFound) {
		t.Errorf("foreign tenant trigger = %v", err)
	}

	got.Enabled = false
	if err := st.UpdateTrigger(ctx, got); err != nil {
		t.Fatalf("UpdateTrigger: %v", err)
	}
	updated, err := st.GetTrigger(ctx, "acme", entry.ID)
	if err != nil || updated.Enabled {
		t.Fatalf("update not persisted: %+v, %v", updated, err)
	}

	all, err := st.ListTriggers(ctx, "acme")
	if err != nil || len(all) != 1 {
		t.Fatalf("ListTriggers = %d, %v", len(all), err)
	}

	if err := st.DeleteTrigger(ctx, "acme", entry.ID); err != nil {
		t.Fatalf("DeleteTrigger: %v", err)
	}
	if err := st.DeleteTrigger(ctx, "acme", entry.ID); !errors.Is(err, automation.ErrTriggerNotFound) {
		t.Errorf("delete missing = %v", err)
	}
}
