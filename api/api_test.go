package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/action"
	"github.com/Nine-Minds/alga-psa-sub020/api"
	"github.com/Nine-Minds/alga-psa-sub020/engine"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/store/memory"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

type fixture struct {
	eng    *engine.Engine
	srv    *httptest.Server
	apiKey string
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()

	rt, err := automation.New(
		automation.WithStore(memory.New()),
		automation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		automation.WithConfig(automation.Config{
			Concurrency:         4,
			AwaitPollInterval:   20 * time.Millisecond,
			DefaultAwaitTimeout: 3 * time.Second,
			ShutdownTimeout:     time.Second,
		}),
	)
	if err != nil {
		t.Fatalf("New runtime: %v", err)
	}
	eng, err := engine.Build(rt)
	if err != nil {
		t.Fatalf("Build engine: %v", err)
	}
	eng.RegisterAction("send-email", func(_ context.Context, _ *action.Call) (map[string]any, error) {
		return map[string]any{"sent": true}, nil
	})
	if err := eng.RegisterSchema("ticket.v1", `{"type": "object"}`); err != nil {
		t.Fatalf("RegisterSchema: %v", err)
	}

	opts = append([]api.Option{api.WithAPIKey("test-key", "acme")}, opts...)
	srv := httptest.NewServer(api.New(eng, opts...).Handler())
	t.Cleanup(srv.Close)

	return &fixture{eng: eng, srv: srv, apiKey: "test-key"}
}

func (f *fixture) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-API-Key", f.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (f *fixture) publish(t *testing.T, def *workflow.Definition) {
	t.Helper()
	if err := f.eng.PublishDefinition(context.Background(), def, false); err != nil {
		t.Fatalf("PublishDefinition: %v", err)
	}
}

func ticketWorkflow() *workflow.Definition {
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

func ticketEnvelope(correlationKey string) event.Envelope {
	return event.Envelope{
		Name:           "TICKET_CREATED",
		CorrelationKey: correlationKey,
		SchemaRef:      "ticket.v1",
		Payload:        map[string]any{"ticketId": "tkt_1"},
	}
}

func decodeError(t *testing.T, data []byte) (code, message string, details map[string]any) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode error body %q: %v", data, err)
	}
	return body.Error.Code, body.Error.Message, body.Error.Details
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/workflow/runs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without key = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	code, _, _ := decodeError(t, data)
	if code != "UNAUTHORIZED" {
		t.Errorf("error code = %q", code)
	}
}

func TestSubmitEventAccepted(t *testing.T) {
	f := newFixture(t)
	f.publish(t, ticketWorkflow())

	resp, data := f.request(t, http.MethodPost, "/v1/workflow/events", map[string]any{
		"eventName":        "TICKET_CREATED",
		"correlationKey":   "corr-1",
		"payloadSchemaRef": "ticket.v1",
		"payload":          map[string]any{"ticketId": "tkt_1"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	var out api.SubmitEventResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.RunIDs) != 1 {
		t.Fatalf("runIds = %v", out.RunIDs)
	}
}

func TestSubmitEventRequiredFields(t *testing.T) {
	f := newFixture(t)
	f.publish(t, ticketWorkflow())

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing eventName", map[string]any{
			"correlationKey":   "corr-1",
			"payloadSchemaRef": "ticket.v1",
		}},
		{"missing correlationKey", map[string]any{
			"eventName":        "TICKET_CREATED",
			"payloadSchemaRef": "ticket.v1",
		}},
		{"missing payloadSchemaRef", map[string]any{
			"eventName":      "TICKET_CREATED",
			"correlationKey": "corr-1",
		}},
		{"name only", map[string]any{
			"eventName": "TICKET_CREATED",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := f.request(t, http.MethodPost, "/v1/workflow/events", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", resp.StatusCode, data)
			}
			code, _, _ := decodeError(t, data)
			if code != "INVALID_REQUEST" {
				t.Errorf("error code = %q", code)
			}
		})
	}
}

func TestSubmitEventSchemaValidation(t *testing.T) {
	f := newFixture(t)
	f.publish(t, ticketWorkflow())

	resp, _ := f.request(t, http.MethodPost, "/v1/schemas", map[string]any{
		"ref": "ticket.v1",
		"schema": map[string]any{
			"type":       "object",
			"required":   []string{"ticketId"},
			"properties": map[string]any{"ticketId": map[string]any{"type": "string"}},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register schema status = %d", resp.StatusCode)
	}

	resp, data := f.request(t, http.MethodPost, "/v1/workflow/events", map[string]any{
		"eventName":        "TICKET_CREATED",
		"correlationKey":   "corr-1",
		"payloadSchemaRef": "ticket.v1",
		"payload":          map[string]any{"priority": 3},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	code, _, details := decodeError(t, data)
	if code != "INVALID_EVENT_PAYLOAD" {
		t.Errorf("error code = %q", code)
	}
	if details["schemaRef"] != "ticket.v1" {
		t.Errorf("details = %v", details)
	}
}

func TestRegisterSchemaRejectsBroken(t *testing.T) {
	f := newFixture(t)

	resp, data := f.request(t, http.MethodPost, "/v1/schemas", map[string]any{
		"ref":    "broken.v1",
		"schema": map[string]any{"type": 42},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	code, _, _ := decodeError(t, data)
	if code != "INVALID_SCHEMA" {
		t.Errorf("error code = %q", code)
	}
}

func TestListRunsWithWait(t *testing.T) {
	f := newFixture(t)
	f.publish(t, ticketWorkflow())

	resp, _ := f.request(t, http.MethodPost, "/v1/workflow/events", map[string]any{
		"eventName":        "TICKET_CREATED",
		"correlationKey":   "corr-1",
		"payloadSchemaRef": "ticket.v1",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}

	resp, data := f.request(t, http.MethodGet,
		"/v1/workflow/runs?workflowKey=ticket-escalation&wait=2s", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wait status = %d, body %s", resp.StatusCode, data)
	}
	var runs []*workflow.Run
	if err := json.Unmarshal(data, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != workflow.StatusSucceeded {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestListRunsWaitTimeout(t *testing.T) {
	f := newFixture(t)

	resp, data := f.request(t, http.MethodGet,
		"/v1/workflow/runs?workflowKey=nothing&wait=100ms", nil)
	if resp.StatusCode != http.StatusRequestTimeout {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	code, _, _ := decodeError(t, data)
	if code != "AWAIT_TIMEOUT" {
		t.Errorf("error code = %q", code)
	}
}

func TestGetRunAndSteps(t *testing.T) {
	f := newFixture(t)
	f.publish(t, ticketWorkflow())

	runs, err := f.eng.HandleEvent(context.Background(), "acme", ticketEnvelope("corr-1"))
	if err != nil || len(runs) != 1 {
		t.Fatalf("HandleEvent: runs=%d err=%v", len(runs), err)
	}
	if _, err := f.eng.AwaitRun(context.Background(),
		workflow.RunFilter{Tenant: "acme", WorkflowKey: "ticket-escalation"}, 2*time.Second); err != nil {
		t.Fatalf("AwaitRun: %v", err)
	}
	runID := runs[0].ID.String()

	resp, data := f.request(t, http.MethodGet, "/v1/workflow/runs/"+runID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get run status = %d", resp.StatusCode)
	}
	var run workflow.Run
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID.String() != runID {
		t.Errorf("run id = %s", run.ID)
	}

	resp, data = f.request(t, http.MethodGet, "/v1/workflow/runs/"+runID+"/steps", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list steps status = %d", resp.StatusCode)
	}
	var steps []*workflow.StepRecord
	if err := json.Unmarshal(data, &steps); err != nil {
		t.Fatalf("decode steps: %v", err)
	}
	if len(steps) != 1 || steps[0].DefinitionStepID != "notify" {
		t.Errorf("steps = %+v", steps)
	}
}

func TestGetRunNotFound(t *testing.T) {
	f := newFixture(t)

	resp, data := f.request(t, http.MethodGet, "/v1/workflow/runs/"+id.NewRunID().String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	code, _, _ := decodeError(t, data)
	if code != "NOT_FOUND" {
		t.Errorf("error code = %q", code)
	}
}

func TestImportBundle(t *testing.T) {
	f := newFixture(t)

	bundle := map[string]any{
		"workflows": []any{
			map[string]any{
				"key":           "imported-flow",
				"version":       1,
				"trigger_event": "TICKET_CREATED",
				"enabled":       true,
				"root": []any{
					map[string]any{
						"id": "notify", "kind": "action",
						"action": map[string]any{"name": "send-email"},
					},
				},
			},
		},
	}

	resp, data := f.request(t, http.MethodPost, "/v1/workflow/bundles", bundle)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}
	var out api.ImportBundleResponse
	if err := json.Unmarshal(data, &out); err != nil || out.Imported != 1 {
		t.Fatalf("response = %s, err %v", data, err)
	}

	// The bundle is stamped with the authenticated tenant.
	def, err := f.eng.WorkflowStore().LatestDefinition(context.Background(), "acme", "imported-flow")
	if err != nil {
		t.Fatalf("LatestDefinition: %v", err)
	}
	if def.Tenant != "acme" || def.ID.IsNil() {
		t.Errorf("imported definition = %+v", def)
	}

	// Re-import without force conflicts; with force it overwrites.
	resp, data = f.request(t, http.MethodPost, "/v1/workflow/bundles", bundle)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-import status = %d, body %s", resp.StatusCode, data)
	}
	code, _, _ := decodeError(t, data)
	if code != "CONFLICT" {
		t.Errorf("error code = %q", code)
	}
	resp, _ = f.request(t, http.MethodPost, "/v1/workflow/bundles?force=true", bundle)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("forced re-import status = %d", resp.StatusCode)
	}
}

func TestDeadLetterListAndReplay(t *testing.T) {
	f := newFixture(t)

	fail := true
	f.eng.RegisterAction("flaky", func(_ context.Context, _ *action.Call) (map[string]any, error) {
		if fail {
			fail = false
			return nil, errors.New("smtp unreachable")
		}
		return nil, nil
	})
	def := ticketWorkflow()
	def.Key = "flaky-flow"
	def.Root = []workflow.Step{
		{ID: "send", Kind: workflow.KindAction, Action: &workflow.ActionStep{Name: "flaky"}},
	}
	f.publish(t, def)

	if _, err := f.eng.HandleEvent(context.Background(), "acme", ticketEnvelope("corr-1")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if _, err := f.eng.AwaitRun(context.Background(), workflow.RunFilter{
		Tenant: "acme", WorkflowKey: "flaky-flow", Status: workflow.StatusFailed,
	}, 2*time.Second); err != nil {
		t.Fatalf("AwaitRun failed run: %v", err)
	}

	var entryID string
	deadline := time.Now().Add(2 * time.Second)
	for entryID == "" && time.Now().Before(deadline) {
		resp, data := f.request(t, http.MethodGet, "/v1/dlq?workflowKey=flaky-flow", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list dlq status = %d", resp.StatusCode)
		}
		var entries []map[string]any
		if err := json.Unmarshal(data, &entries); err != nil {
			t.Fatalf("decode dlq: %v", err)
		}
		if len(entries) > 0 {
			entryID, _ = entries[0]["id"].(string)
		} else {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if entryID == "" {
		t.Fatal("no dead letter appeared")
	}

	resp, _ := f.request(t, http.MethodPost, "/v1/dlq/"+entryID+"/replay", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}
	if _, err := f.eng.AwaitRun(context.Background(), workflow.RunFilter{
		Tenant: "acme", WorkflowKey: "flaky-flow", Status: workflow.StatusSucceeded,
	}, 2*time.Second); err != nil {
		t.Fatalf("AwaitRun replayed run: %v", err)
	}
}

func TestTriggerEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, data := f.request(t, http.MethodPost, "/v1/triggers", map[string]any{
		"name":     "nightly-report",
		"schedule": "0 2 * * *",
		"event":    map[string]any{"eventName": "REPORT_DUE", "correlationKey": "nightly"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, data)
	}
	var created map[string]any
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode trigger: %v", err)
	}
	entryID, _ := created["id"].(string)
	if entryID == "" {
		t.Fatalf("created trigger = %v", created)
	}

	resp, data = f.request(t, http.MethodPost, "/v1/triggers", map[string]any{
		"name":     "broken",
		"schedule": "not a cron",
		"event":    map[string]any{"eventName": "REPORT_DUE"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad schedule status = %d", resp.StatusCode)
	}
	code, _, _ := decodeError(t, data)
	if code != "INVALID_SCHEDULE" {
		t.Errorf("error code = %q", code)
	}

	resp, data = f.request(t, http.MethodGet, "/v1/triggers", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil || len(entries) != 1 {
		t.Fatalf("entries = %s, err %v", data, err)
	}

	resp, _ = f.request(t, http.MethodDelete, "/v1/triggers/"+entryID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = f.request(t, http.MethodDelete, "/v1/triggers/"+entryID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("re-delete status = %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, api.WithRateLimit(1, 1))

	first, _ := f.request(t, http.MethodGet, "/v1/workflow/runs", nil)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", first.StatusCode)
	}
	second, data := f.request(t, http.MethodGet, "/v1/workflow/runs", nil)
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", second.StatusCode)
	}
	code, _, _ := decodeError(t, data)
	if code != "RATE_LIMITED" {
		t.Errorf("error code = %q", code)
	}
}
