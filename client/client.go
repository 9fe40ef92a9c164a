// Package client provides a Go client for a remote automation instance
// over its HTTP API.
//
// Usage:
//
//	c := client.New("https://automation.example.com",
//	    client.WithAPIKey("ak_..."),
//	)
//
//	// Submit an event.
//	runIDs, err := c.SubmitEvent(ctx, event.Envelope{
//	    Name:           "TICKET_CREATED",
//	    CorrelationKey: "ticket-42",
//	    Payload:        map[string]any{"priority": "high"},
//	})
//
//	// Wait for the run to finish.
//	run, err := c.AwaitRun(ctx, client.RunQuery{CorrelationKey: "ticket-42"}, 30*time.Second)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/backoff"
	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/trigger"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// Client talks to a remote automation server's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger

	// Transient failures (network errors, 5xx) are retried with backoff.
	retries int
	backoff backoff.Strategy
}

// New creates a client for the given base URL (scheme and host, no path).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		logger:  slog.Default(),
		retries: 2,
		backoff: backoff.NewExponentialWithJitter(250*time.Millisecond, 5*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("automation/client: %s (%d): %s", e.Code, e.Status, e.Message)
}

// IsAwaitTimeout reports whether err is the server's bounded-wait
// timeout; the workflow may be paused or simply unmatched.
func IsAwaitTimeout(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "AWAIT_TIMEOUT"
}

// ── Events and runs ──

// SubmitEvent submits an event envelope and returns the IDs of the runs
// it created. Duplicate and paused submissions return an empty list.
func (c *Client) SubmitEvent(ctx context.Context, env event.Envelope) ([]string, error) {
	var resp struct {
		RunIDs []string `json:"runIds"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/workflow/events", nil, env, &resp); err != nil {
		return nil, err
	}
	return resp.RunIDs, nil
}

// RunQuery filters run listings.
type RunQuery struct {
	WorkflowKey    string
	CorrelationKey string
	Status         workflow.Status
	StartedAfter   time.Time
	Limit          int
	Offset         int
}

func (q RunQuery) values() url.Values {
	v := url.Values{}
	if q.WorkflowKey != "" {
		v.Set("workflowKey", q.WorkflowKey)
	}
	if q.CorrelationKey != "" {
		v.Set("correlationKey", q.CorrelationKey)
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if !q.StartedAfter.IsZero() {
		v.Set("startedAfter", q.StartedAfter.Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// ListRuns returns runs matching the query, newest first.
func (c *Client) ListRuns(ctx context.Context, q RunQuery) ([]*workflow.Run, error) {
	var runs []*workflow.Run
	if err := c.do(ctx, http.MethodGet, "/v1/workflow/runs", q.values(), nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// AwaitRun blocks server-side until a run matching the query reaches a
// terminal state, up to the given timeout. A timeout surfaces as an
// *APIError with code AWAIT_TIMEOUT; check with IsAwaitTimeout.
func (c *Client) AwaitRun(ctx context.Context, q RunQuery, timeout time.Duration) (*workflow.Run, error) {
	v := q.values()
	v.Set("wait", timeout.String())

	var runs []*workflow.Run
	if err := c.do(ctx, http.MethodGet, "/v1/workflow/runs", v, nil, &runs); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("automation/client: await returned no run")
	}
	return runs[0], nil
}

// GetRun returns a single run by ID.
func (c *Client) GetRun(ctx context.Context, runID string) (*workflow.Run, error) {
	var run workflow.Run
	if err := c.do(ctx, http.MethodGet, "/v1/workflow/runs/"+url.PathEscape(runID), nil, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListSteps returns a run's step audit records in execution order.
func (c *Client) ListSteps(ctx context.Context, runID string) ([]*workflow.StepRecord, error) {
	var steps []*workflow.StepRecord
	if err := c.do(ctx, http.MethodGet, "/v1/workflow/runs/"+url.PathEscape(runID)+"/steps", nil, nil, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

// ── Bundles and schemas ──

// ImportBundle publishes a set of workflow definitions as one unit.
// With force, existing (key, version) pairs are overwritten.
func (c *Client) ImportBundle(ctx context.Context, defs []*workflow.Definition, force bool) error {
	v := url.Values{}
	if force {
		v.Set("force", "true")
	}
	body := map[string]any{"workflows": defs}
	return c.do(ctx, http.MethodPost, "/v1/workflow/bundles", v, body, nil)
}

// RegisterSchema registers a payload schema under its ref.
func (c *Client) RegisterSchema(ctx context.Context, ref string, schemaJSON json.RawMessage) error {
	body := map[string]any{"ref": ref, "schema": schemaJSON}
	return c.do(ctx, http.MethodPost, "/v1/schemas", nil, body, nil)
}

// ── Dead letters ──

// ListDeadLetters returns the tenant's dead letter entries, oldest first.
func (c *Client) ListDeadLetters(ctx context.Context, workflowKey string, limit, offset int) ([]*dlq.Entry, error) {
	v := url.Values{}
	if workflowKey != "" {
		v.Set("workflowKey", workflowKey)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}

	var entries []*dlq.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/dlq", v, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplayDeadLetter resubmits a dead letter entry's event through the
// normal ingress path.
func (c *Client) ReplayDeadLetter(ctx context.Context, entryID string) error {
	return c.do(ctx, http.MethodPost, "/v1/dlq/"+url.PathEscape(entryID)+"/replay", nil, nil, nil)
}

// ── Triggers ──

// CreateTrigger registers a scheduled trigger.
func (c *Client) CreateTrigger(ctx context.Context, name, schedule string, env event.Envelope) (*trigger.Entry, error) {
	body := map[string]any{"name": name, "schedule": schedule, "event": env}

	var entry trigger.Entry
	if err := c.do(ctx, http.MethodPost, "/v1/triggers", nil, body, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListTriggers returns the tenant's trigger entries.
func (c *Client) ListTriggers(ctx context.Context) ([]*trigger.Entry, error) {
	var entries []*trigger.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/triggers", nil, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteTrigger removes a trigger entry.
func (c *Client) DeleteTrigger(ctx context.Context, entryID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/triggers/"+url.PathEscape(entryID), nil, nil, nil)
}

// ── Transport ──

// do performs one API call with retries on transient failures, decoding
// a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("automation/client: marshal request: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt)
			c.logger.Debug("retrying request", "method", method, "path", path, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		retry, err := c.attempt(ctx, method, u, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt >= c.retries {
			return lastErr
		}
	}
}

// attempt performs one HTTP exchange. The first return value reports
// whether the failure is transient and worth retrying.
func (c *Client) attempt(ctx context.Context, method, u string, body []byte, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return false, fmt.Errorf("automation/client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return true, fmt.Errorf("automation/client: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("automation/client: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "UNKNOWN"}
		var wire struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(data, &wire); jsonErr == nil && wire.Error.Code != "" {
			apiErr.Code = wire.Error.Code
			apiErr.Message = wire.Error.Message
			apiErr.Details = wire.Error.Details
		} else {
			apiErr.Message = string(data)
		}
		return resp.StatusCode >= 500, apiErr
	}

	if out != nil && len(data) > 0 {
		if err = json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("automation/client: decode response: %w", err)
		}
	}
	return false, nil
}
