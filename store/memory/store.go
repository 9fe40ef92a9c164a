package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/idem"
	"github.com/Nine-Minds/alga-psa-sub020/trigger"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store = (*Store)(nil)
	_ idem.Store     = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ trigger.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	definitions map[string]*workflow.Definition // key: "tenant|key|version"
	runs        map[string]*workflow.Run
	steps       map[string][]*workflow.StepRecord // key: runID, execution order
	claims      map[string]*idem.Claim            // key: "tenant|workflowKey|correlationKey"
	events      map[string]*event.Event
	dlqs        map[string]*dlq.Entry
	triggers    map[string]*trigger.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		definitions: make(map[string]*workflow.Definition),
		runs:        make(map[string]*workflow.Run),
		steps:       make(map[string][]*workflow.StepRecord),
		claims:      make(map[string]*idem.Claim),
		events:      make(map[string]*event.Event),
		dlqs:        make(map[string]*dlq.Entry),
		triggers:    make(map[string]*trigger.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store — definitions
// ──────────────────────────────────────────────────

func definitionKey(tenant, key string, version int) string {
	return tenant + "|" + key + "|" + strconv.Itoa(version)
}

// PutDefinition persists a definition version. An existing
// (tenant, key, version) fails with ErrVersionConflict unless forced.
func (m *Store) PutDefinition(_ context.Context, def *workflow.Definition, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := definitionKey(def.Tenant, def.Key, def.Version)
	if _, exists := m.definitions[k]; exists && !force {
		return automation.ErrVersionConflict
	}
	cp := *def
	m.definitions[k] = &cp
	return nil
}

// GetDefinition retrieves a specific definition version.
func (m *Store) GetDefinition(_ context.Context, tenant, key string, version int) (*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.definitions[definitionKey(tenant, key, version)]
	if !ok {
		return nil, automation.ErrDefinitionNotFound
	}
	cp := *def
	return &cp, nil
}

// LatestDefinition retrieves the highest version stored for a key.
func (m *Store) LatestDefinition(_ context.Context, tenant, key string) (*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *workflow.Definition
	for _, def := range m.definitions {
		if def.Tenant != tenant || def.Key != key {
			continue
		}
		if latest == nil || def.Version > latest.Version {
			latest = def
		}
	}
	if latest == nil {
		return nil, automation.ErrDefinitionNotFound
	}
	cp := *latest
	return &cp, nil
}

// MatchDefinitions returns the latest version of every definition in the
// tenant bound to eventName, paused ones included.
func (m *Store) MatchDefinitions(_ context.Context, tenant, eventName string) ([]*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]*workflow.Definition)
	for _, def := range m.definitions {
		if def.Tenant != tenant || def.TriggerEvent != eventName {
			continue
		}
		if cur, ok := latest[def.Key]; !ok || def.Version > cur.Version {
			latest[def.Key] = def
		}
	}

	result := make([]*workflow.Definition, 0, len(latest))
	for _, def := range latest {
		cp := *def
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Key < result[k].Key
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Workflow Store — runs
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return automation.ErrDuplicateRun
	}
	cp := *run
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a run by ID within the tenant.
func (m *Store) GetRun(_ context.Context, tenant string, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok || r.Tenant != tenant {
		return nil, automation.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to an existing run. Terminal runs reject
// further transitions.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	cur, ok := m.runs[key]
	if !ok {
		return automation.ErrRunNotFound
	}
	if cur.Status.Terminal() {
		return automation.ErrInvalidState
	}
	cp := *run
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = &cp
	return nil
}

// ListRuns returns runs matching the filter, newest first.
func (m *Store) ListRuns(_ context.Context, filter workflow.RunFilter) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if !filter.Matches(r) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Workflow Store — step records
// ──────────────────────────────────────────────────

// AppendStep persists a new step audit record.
func (m *Store) AppendStep(_ context.Context, rec *workflow.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	key := rec.RunID.String()
	m.steps[key] = append(m.steps[key], &cp)
	return nil
}

// UpdateStep persists changes to an existing step record.
func (m *Store) UpdateStep(_ context.Context, rec *workflow.StepRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, cur := range m.steps[rec.RunID.String()] {
		if cur.ID == rec.ID {
			cp := *rec
			cp.UpdatedAt = time.Now().UTC()
			m.steps[rec.RunID.String()][i] = &cp
			return nil
		}
	}
	return automation.ErrStepNotFound
}

// ListSteps returns a run's step records in execution order.
func (m *Store) ListSteps(_ context.Context, tenant string, runID id.RunID) ([]*workflow.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok || r.Tenant != tenant {
		return nil, automation.ErrRunNotFound
	}

	recs := m.steps[runID.String()]
	result := make([]*workflow.StepRecord, len(recs))
	for i, rec := range recs {
		cp := *rec
		result[i] = &cp
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

func claimKey(tenant, workflowKey, correlationKey string) string {
	return tenant + "|" + workflowKey + "|" + correlationKey
}

// ClaimRun atomically claims the key tuple for the given run. The check
// and insert happen under one lock, so concurrent duplicates race for a
// single admission.
func (m *Store) ClaimRun(_ context.Context, claim *idem.Claim) (id.RunID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := claimKey(claim.Tenant, claim.WorkflowKey, claim.CorrelationKey)
	if cur, exists := m.claims[key]; exists {
		return cur.RunID, false, nil
	}
	cp := *claim
	m.claims[key] = &cp
	return claim.RunID, true, nil
}

// GetClaim retrieves the claim for a key tuple.
func (m *Store) GetClaim(_ context.Context, tenant, workflowKey, correlationKey string) (*idem.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.claims[claimKey(tenant, workflowKey, correlationKey)]
	if !ok {
		return nil, automation.ErrClaimNotFound
	}
	cp := *c
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events[evt.ID.String()] = &cp
	return nil
}

// SubscribeEvent waits for an unacked event matching the given name.
// Poll-based: loops with 10ms sleep until an event is available or timeout.
func (m *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		m.mu.RLock()
		for _, evt := range m.events {
			if evt.Name == name && !evt.Acked {
				cp := *evt
				m.mu.RUnlock()
				return &cp, nil
			}
		}
		m.mu.RUnlock()

		// Brief sleep to avoid busy-waiting.
		time.Sleep(10 * time.Millisecond)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return automation.ErrEventNotFound
	}
	evt.Acked = true
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed-run entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// GetDLQ retrieves an entry by ID within the tenant.
func (m *Store) GetDLQ(_ context.Context, tenant string, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok || e.Tenant != tenant {
		return nil, automation.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ListDLQ returns entries matching the given options, oldest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Tenant != "" && e.Tenant != opts.Tenant {
			continue
		}
		if opts.WorkflowKey != "" && e.WorkflowKey != opts.WorkflowKey {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// MarkReplayed stamps an entry as replayed.
func (m *Store) MarkReplayed(_ context.Context, tenant string, entryID id.DLQID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok || e.Tenant != tenant {
		return automation.ErrDLQNotFound
	}
	e.ReplayedAt = &at
	return nil
}

// PurgeDLQ removes the tenant's entries that failed before the given time.
func (m *Store) PurgeDLQ(_ context.Context, tenant string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.Tenant == tenant && e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the number of entries in the tenant's queue.
func (m *Store) CountDLQ(_ context.Context, tenant string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, e := range m.dlqs {
		if e.Tenant == tenant {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Trigger Store
// ──────────────────────────────────────────────────

// RegisterTrigger persists a new trigger entry. Duplicate names within a
// tenant are rejected.
func (m *Store) RegisterTrigger(_ context.Context, entry *trigger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.triggers {
		if e.Tenant == entry.Tenant && e.Name == entry.Name {
			return automation.ErrDuplicateTrigger
		}
	}
	cp := *entry
	m.triggers[entry.ID.String()] = &cp
	return nil
}

// GetTrigger retrieves a trigger entry by ID within the tenant.
func (m *Store) GetTrigger(_ context.Context, tenant string, entryID id.TriggerID) (*trigger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.triggers[entryID.String()]
	if !ok || e.Tenant != tenant {
		return nil, automation.ErrTriggerNotFound
	}
	cp := *e
	return &cp, nil
}

// ListTriggers returns trigger entries, oldest first. An empty tenant
// returns entries across all tenants.
func (m *Store) ListTriggers(_ context.Context, tenant string) ([]*trigger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*trigger.Entry, 0, len(m.triggers))
	for _, e := range m.triggers {
		if tenant != "" && e.Tenant != tenant {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// UpdateTrigger persists changes to an existing entry.
func (m *Store) UpdateTrigger(_ context.Context, entry *trigger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.triggers[key]; !ok {
		return automation.ErrTriggerNotFound
	}
	cp := *entry
	cp.UpdatedAt = time.Now().UTC()
	m.triggers[key] = &cp
	return nil
}

// DeleteTrigger removes a trigger entry by ID within the tenant.
func (m *Store) DeleteTrigger(_ context.Context, tenant string, entryID id.TriggerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	e, ok := m.triggers[key]
	if !ok || e.Tenant != tenant {
		return automation.ErrTriggerNotFound
	}
	delete(m.triggers, key)
	return nil
}
