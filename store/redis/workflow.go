package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// ── msgpack models ──

type definitionEntity struct {
	ID           string          `msgpack:"id"`
	Tenant       string          `msgpack:"tenant"`
	Key          string          `msgpack:"key"`
	Version      int             `msgpack:"version"`
	TriggerEvent string          `msgpack:"trigger_event"`
	Enabled      bool            `msgpack:"enabled"`
	Idempotent   bool            `msgpack:"idempotent"`
	Root         []workflow.Step `msgpack:"root"`
	CreatedAt    time.Time       `msgpack:"created_at"`
	UpdatedAt    time.Time       `msgpack:"updated_at"`
}

func toDefinitionEntity(d *workflow.Definition) *definitionEntity {
	return &definitionEntity{
		ID:           d.ID.String(),
		Tenant:       d.Tenant,
		Key:          d.Key,
		Version:      d.Version,
		TriggerEvent: d.TriggerEvent,
		Enabled:      d.Enabled,
		Idempotent:   d.Idempotent,
		Root:         d.Root,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func fromDefinitionEntity(e *definitionEntity) (*workflow.Definition, error) {
	dID, err := id.ParseWorkflowID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse workflow id: %w", err)
	}

	return &workflow.Definition{
		Entity:       automation.Entity{CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt},
		ID:           dID,
		Tenant:       e.Tenant,
		Key:          e.Key,
		Version:      e.Version,
		TriggerEvent: e.TriggerEvent,
		Enabled:      e.Enabled,
		Idempotent:   e.Idempotent,
		Root:         e.Root,
	}, nil
}

type runEntity struct {
	ID             string         `msgpack:"id"`
	Tenant         string         `msgpack:"tenant"`
	WorkflowKey    string         `msgpack:"workflow_key"`
	Version        int            `msgpack:"version"`
	CorrelationKey string         `msgpack:"correlation_key"`
	Event          event.Envelope `msgpack:"event"`
	Status         string         `msgpack:"status"`
	Error          string         `msgpack:"error"`
	Outcome        string         `msgpack:"outcome"`
	ParentRunID    string         `msgpack:"parent_run_id"`
	StartedAt      *time.Time     `msgpack:"started_at"`
	EndedAt        *time.Time     `msgpack:"ended_at"`
	CreatedAt      time.Time      `msgpack:"created_at"`
	UpdatedAt      time.Time      `msgpack:"updated_at"`
}

func toRunEntity(r *workflow.Run) *runEntity {
	e := &runEntity{
		ID:             r.ID.String(),
		Tenant:         r.Tenant,
		WorkflowKey:    r.WorkflowKey,
		Version:        r.Version,
		CorrelationKey: r.CorrelationKey,
		Event:          r.Event,
		Status:         string(r.Status),
		Error:          r.Error,
		Outcome:        r.Outcome,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ParentRunID != nil {
		e.ParentRunID = r.ParentRunID.String()
	}
	return e
}

func fromRunEntity(e *runEntity) (*workflow.Run, error) {
	rID, err := id.ParseRunID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse run id: %w", err)
	}

	run := &workflow.Run{
		Entity:         automation.Entity{CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt},
		ID:             rID,
		Tenant:         e.Tenant,
		WorkflowKey:    e.WorkflowKey,
		Version:        e.Version,
		CorrelationKey: e.CorrelationKey,
		Event:          e.Event,
		Status:         workflow.Status(e.Status),
		Error:          e.Error,
		Outcome:        e.Outcome,
		StartedAt:      e.StartedAt,
		EndedAt:        e.EndedAt,
	}
	if e.ParentRunID != "" {
		pID, pErr := id.ParseRunID(e.ParentRunID)
		if pErr != nil {
			return nil, fmt.Errorf("automation/redis: parse parent run id: %w", pErr)
		}
		run.ParentRunID = &pID
	}
	return run, nil
}

type stepEntity struct {
	ID               string         `msgpack:"id"`
	RunID            string         `msgpack:"run_id"`
	DefinitionStepID string         `msgpack:"definition_step_id"`
	Kind             string         `msgpack:"kind"`
	Status           string         `msgpack:"status"`
	Input            map[string]any `msgpack:"input"`
	Output           map[string]any `msgpack:"output"`
	Error            string         `msgpack:"error"`
	StartedAt        time.Time      `msgpack:"started_at"`
	EndedAt          *time.Time     `msgpack:"ended_at"`
	CreatedAt        time.Time      `msgpack:"created_at"`
	UpdatedAt        time.Time      `msgpack:"updated_at"`
}

func toStepEntity(r *workflow.StepRecord) *stepEntity {
	return &stepEntity{
		ID:               r.ID.String(),
		RunID:            r.RunID.String(),
		DefinitionStepID: r.DefinitionStepID,
		Kind:             string(r.Kind),
		Status:           string(r.Status),
		Input:            r.Input,
		Output:           r.Output,
		Error:            r.Error,
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func fromStepEntity(e *stepEntity) (*workflow.StepRecord, error) {
	sID, err := id.ParseStepID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse step id: %w", err)
	}
	rID, err := id.ParseRunID(e.RunID)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse step run id: %w", err)
	}

	return &workflow.StepRecord{
		Entity:           automation.Entity{CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt},
		ID:               sID,
		RunID:            rID,
		DefinitionStepID: e.DefinitionStepID,
		Kind:             workflow.Kind(e.Kind),
		Status:           workflow.Status(e.Status),
		Input:            e.Input,
		Output:           e.Output,
		Error:            e.Error,
		StartedAt:        e.StartedAt,
		EndedAt:          e.EndedAt,
	}, nil
}

// ── Definitions ──

// PutDefinition persists a workflow definition version.
func (s *Store) PutDefinition(ctx context.Context, def *workflow.Definition, force bool) error {
	key := definitionKey(def.Tenant, def.Key, def.Version)

	if !force {
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("automation/redis: put definition exists: %w", err)
		}
		if exists > 0 {
			return automation.ErrVersionConflict
		}
	}

	data, err := encode(toDefinitionEntity(def))
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.ZAdd(ctx, definitionVersionsKey(def.Tenant, def.Key), goredis.Z{
		Score:  float64(def.Version),
		Member: strconv.Itoa(def.Version),
	})
	pipe.SAdd(ctx, triggerIndexKey(def.Tenant, def.TriggerEvent), def.Key)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: put definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a specific definition version.
func (s *Store) GetDefinition(ctx context.Context, tenant, key string, version int) (*workflow.Definition, error) {
	var ent definitionEntity
	err := s.getBlob(ctx, definitionKey(tenant, key, version), &ent, automation.ErrDefinitionNotFound)
	if err != nil {
		return nil, err
	}
	return fromDefinitionEntity(&ent)
}

// LatestDefinition retrieves the highest version stored for a key.
func (s *Store) LatestDefinition(ctx context.Context, tenant, key string) (*workflow.Definition, error) {
	versions, err := s.client.ZRevRange(ctx, definitionVersionsKey(tenant, key), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: latest definition: %w", err)
	}
	if len(versions) == 0 {
		return nil, automation.ErrDefinitionNotFound
	}
	version, err := strconv.Atoi(versions[0])
	if err != nil {
		return nil, fmt.Errorf("automation/redis: latest definition version: %w", err)
	}
	return s.GetDefinition(ctx, tenant, key, version)
}

// MatchDefinitions returns the latest version of every definition in the
// tenant bound to eventName, paused ones included.
func (s *Store) MatchDefinitions(ctx context.Context, tenant, eventName string) ([]*workflow.Definition, error) {
	keys, err := s.client.SMembers(ctx, triggerIndexKey(tenant, eventName)).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: match definitions: %w", err)
	}
	sort.Strings(keys)

	defs := make([]*workflow.Definition, 0, len(keys))
	for _, key := range keys {
		def, getErr := s.LatestDefinition(ctx, tenant, key)
		if getErr != nil {
			if errors.Is(getErr, automation.ErrDefinitionNotFound) {
				continue
			}
			return nil, getErr
		}
		// A newer version may have moved the key to another event.
		if def.TriggerEvent != eventName {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ── Runs ──

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	data, err := encode(toRunEntity(run))
	if err != nil {
		return err
	}

	rID := run.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(rID), data, 0)
	pipe.ZAdd(ctx, runsByTenantKey(run.Tenant), goredis.Z{
		Score:  float64(run.CreatedAt.UnixNano()),
		Member: rID,
	})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID within the tenant.
func (s *Store) GetRun(ctx context.Context, tenant string, runID id.RunID) (*workflow.Run, error) {
	var ent runEntity
	err := s.getBlob(ctx, runKey(runID.String()), &ent, automation.ErrRunNotFound)
	if err != nil {
		return nil, err
	}
	if ent.Tenant != tenant {
		return nil, automation.ErrRunNotFound
	}
	return fromRunEntity(&ent)
}

// UpdateRun persists changes to an existing run. Terminal runs reject
// further transitions.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	stored, err := s.GetRun(ctx, run.Tenant, run.ID)
	if err != nil {
		return err
	}
	if stored.Status.Terminal() {
		return automation.ErrInvalidState
	}
	return s.setBlob(ctx, runKey(run.ID.String()), toRunEntity(run))
}

// ListRuns returns runs matching the filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]*workflow.Run, error) {
	ids, err := s.client.ZRevRange(ctx, runsByTenantKey(filter.Tenant), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: list runs: %w", err)
	}

	var runs []*workflow.Run
	skipped := 0
	for _, rID := range ids {
		var ent runEntity
		getErr := s.getBlob(ctx, runKey(rID), &ent, automation.ErrRunNotFound)
		if getErr != nil {
			if errors.Is(getErr, automation.ErrRunNotFound) {
				continue
			}
			return nil, getErr
		}
		run, convErr := fromRunEntity(&ent)
		if convErr != nil {
			return nil, convErr
		}
		if !filter.Matches(run) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		runs = append(runs, run)
		if filter.Limit > 0 && len(runs) >= filter.Limit {
			break
		}
	}
	return runs, nil
}

// ── Step records ──

// AppendStep persists a new step audit record.
func (s *Store) AppendStep(ctx context.Context, rec *workflow.StepRecord) error {
	data, err := encode(toStepEntity(rec))
	if err != nil {
		return err
	}

	sID := rec.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, stepKey(sID), data, 0)
	pipe.RPush(ctx, stepsByRunKey(rec.RunID.String()), sID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: append step: %w", err)
	}
	return nil
}

// UpdateStep persists changes to an existing step record.
func (s *Store) UpdateStep(ctx context.Context, rec *workflow.StepRecord) error {
	key := stepKey(rec.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("automation/redis: update step exists: %w", err)
	}
	if exists == 0 {
		return automation.ErrStepNotFound
	}
	return s.setBlob(ctx, key, toStepEntity(rec))
}

// ListSteps returns a run's step records in execution order.
func (s *Store) ListSteps(ctx context.Context, tenant string, runID id.RunID) ([]*workflow.StepRecord, error) {
	// Resolve the run first so a wrong-tenant query reads as not found.
	if _, err := s.GetRun(ctx, tenant, runID); err != nil {
		return nil, err
	}

	ids, err := s.client.LRange(ctx, stepsByRunKey(runID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: list steps: %w", err)
	}

	recs := make([]*workflow.StepRecord, 0, len(ids))
	for _, sID := range ids {
		var ent stepEntity
		if getErr := s.getBlob(ctx, stepKey(sID), &ent, automation.ErrStepNotFound); getErr != nil {
			return nil, getErr
		}
		rec, convErr := fromStepEntity(&ent)
		if convErr != nil {
			return nil, convErr
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
