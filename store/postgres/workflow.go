package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

const definitionColumns = `id, tenant, key, version, trigger_event, enabled, idempotent, root, created_at, updated_at`

// PutDefinition persists a workflow definition version.
func (s *Store) PutDefinition(ctx context.Context, def *workflow.Definition, force bool) error {
	root, err := json.Marshal(def.Root)
	if err != nil {
		return fmt.Errorf("automation/postgres: marshal definition root: %w", err)
	}

	query := `
		INSERT INTO automation_workflows (` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if force {
		query += `
		ON CONFLICT (tenant, key, version) DO UPDATE SET
			id = EXCLUDED.id,
			trigger_event = EXCLUDED.trigger_event,
			enabled = EXCLUDED.enabled,
			idempotent = EXCLUDED.idempotent,
			root = EXCLUDED.root,
			updated_at = NOW()`
	}

	_, err = s.pool.Exec(ctx, query,
		def.ID.String(), def.Tenant, def.Key, def.Version, def.TriggerEvent,
		def.Enabled, def.Idempotent, root, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return automation.ErrVersionConflict
		}
		return fmt.Errorf("automation/postgres: put definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a specific definition version.
func (s *Store) GetDefinition(ctx context.Context, tenant, key string, version int) (*workflow.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM automation_workflows
		WHERE tenant = $1 AND key = $2 AND version = $3`,
		tenant, key, version,
	)
	return scanDefinition(row)
}

// LatestDefinition retrieves the highest version stored for a key.
func (s *Store) LatestDefinition(ctx context.Context, tenant, key string) (*workflow.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM automation_workflows
		WHERE tenant = $1 AND key = $2
		ORDER BY version DESC
		LIMIT 1`,
		tenant, key,
	)
	return scanDefinition(row)
}

// MatchDefinitions returns the latest version of every definition in the
// tenant bound to eventName, paused ones included.
func (s *Store) MatchDefinitions(ctx context.Context, tenant, eventName string) ([]*workflow.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (key) `+definitionColumns+`
		FROM automation_workflows
		WHERE tenant = $1 AND trigger_event = $2
		ORDER BY key, version DESC`,
		tenant, eventName,
	)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: match definitions: %w", err)
	}
	defer rows.Close()

	var defs []*workflow.Definition
	for rows.Next() {
		def, scanErr := scanDefinition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*workflow.Definition, error) {
	var (
		def     workflow.Definition
		rawID   string
		rawRoot []byte
	)
	err := row.Scan(&rawID, &def.Tenant, &def.Key, &def.Version, &def.TriggerEvent,
		&def.Enabled, &def.Idempotent, &rawRoot, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, automation.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("automation/postgres: scan definition: %w", err)
	}
	if def.ID, err = id.ParseWorkflowID(rawID); err != nil {
		return nil, fmt.Errorf("automation/postgres: parse workflow id: %w", err)
	}
	if err = json.Unmarshal(rawRoot, &def.Root); err != nil {
		return nil, fmt.Errorf("automation/postgres: unmarshal definition root: %w", err)
	}
	return &def, nil
}

const runColumns = `id, tenant, workflow_key, version, correlation_key, event, status,
	error, outcome, parent_run_id, started_at, ended_at, created_at, updated_at`

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	env, err := json.Marshal(run.Event)
	if err != nil {
		return fmt.Errorf("automation/postgres: marshal run event: %w", err)
	}

	var parent *string
	if run.ParentRunID != nil {
		p := run.ParentRunID.String()
		parent = &p
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO automation_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		run.ID.String(), run.Tenant, run.WorkflowKey, run.Version, run.CorrelationKey,
		env, string(run.Status), run.Error, run.Outcome, parent,
		run.StartedAt, run.EndedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return automation.ErrDuplicateRun
		}
		return fmt.Errorf("automation/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID within the tenant.
func (s *Store) GetRun(ctx context.Context, tenant string, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM automation_runs
		WHERE id = $1 AND tenant = $2`,
		runID.String(), tenant,
	)
	return scanRun(row)
}

// UpdateRun persists changes to an existing run. Terminal runs reject
// further transitions.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	env, err := json.Marshal(run.Event)
	if err != nil {
		return fmt.Errorf("automation/postgres: marshal run event: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_runs SET
			status = $2, error = $3, outcome = $4, event = $5,
			started_at = $6, ended_at = $7, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('SUCCEEDED', 'FAILED')`,
		run.ID.String(), string(run.Status), run.Error, run.Outcome, env,
		run.StartedAt, run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if qErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM automation_runs WHERE id = $1)`,
			run.ID.String(),
		).Scan(&exists); qErr != nil {
			return fmt.Errorf("automation/postgres: update run: %w", qErr)
		}
		if exists {
			return automation.ErrInvalidState
		}
		return automation.ErrRunNotFound
	}
	return nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter workflow.RunFilter) ([]*workflow.Run, error) {
	query := `SELECT ` + runColumns + ` FROM automation_runs WHERE tenant = $1`
	args := []any{filter.Tenant}

	if filter.WorkflowKey != "" {
		args = append(args, filter.WorkflowKey)
		query += fmt.Sprintf(" AND workflow_key = $%d", len(args))
	}
	if filter.CorrelationKey != "" {
		args = append(args, filter.CorrelationKey)
		query += fmt.Sprintf(" AND correlation_key = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.StartedAfter.IsZero() {
		args = append(args, filter.StartedAfter)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*workflow.Run, error) {
	var (
		run    workflow.Run
		rawID  string
		rawEnv []byte
		status string
		parent *string
	)
	err := row.Scan(&rawID, &run.Tenant, &run.WorkflowKey, &run.Version, &run.CorrelationKey,
		&rawEnv, &status, &run.Error, &run.Outcome, &parent,
		&run.StartedAt, &run.EndedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, automation.ErrRunNotFound
		}
		return nil, fmt.Errorf("automation/postgres: scan run: %w", err)
	}
	if run.ID, err = id.ParseRunID(rawID); err != nil {
		return nil, fmt.Errorf("automation/postgres: parse run id: %w", err)
	}
	run.Status = workflow.Status(status)
	var env event.Envelope
	if err = json.Unmarshal(rawEnv, &env); err != nil {
		return nil, fmt.Errorf("automation/postgres: unmarshal run event: %w", err)
	}
	run.Event = env
	if parent != nil {
		pid, pErr := id.ParseRunID(*parent)
		if pErr != nil {
			return nil, fmt.Errorf("automation/postgres: parse parent run id: %w", pErr)
		}
		run.ParentRunID = &pid
	}
	return &run, nil
}

// AppendStep persists a new step audit record.
func (s *Store) AppendStep(ctx context.Context, rec *workflow.StepRecord) error {
	input, output, err := marshalStepIO(rec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO automation_steps
			(id, run_id, definition_step_id, kind, status, input, output, error,
			 started_at, ended_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID.String(), rec.RunID.String(), rec.DefinitionStepID, string(rec.Kind),
		string(rec.Status), input, output, rec.Error,
		rec.StartedAt, rec.EndedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: append step: %w", err)
	}
	return nil
}

// UpdateStep persists changes to an existing step record.
func (s *Store) UpdateStep(ctx context.Context, rec *workflow.StepRecord) error {
	input, output, err := marshalStepIO(rec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_steps SET
			status = $2, input = $3, output = $4, error = $5,
			ended_at = $6, updated_at = NOW()
		WHERE id = $1`,
		rec.ID.String(), string(rec.Status), input, output, rec.Error, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrStepNotFound
	}
	return nil
}

// ListSteps returns a run's step records in execution order.
func (s *Store) ListSteps(ctx context.Context, tenant string, runID id.RunID) ([]*workflow.StepRecord, error) {
	// Resolve the run first so a wrong-tenant query reads as not found.
	if _, err := s.GetRun(ctx, tenant, runID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, definition_step_id, kind, status, input, output, error,
		       started_at, ended_at, created_at, updated_at
		FROM automation_steps
		WHERE run_id = $1
		ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: list steps: %w", err)
	}
	defer rows.Close()

	var recs []*workflow.StepRecord
	for rows.Next() {
		var (
			rec               workflow.StepRecord
			rawID, rawRunID   string
			kind, status      string
			rawIn, rawOut     []byte
		)
		err = rows.Scan(&rawID, &rawRunID, &rec.DefinitionStepID, &kind, &status,
			&rawIn, &rawOut, &rec.Error, &rec.StartedAt, &rec.EndedAt,
			&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("automation/postgres: scan step: %w", err)
		}
		if rec.ID, err = id.ParseStepID(rawID); err != nil {
			return nil, fmt.Errorf("automation/postgres: parse step id: %w", err)
		}
		if rec.RunID, err = id.ParseRunID(rawRunID); err != nil {
			return nil, fmt.Errorf("automation/postgres: parse step run id: %w", err)
		}
		rec.Kind = workflow.Kind(kind)
		rec.Status = workflow.Status(status)
		if len(rawIn) > 0 {
			if err = json.Unmarshal(rawIn, &rec.Input); err != nil {
				return nil, fmt.Errorf("automation/postgres: unmarshal step input: %w", err)
			}
		}
		if len(rawOut) > 0 {
			if err = json.Unmarshal(rawOut, &rec.Output); err != nil {
				return nil, fmt.Errorf("automation/postgres: unmarshal step output: %w", err)
			}
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func marshalStepIO(rec *workflow.StepRecord) (input, output []byte, err error) {
	if rec.Input != nil {
		if input, err = json.Marshal(rec.Input); err != nil {
			return nil, nil, fmt.Errorf("automation/postgres: marshal step input: %w", err)
		}
	}
	if rec.Output != nil {
		if output, err = json.Marshal(rec.Output); err != nil {
			return nil, nil, fmt.Errorf("automation/postgres: marshal step output: %w", err)
		}
	}
	return input, output, nil
}
