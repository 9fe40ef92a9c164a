package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/trigger"
)

const triggerColumns = `id, tenant, name, schedule, event, last_run_at, next_run_at, enabled, created_at, updated_at`

// RegisterTrigger persists a new trigger entry.
func (s *Store) RegisterTrigger(ctx context.Context, entry *trigger.Entry) error {
	env, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("automation/postgres: marshal trigger event: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO automation_triggers (`+triggerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID.String(), entry.Tenant, entry.Name, entry.Schedule, env,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return automation.ErrDuplicateTrigger
		}
		return fmt.Errorf("automation/postgres: register trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger entry by ID within the tenant.
func (s *Store) GetTrigger(ctx context.Context, tenant string, entryID id.TriggerID) (*trigger.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+triggerColumns+`
		FROM automation_triggers
		WHERE id = $1 AND tenant = $2`,
		entryID.String(), tenant,
	)
	return scanTrigger(row)
}

// ListTriggers returns trigger entries, oldest first. An empty tenant
// returns entries across all tenants.
func (s *Store) ListTriggers(ctx context.Context, tenant string) ([]*trigger.Entry, error) {
	query := `SELECT ` + triggerColumns + ` FROM automation_triggers`
	args := []any{}
	if tenant != "" {
		query += ` WHERE tenant = $1`
		args = append(args, tenant)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: list triggers: %w", err)
	}
	defer rows.Close()

	var entries []*trigger.Entry
	for rows.Next() {
		entry, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateTrigger persists changes to an existing entry.
func (s *Store) UpdateTrigger(ctx context.Context, entry *trigger.Entry) error {
	env, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("automation/postgres: marshal trigger event: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_triggers SET
			name = $3, schedule = $4, event = $5,
			last_run_at = $6, next_run_at = $7, enabled = $8, updated_at = NOW()
		WHERE id = $1 AND tenant = $2`,
		entry.ID.String(), entry.Tenant, entry.Name, entry.Schedule, env,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return automation.ErrDuplicateTrigger
		}
		return fmt.Errorf("automation/postgres: update trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrTriggerNotFound
	}
	return nil
}

// DeleteTrigger removes a trigger entry by ID within the tenant.
func (s *Store) DeleteTrigger(ctx context.Context, tenant string, entryID id.TriggerID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM automation_triggers
		WHERE id = $1 AND tenant = $2`,
		entryID.String(), tenant,
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: delete trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrTriggerNotFound
	}
	return nil
}

func scanTrigger(row rowScanner) (*trigger.Entry, error) {
	var (
		entry  trigger.Entry
		rawID  string
		rawEnv []byte
	)
	err := row.Scan(&rawID, &entry.Tenant, &entry.Name, &entry.Schedule, &rawEnv,
		&entry.LastRunAt, &entry.NextRunAt, &entry.Enabled,
		&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, automation.ErrTriggerNotFound
		}
		return nil, fmt.Errorf("automation/postgres: scan trigger: %w", err)
	}
	if entry.ID, err = id.ParseTriggerID(rawID); err != nil {
		return nil, fmt.Errorf("automation/postgres: parse trigger id: %w", err)
	}
	var env event.Envelope
	if err = json.Unmarshal(rawEnv, &env); err != nil {
		return nil, fmt.Errorf("automation/postgres: unmarshal trigger event: %w", err)
	}
	entry.Event = env
	return &entry, nil
}
