package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

const dlqColumns = `id, tenant, run_id, workflow_key, version, event, error, failed_at, replayed_at, created_at`

// PushDLQ adds a failed-run entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	env, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("automation/postgres: marshal dlq event: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO automation_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID.String(), entry.Tenant, entry.RunID.String(), entry.WorkflowKey,
		entry.Version, env, entry.Error, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves an entry by ID within the tenant.
func (s *Store) GetDLQ(ctx context.Context, tenant string, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+dlqColumns+`
		FROM automation_dlq
		WHERE id = $1 AND tenant = $2`,
		entryID.String(), tenant,
	)
	return scanDLQEntry(row)
}

// ListDLQ returns entries matching the given options, oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM automation_dlq WHERE tenant = $1`
	args := []any{opts.Tenant}

	if opts.WorkflowKey != "" {
		args = append(args, opts.WorkflowKey)
		query += fmt.Sprintf(" AND workflow_key = $%d", len(args))
	}

	query += " ORDER BY failed_at ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		entry, scanErr := scanDLQEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkReplayed stamps an entry as replayed.
func (s *Store) MarkReplayed(ctx context.Context, tenant string, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_dlq SET replayed_at = $3
		WHERE id = $1 AND tenant = $2`,
		entryID.String(), tenant, at,
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: mark replayed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes the tenant's entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, tenant string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM automation_dlq
		WHERE tenant = $1 AND failed_at < $2`,
		tenant, before,
	)
	if err != nil {
		return 0, fmt.Errorf("automation/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries in the tenant's queue.
func (s *Store) CountDLQ(ctx context.Context, tenant string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM automation_dlq WHERE tenant = $1`,
		tenant,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("automation/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQEntry(row rowScanner) (*dlq.Entry, error) {
	var (
		entry           dlq.Entry
		rawID, rawRunID string
		rawEnv          []byte
	)
	err := row.Scan(&rawID, &entry.Tenant, &rawRunID, &entry.WorkflowKey,
		&entry.Version, &rawEnv, &entry.Error, &entry.FailedAt,
		&entry.ReplayedAt, &entry.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, automation.ErrDLQNotFound
		}
		return nil, fmt.Errorf("automation/postgres: scan dlq entry: %w", err)
	}
	if entry.ID, err = id.ParseDLQID(rawID); err != nil {
		return nil, fmt.Errorf("automation/postgres: parse dlq id: %w", err)
	}
	if entry.RunID, err = id.ParseRunID(rawRunID); err != nil {
		return nil, fmt.Errorf("automation/postgres: parse dlq run id: %w", err)
	}
	var env event.Envelope
	if err = json.Unmarshal(rawEnv, &env); err != nil {
		return nil, fmt.Errorf("automation/postgres: unmarshal dlq event: %w", err)
	}
	entry.Event = env
	return &entry, nil
}
