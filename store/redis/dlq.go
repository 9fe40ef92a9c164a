package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

type dlqEntity struct {
	ID          string         `msgpack:"id"`
	Tenant      string         `msgpack:"tenant"`
	RunID       string         `msgpack:"run_id"`
	WorkflowKey string         `msgpack:"workflow_key"`
	Version     int            `msgpack:"version"`
	Event       event.Envelope `msgpack:"event"`
	Error       string         `msgpack:"error"`
	FailedAt    time.Time      `msgpack:"failed_at"`
	ReplayedAt  *time.Time     `msgpack:"replayed_at"`
	CreatedAt   time.Time      `msgpack:"created_at"`
}

func toDLQEntity(e *dlq.Entry) *dlqEntity {
	return &dlqEntity{
		ID:          e.ID.String(),
		Tenant:      e.Tenant,
		RunID:       e.RunID.String(),
		WorkflowKey: e.WorkflowKey,
		Version:     e.Version,
		Event:       e.Event,
		Error:       e.Error,
		FailedAt:    e.FailedAt,
		ReplayedAt:  e.ReplayedAt,
		CreatedAt:   e.CreatedAt,
	}
}

func fromDLQEntity(e *dlqEntity) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse dlq id: %w", err)
	}
	rID, err := id.ParseRunID(e.RunID)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse dlq run id: %w", err)
	}

	return &dlq.Entry{
		ID:          eID,
		Tenant:      e.Tenant,
		RunID:       rID,
		WorkflowKey: e.WorkflowKey,
		Version:     e.Version,
		Event:       e.Event,
		Error:       e.Error,
		FailedAt:    e.FailedAt,
		ReplayedAt:  e.ReplayedAt,
		CreatedAt:   e.CreatedAt,
	}, nil
}

// PushDLQ adds a failed-run entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	data, err := encode(toDLQEntity(entry))
	if err != nil {
		return err
	}

	eID := entry.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqKey(eID), data, 0)
	pipe.ZAdd(ctx, dlqByTenantKey(entry.Tenant), goredis.Z{
		Score:  float64(entry.FailedAt.UnixNano()),
		Member: eID,
	})
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves an entry by ID within the tenant.
func (s *Store) GetDLQ(ctx context.Context, tenant string, entryID id.DLQID) (*dlq.Entry, error) {
	var ent dlqEntity
	err := s.getBlob(ctx, dlqKey(entryID.String()), &ent, automation.ErrDLQNotFound)
	if err != nil {
		return nil, err
	}
	if ent.Tenant != tenant {
		return nil, automation.ErrDLQNotFound
	}
	return fromDLQEntity(&ent)
}

// ListDLQ returns entries matching the given options, oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRange(ctx, dlqByTenantKey(opts.Tenant), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: list dlq: %w", err)
	}

	var entries []*dlq.Entry
	skipped := 0
	for _, eID := range ids {
		var ent dlqEntity
		getErr := s.getBlob(ctx, dlqKey(eID), &ent, automation.ErrDLQNotFound)
		if getErr != nil {
			if errors.Is(getErr, automation.ErrDLQNotFound) {
				continue
			}
			return nil, getErr
		}
		if opts.WorkflowKey != "" && ent.WorkflowKey != opts.WorkflowKey {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		entry, convErr := fromDLQEntity(&ent)
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, entry)
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
	}
	return entries, nil
}

// MarkReplayed stamps an entry as replayed.
func (s *Store) MarkReplayed(ctx context.Context, tenant string, entryID id.DLQID, at time.Time) error {
	entry, err := s.GetDLQ(ctx, tenant, entryID)
	if err != nil {
		return err
	}
	entry.ReplayedAt = &at
	return s.setBlob(ctx, dlqKey(entryID.String()), toDLQEntity(entry))
}

// PurgeDLQ removes the tenant's entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, tenant string, before time.Time) (int64, error) {
	zkey := dlqByTenantKey(tenant)
	max := strconv.FormatInt(before.UnixNano()-1, 10)

	ids, err := s.client.ZRangeByScore(ctx, zkey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("automation/redis: purge dlq range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, dlqKey(eID))
	}
	pipe.ZRemRangeByScore(ctx, zkey, "-inf", max)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("automation/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the number of entries in the tenant's queue.
func (s *Store) CountDLQ(ctx context.Context, tenant string) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqByTenantKey(tenant)).Result()
	if err != nil {
		return 0, fmt.Errorf("automation/redis: count dlq: %w", err)
	}
	return n, nil
}
