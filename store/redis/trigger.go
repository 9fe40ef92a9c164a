package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/trigger"
)

type triggerEntity struct {
	ID        string         `msgpack:"id"`
	Tenant    string         `msgpack:"tenant"`
	Name      string         `msgpack:"name"`
	Schedule  string         `msgpack:"schedule"`
	Event     event.Envelope `msgpack:"event"`
	LastRunAt *time.Time     `msgpack:"last_run_at"`
	NextRunAt *time.Time     `msgpack:"next_run_at"`
	Enabled   bool           `msgpack:"enabled"`
	CreatedAt time.Time      `msgpack:"created_at"`
	UpdatedAt time.Time      `msgpack:"updated_at"`
}

func toTriggerEntity(e *trigger.Entry) *triggerEntity {
	return &triggerEntity{
		ID:        e.ID.String(),
		Tenant:    e.Tenant,
		Name:      e.Name,
		Schedule:  e.Schedule,
		Event:     e.Event,
		LastRunAt: e.LastRunAt,
		NextRunAt: e.NextRunAt,
		Enabled:   e.Enabled,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func fromTriggerEntity(e *triggerEntity) (*trigger.Entry, error) {
	eID, err := id.ParseTriggerID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse trigger id: %w", err)
	}

	return &trigger.Entry{
		Entity:    automation.Entity{CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt},
		ID:        eID,
		Tenant:    e.Tenant,
		Name:      e.Name,
		Schedule:  e.Schedule,
		Event:     e.Event,
		LastRunAt: e.LastRunAt,
		NextRunAt: e.NextRunAt,
		Enabled:   e.Enabled,
	}, nil
}

// RegisterTrigger persists a new trigger entry. Name uniqueness within
// the tenant rides HSetNX on the name map.
func (s *Store) RegisterTrigger(ctx context.Context, entry *trigger.Entry) error {
	eID := entry.ID.String()

	won, err := s.client.HSetNX(ctx, triggerNamesKey(entry.Tenant), entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("automation/redis: register trigger name: %w", err)
	}
	if !won {
		return automation.ErrDuplicateTrigger
	}

	data, err := encode(toTriggerEntity(entry))
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, schedTriggerKey(eID), data, 0)
	pipe.SAdd(ctx, triggerIDsKey, eID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: register trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger entry by ID within the tenant.
func (s *Store) GetTrigger(ctx context.Context, tenant string, entryID id.TriggerID) (*trigger.Entry, error) {
	var ent triggerEntity
	err := s.getBlob(ctx, schedTriggerKey(entryID.String()), &ent, automation.ErrTriggerNotFound)
	if err != nil {
		return nil, err
	}
	if ent.Tenant != tenant {
		return nil, automation.ErrTriggerNotFound
	}
	return fromTriggerEntity(&ent)
}

// ListTriggers returns trigger entries, oldest first. An empty tenant
// returns entries across all tenants.
func (s *Store) ListTriggers(ctx context.Context, tenant string) ([]*trigger.Entry, error) {
	ids, err := s.client.SMembers(ctx, triggerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: list triggers: %w", err)
	}

	var entries []*trigger.Entry
	for _, eID := range ids {
		var ent triggerEntity
		getErr := s.getBlob(ctx, schedTriggerKey(eID), &ent, automation.ErrTriggerNotFound)
		if getErr != nil {
			if errors.Is(getErr, automation.ErrTriggerNotFound) {
				continue
			}
			return nil, getErr
		}
		if tenant != "" && ent.Tenant != tenant {
			continue
		}
		entry, convErr := fromTriggerEntity(&ent)
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// UpdateTrigger persists changes to an existing entry.
func (s *Store) UpdateTrigger(ctx context.Context, entry *trigger.Entry) error {
	stored, err := s.GetTrigger(ctx, entry.Tenant, entry.ID)
	if err != nil {
		return err
	}

	// A rename must keep the name map consistent.
	if stored.Name != entry.Name {
		won, nxErr := s.client.HSetNX(ctx, triggerNamesKey(entry.Tenant), entry.Name, entry.ID.String()).Result()
		if nxErr != nil {
			return fmt.Errorf("automation/redis: update trigger name: %w", nxErr)
		}
		if !won {
			return automation.ErrDuplicateTrigger
		}
		if delErr := s.client.HDel(ctx, triggerNamesKey(entry.Tenant), stored.Name).Err(); delErr != nil {
			return fmt.Errorf("automation/redis: update trigger name: %w", delErr)
		}
	}

	return s.setBlob(ctx, schedTriggerKey(entry.ID.String()), toTriggerEntity(entry))
}

// DeleteTrigger removes a trigger entry by ID within the tenant.
func (s *Store) DeleteTrigger(ctx context.Context, tenant string, entryID id.TriggerID) error {
	entry, err := s.GetTrigger(ctx, tenant, entryID)
	if err != nil {
		return err
	}

	eID := entryID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, schedTriggerKey(eID))
	pipe.SRem(ctx, triggerIDsKey, eID)
	pipe.HDel(ctx, triggerNamesKey(tenant), entry.Name)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: delete trigger: %w", err)
	}
	return nil
}
