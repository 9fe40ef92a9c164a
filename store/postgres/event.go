package postgres

import (
	"context"
	"fmt"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// subscribePollInterval is how often SubscribeEvent re-queries for a
// matching unacked event.
const subscribePollInterval = 100 * time.Millisecond

// PublishEvent persists a new bus event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO automation_events (id, tenant, name, correlation_key, payload, acked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evt.ID.String(), evt.Tenant, evt.Name, evt.CorrelationKey,
		evt.Payload, evt.Acked, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: publish event: %w", err)
	}
	return nil
}

// SubscribeEvent polls for the oldest unacked event with the given name.
// Returns nil when the timeout expires without a match.
func (s *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		evt, err := s.oldestUnacked(ctx, name)
		if err != nil {
			return nil, err
		}
		if evt != nil {
			return evt, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := subscribePollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Store) oldestUnacked(ctx context.Context, name string) (*event.Event, error) {
	var (
		evt   event.Event
		rawID string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant, name, correlation_key, payload, acked, created_at
		FROM automation_events
		WHERE name = $1 AND NOT acked
		ORDER BY created_at ASC
		LIMIT 1`,
		name,
	).Scan(&rawID, &evt.Tenant, &evt.Name, &evt.CorrelationKey,
		&evt.Payload, &evt.Acked, &evt.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("automation/postgres: poll events: %w", err)
	}
	if evt.ID, err = id.ParseEventID(rawID); err != nil {
		return nil, fmt.Errorf("automation/postgres: parse event id: %w", err)
	}
	return &evt, nil
}

// AckEvent marks an event as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE automation_events SET acked = TRUE WHERE id = $1`,
		eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("automation/postgres: ack event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrEventNotFound
	}
	return nil
}
