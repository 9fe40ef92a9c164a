package trigger

import (
	"context"

	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Store defines the persistence contract for scheduled triggers.
type Store interface {
	// RegisterTrigger persists a new trigger entry. A name already in use
	// within the tenant fails with ErrDuplicateTrigger.
	RegisterTrigger(ctx context.Context, entry *Entry) error

	// GetTrigger retrieves a trigger entry by ID within the tenant.
	GetTrigger(ctx context.Context, tenant string, entryID id.TriggerID) (*Entry, error)

	// ListTriggers returns trigger entries, oldest first. An empty tenant
	// returns entries across all tenants; the scheduler relies on this.
	ListTriggers(ctx context.Context, tenant string) ([]*Entry, error)

	// UpdateTrigger persists changes to an existing entry.
	UpdateTrigger(ctx context.Context, entry *Entry) error

	// DeleteTrigger removes a trigger entry by ID within the tenant.
	DeleteTrigger(ctx context.Context, tenant string, entryID id.TriggerID) error
}
