// Package store defines the aggregate persistence interface. Each
// subsystem (workflow, idem, event, dlq, trigger) defines its own store
// interface; the composite Store composes them all. Backends: Postgres,
// Redis (claims and events), and Memory.
package store

import (
	"context"

	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/idem"
	"github.com/Nine-Minds/alga-psa-sub020/trigger"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem contracts.
type Store interface {
	workflow.Store
	idem.Store
	event.Store
	dlq.Store
	trigger.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
