package dlq

import (
	"context"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// ListOpts controls pagination for dead letter queries.
type ListOpts struct {
	// Tenant scopes the query; required for all callers.
	Tenant string
	// WorkflowKey filters by workflow key. Empty means all workflows.
	WorkflowKey string
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds a failed-run entry to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// GetDLQ retrieves an entry by ID within the tenant.
	GetDLQ(ctx context.Context, tenant string, entryID id.DLQID) (*Entry, error)

	// ListDLQ returns entries matching the given options, oldest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// MarkReplayed stamps an entry as replayed.
	MarkReplayed(ctx context.Context, tenant string, entryID id.DLQID, at time.Time) error

	// PurgeDLQ removes the tenant's entries that failed before the given
	// time and returns how many were removed.
	PurgeDLQ(ctx context.Context, tenant string, before time.Time) (int64, error)

	// CountDLQ returns the number of entries in the tenant's queue.
	CountDLQ(ctx context.Context, tenant string) (int64, error)
}
