// Package dlq captures failed runs as dead letters and replays their
// triggering events on demand.
package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// Submitter resubmits a dead letter's envelope for fresh execution.
// Satisfied by the engine; declared here to break the import cycle
// between dlq and engine.
type Submitter interface {
	Submit(ctx context.Context, tenant string, env event.Envelope) error
}

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store Store
}

// NewService creates a dead letter service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Push builds an Entry from a failed run, persists it, and returns it.
func (s *Service) Push(ctx context.Context, run *workflow.Run) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		Tenant:      run.Tenant,
		RunID:       run.ID,
		WorkflowKey: run.WorkflowKey,
		Version:     run.Version,
		Event:       run.Event,
		Error:       run.Error,
		FailedAt:    now,
		CreatedAt:   now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Replay resubmits an entry's envelope through the given submitter and
// marks the entry replayed. A replayed run passes back through matching
// and the idempotency guard like any fresh submission, so idempotent
// workflows keep their original correlation claim.
func (s *Service) Replay(ctx context.Context, sub Submitter, tenant string, entryID id.DLQID) error {
	entry, err := s.store.GetDLQ(ctx, tenant, entryID)
	if err != nil {
		return err
	}
	if err := sub.Submit(ctx, entry.Tenant, entry.Event); err != nil {
		return fmt.Errorf("replay dead letter %s: %w", entryID, err)
	}
	return s.store.MarkReplayed(ctx, tenant, entryID, time.Now().UTC())
}

// Store returns the underlying store for direct access to List, Get,
// Purge and Count.
func (s *Service) Store() Store {
	return s.store
}
