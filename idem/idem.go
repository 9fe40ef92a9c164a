// Package idem implements the idempotency guard: at most one run is
// admitted per (tenant, workflowKey, correlationKey) tuple. Admission is
// a single atomic conditional claim, never a read-then-write.
package idem

import (
	"context"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/id"
)

// Claim records which run holds the admission for a key tuple.
type Claim struct {
	Tenant         string    `json:"tenant"`
	WorkflowKey    string    `json:"workflowKey"`
	CorrelationKey string    `json:"correlationKey"`
	RunID          id.RunID  `json:"runId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store defines the persistence contract for idempotency claims.
type Store interface {
	// ClaimRun atomically claims the (tenant, workflowKey,
	// correlationKey) tuple for the given claim's run. Existing always
	// names the run holding the claim: the claim's own run when admitted,
	// the prior holder when not; losing leaves the store unchanged.
	ClaimRun(ctx context.Context, claim *Claim) (existing id.RunID, admitted bool, err error)

	// GetClaim retrieves the claim for a key tuple.
	GetClaim(ctx context.Context, tenant, workflowKey, correlationKey string) (*Claim, error)
}

// Guard decides run admission for idempotent workflows.
type Guard struct {
	store Store
}

// NewGuard creates an idempotency guard backed by the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Admit attempts to claim (tenant, workflowKey, correlationKey) for
// runID. When a prior run already holds the claim, admitted is false and
// existing identifies it; callers must not create a new run.
func (g *Guard) Admit(ctx context.Context, tenant, workflowKey, correlationKey string, runID id.RunID) (existing id.RunID, admitted bool, err error) {
	return g.store.ClaimRun(ctx, &Claim{
		Tenant:         tenant,
		WorkflowKey:    workflowKey,
		CorrelationKey: correlationKey,
		RunID:          runID,
		CreatedAt:      time.Now().UTC(),
	})
}
