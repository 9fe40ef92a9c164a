package redis

import (
	"context"
	"fmt"
	"time"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/idem"
)

type claimEntity struct {
	RunID     string    `msgpack:"run_id"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// ClaimRun atomically claims the key tuple for claim.RunID using SET NX,
// so admission is decided by a single Redis command.
func (s *Store) ClaimRun(ctx context.Context, claim *idem.Claim) (existing id.RunID, admitted bool, err error) {
	key := claimKey(claim.Tenant, claim.WorkflowKey, claim.CorrelationKey)

	data, err := encode(&claimEntity{
		RunID:     claim.RunID.String(),
		CreatedAt: claim.CreatedAt,
	})
	if err != nil {
		return id.Nil, false, err
	}

	won, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return id.Nil, false, fmt.Errorf("automation/redis: claim run: %w", err)
	}
	if won {
		return claim.RunID, true, nil
	}

	var ent claimEntity
	if err = s.getBlob(ctx, key, &ent, automation.ErrClaimNotFound); err != nil {
		return id.Nil, false, err
	}
	if existing, err = id.ParseRunID(ent.RunID); err != nil {
		return id.Nil, false, fmt.Errorf("automation/redis: parse claim run id: %w", err)
	}
	return existing, false, nil
}

// GetClaim retrieves the claim for a key tuple.
func (s *Store) GetClaim(ctx context.Context, tenant, workflowKey, correlationKey string) (*idem.Claim, error) {
	var ent claimEntity
	err := s.getBlob(ctx, claimKey(tenant, workflowKey, correlationKey), &ent, automation.ErrClaimNotFound)
	if err != nil {
		return nil, err
	}

	runID, err := id.ParseRunID(ent.RunID)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: parse claim run id: %w", err)
	}
	return &idem.Claim{
		Tenant:         tenant,
		WorkflowKey:    workflowKey,
		CorrelationKey: correlationKey,
		RunID:          runID,
		CreatedAt:      ent.CreatedAt,
	}, nil
}
