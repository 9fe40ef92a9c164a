package postgres

import (
	"context"
	"fmt"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/idem"
)

// ClaimRun atomically claims the key tuple for claim.RunID. The insert
// and the losing-path read are two statements; ON CONFLICT DO NOTHING
// makes the insert itself the only admission decision, so concurrent
// claimants cannot both win.
func (s *Store) ClaimRun(ctx context.Context, claim *idem.Claim) (existing id.RunID, admitted bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO automation_claims (tenant, workflow_key, correlation_key, run_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant, workflow_key, correlation_key) DO NOTHING`,
		claim.Tenant, claim.WorkflowKey, claim.CorrelationKey,
		claim.RunID.String(), claim.CreatedAt,
	)
	if err != nil {
		return id.Nil, false, fmt.Errorf("automation/postgres: claim run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return claim.RunID, true, nil
	}

	var holder string
	err = s.pool.QueryRow(ctx, `
		SELECT run_id FROM automation_claims
		WHERE tenant = $1 AND workflow_key = $2 AND correlation_key = $3`,
		claim.Tenant, claim.WorkflowKey, claim.CorrelationKey,
	).Scan(&holder)
	if err != nil {
		return id.Nil, false, fmt.Errorf("automation/postgres: read claim holder: %w", err)
	}
	if existing, err = id.ParseRunID(holder); err != nil {
		return id.Nil, false, fmt.Errorf("automation/postgres: parse claim run id: %w", err)
	}
	return existing, false, nil
}

// GetClaim retrieves the claim for a key tuple.
func (s *Store) GetClaim(ctx context.Context, tenant, workflowKey, correlationKey string) (*idem.Claim, error) {
	claim := &idem.Claim{
		Tenant:         tenant,
		WorkflowKey:    workflowKey,
		CorrelationKey: correlationKey,
	}

	var rawRunID string
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, created_at FROM automation_claims
		WHERE tenant = $1 AND workflow_key = $2 AND correlation_key = $3`,
		tenant, workflowKey, correlationKey,
	).Scan(&rawRunID, &claim.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, automation.ErrClaimNotFound
		}
		return nil, fmt.Errorf("automation/postgres: get claim: %w", err)
	}
	if claim.RunID, err = id.ParseRunID(rawRunID); err != nil {
		return nil, fmt.Errorf("automation/postgres: parse claim run id: %w", err)
	}
	return claim, nil
}
