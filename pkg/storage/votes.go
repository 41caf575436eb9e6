// Copyright 2025 Certen Protocol

package storage

import (
	"context"

	"github.com/certen/cortex/pkg/errs"
)

// VoteRepository persists consensus votes. A vote is upsert-on-agent:
// a re-vote by the same agent on the same fact replaces the prior row.
type VoteRepository struct {
	client *Client
}

// NewVoteRepository constructs a VoteRepository over client.
func NewVoteRepository(client *Client) *VoteRepository {
	return &VoteRepository{client: client}
}

// CastVote upserts the vote row for (factID, agentID).
func (r *VoteRepository) CastVote(ctx context.Context, v Vote) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO consensus_votes (fact_id, tenant_id, agent_id, value, vote_weight, agent_rep_at_vote, decay_factor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (fact_id, agent_id) DO UPDATE SET
			value = EXCLUDED.value,
			vote_weight = EXCLUDED.vote_weight,
			agent_rep_at_vote = EXCLUDED.agent_rep_at_vote,
			decay_factor = EXCLUDED.decay_factor,
			created_at = EXCLUDED.created_at`,
		v.FactID, v.TenantID, v.AgentID, v.Value, v.VoteWeight, v.AgentRepAtVote, v.DecayFactor, v.CreatedAt,
	)
	if err != nil {
		return errs.New(errs.KindChainBreak, "failed to cast vote", err)
	}
	return nil
}

// ListForFact returns every vote on factID, tenant-scoped.
func (r *VoteRepository) ListForFact(ctx context.Context, tenantID string, factID int64) ([]Vote, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT fact_id, tenant_id, agent_id, value, vote_weight, agent_rep_at_vote, decay_factor, created_at
		FROM consensus_votes WHERE tenant_id = $1 AND fact_id = $2`,
		tenantID, factID,
	)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to list votes", err)
	}
	defer rows.Close()

	var votes []Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.FactID, &v.TenantID, &v.AgentID, &v.Value, &v.VoteWeight, &v.AgentRepAtVote, &v.DecayFactor, &v.CreatedAt); err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to scan vote row", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}
