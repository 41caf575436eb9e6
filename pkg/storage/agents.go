// Copyright 2025 Certen Protocol

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/certen/cortex/pkg/errs"
)

// AgentRepository persists Consensus Engine participants.
type AgentRepository struct {
	client *Client
}

// NewAgentRepository constructs an AgentRepository over client.
func NewAgentRepository(client *Client) *AgentRepository {
	return &AgentRepository{client: client}
}

// Register inserts a new agent at the default initial reputation of
// 0.5, or returns the existing row if id is already registered for
// tenantID.
func (r *AgentRepository) Register(ctx context.Context, tenantID, id, publicKeyFingerprint string) (*Agent, error) {
	var a Agent
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO agents (id, tenant_id, public_key_fingerprint, reputation_score, total_votes, successful_votes, is_active)
		VALUES ($1,$2,$3,0.5,0,0,true)
		ON CONFLICT (id) DO UPDATE SET public_key_fingerprint = EXCLUDED.public_key_fingerprint
		RETURNING id, tenant_id, public_key_fingerprint, reputation_score, total_votes, successful_votes, last_active_at, is_active`,
		id, tenantID, publicKeyFingerprint,
	).Scan(&a.ID, &a.TenantID, &a.PublicKeyFingerprint, &a.ReputationScore, &a.TotalVotes, &a.SuccessfulVotes, &a.LastActiveAt, &a.IsActive)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to register agent", err)
	}
	return &a, nil
}

// Get returns the agent with id, tenant-scoped.
func (r *AgentRepository) Get(ctx context.Context, tenantID, id string) (*Agent, error) {
	var a Agent
	err := r.client.QueryRowContext(ctx, `
		SELECT id, tenant_id, public_key_fingerprint, reputation_score, total_votes, successful_votes, last_active_at, is_active
		FROM agents WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&a.ID, &a.TenantID, &a.PublicKeyFingerprint, &a.ReputationScore, &a.TotalVotes, &a.SuccessfulVotes, &a.LastActiveAt, &a.IsActive)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("agent %q not found", id), ErrAgentNotFound)
	}
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to read agent", err)
	}
	return &a, nil
}

// UpdateReputation applies the EMA-updated reputation score and bumps
// the vote counters; successfulVote marks whether this agent's vote
// matched the outcome that triggered the update.
func (r *AgentRepository) UpdateReputation(ctx context.Context, tenantID, id string, newScore float64, successfulVote bool) error {
	successDelta := 0
	if successfulVote {
		successDelta = 1
	}
	res, err := r.client.ExecContext(ctx, `
		UPDATE agents
		SET reputation_score = $1,
		    total_votes = total_votes + 1,
		    successful_votes = successful_votes + $2,
		    last_active_at = $3
		WHERE id = $4 AND tenant_id = $5`,
		newScore, successDelta, time.Now().UTC(), id, tenantID,
	)
	if err != nil {
		return errs.New(errs.KindChainBreak, "failed to update agent reputation", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindNotFound, fmt.Sprintf("agent %q not found", id), ErrAgentNotFound)
	}
	return nil
}

// ListActive returns every active agent for tenantID, ordered by
// reputation_score descending — the ordering the Elder Council
// fallback needs to pick its top three.
func (r *AgentRepository) ListActive(ctx context.Context, tenantID string) ([]Agent, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT id, tenant_id, public_key_fingerprint, reputation_score, total_votes, successful_votes, last_active_at, is_active
		FROM agents WHERE tenant_id = $1 AND is_active = true
		ORDER BY reputation_score DESC`,
		tenantID,
	)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to list active agents", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.TenantID, &a.PublicKeyFingerprint, &a.ReputationScore, &a.TotalVotes, &a.SuccessfulVotes, &a.LastActiveAt, &a.IsActive); err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to scan agent row", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
