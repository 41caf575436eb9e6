// Copyright 2025 Certen Protocol

package storage

import (
	"context"

	"github.com/certen/cortex/pkg/errs"
)

// PrivacyEventRepository persists Privacy Shield detections for audit.
type PrivacyEventRepository struct {
	client *Client
}

// NewPrivacyEventRepository constructs a PrivacyEventRepository over client.
func NewPrivacyEventRepository(client *Client) *PrivacyEventRepository {
	return &PrivacyEventRepository{client: client}
}

// Record inserts a privacy event row.
func (r *PrivacyEventRepository) Record(ctx context.Context, e PrivacyEvent) error {
	_, err := r.client.ExecContext(ctx, `
		INSERT INTO privacy_events (tenant_id, fact_id, tier, detector, action)
		VALUES ($1,$2,$3,$4,$5)`,
		e.TenantID, e.FactID, e.Tier, e.Detector, e.Action,
	)
	if err != nil {
		return errs.New(errs.KindChainBreak, "failed to record privacy event", err)
	}
	return nil
}

// ListForTenant returns every recorded privacy event for tenantID, most
// recent first.
func (r *PrivacyEventRepository) ListForTenant(ctx context.Context, tenantID string, limit int) ([]PrivacyEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.client.QueryContext(ctx, `
		SELECT id, tenant_id, fact_id, tier, detector, action, created_at
		FROM privacy_events WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to list privacy events", err)
	}
	defer rows.Close()

	var events []PrivacyEvent
	for rows.Next() {
		var e PrivacyEvent
		if err := rows.Scan(&e.ID, &e.TenantID, &e.FactID, &e.Tier, &e.Detector, &e.Action, &e.CreatedAt); err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to scan privacy event row", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
