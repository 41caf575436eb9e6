// Copyright 2025 Certen Protocol

package engine

import (
	"context"
	"encoding/json"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/queue"
	"github.com/certen/cortex/pkg/storage"
)

const (
	mutationCreate    = "CREATE"
	mutationDeprecate = "DEPRECATE"
)

// deprecatePayload is the wire shape of a DEPRECATE mutation's queue
// payload.
type deprecatePayload struct {
	TenantID       string             `json:"tenant_id"`
	FactID         int64              `json:"fact_id"`
	Reason         string             `json:"reason"`
	SuccessorDraft *storage.FactDraft `json:"successor_draft,omitempty"`
}

// ledgerCommitter is the Writer Queue's Committer: it applies a
// dispatched Mutation to the L3 Event Ledger. One instance is shared
// across every tenant's committer goroutine; the queue guarantees it is
// never called concurrently for the same tenant.
type ledgerCommitter struct {
	ledger *storage.LedgerRepository
}

func (c *ledgerCommitter) Commit(ctx context.Context, m queue.Mutation) (interface{}, error) {
	switch m.Kind {
	case mutationCreate:
		var draft storage.FactDraft
		if err := json.Unmarshal(m.Payload, &draft); err != nil {
			return nil, errs.New(errs.KindEncoding, "failed to decode CREATE mutation payload", err)
		}
		factID, err := c.ledger.StoreFact(ctx, draft)
		if err != nil {
			return nil, err
		}
		return factID, nil

	case mutationDeprecate:
		var p deprecatePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return nil, errs.New(errs.KindEncoding, "failed to decode DEPRECATE mutation payload", err)
		}
		successorID, err := c.ledger.DeprecateFact(ctx, p.TenantID, p.FactID, p.Reason, p.SuccessorDraft)
		if err != nil {
			return nil, err
		}
		return successorID, nil

	default:
		return nil, errs.New(errs.KindEncoding, "unknown mutation kind: "+m.Kind, nil)
	}
}
