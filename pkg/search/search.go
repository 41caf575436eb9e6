// Copyright 2025 Certen Protocol

package search

import (
	"context"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/vectorstore"
)

// VectorSearcher is the vector channel's interface. *vectorstore.Store
// satisfies it.
type VectorSearcher interface {
	Search(ctx context.Context, tenantID string, query []float64, k int) ([]vectorstore.Match, error)
}

// HybridSearch fuses a full-text channel and a vector channel by
// Reciprocal Rank Fusion.
type HybridSearch struct {
	text        TextSearcher
	vector      VectorSearcher
	rrfConstant int
	maxResults  int
}

// New constructs a HybridSearch. rrfConstant is RRF's k (spec default
// 60); maxResults caps the final fused result count (spec default 50).
func New(text TextSearcher, vector VectorSearcher, rrfConstant, maxResults int) *HybridSearch {
	if rrfConstant <= 0 {
		rrfConstant = 60
	}
	if maxResults <= 0 {
		maxResults = 50
	}
	return &HybridSearch{text: text, vector: vector, rrfConstant: rrfConstant, maxResults: maxResults}
}

// Search runs both channels and fuses their results. queryVector may be
// nil to skip the vector channel (e.g. no embedder configured); an
// empty queryText skips the text channel. At least one must be
// supplied. topK bounds the final result count; internally each
// channel is asked for 2*topK candidates so fusion has enough overlap
// to work with.
func (h *HybridSearch) Search(ctx context.Context, tenantID, queryText string, queryVector []float64, topK int) ([]Result, error) {
	if tenantID == "" {
		return nil, errs.New(errs.KindTenantIsolation, "search requires a tenant_id filter", nil)
	}
	if topK <= 0 || topK > h.maxResults {
		topK = h.maxResults
	}
	fetchLimit := 2 * topK

	var lists [][]int64
	var firstErr error

	if queryText != "" && h.text != nil {
		textIDs, err := h.text.SearchText(ctx, tenantID, queryText, fetchLimit)
		if err != nil {
			firstErr = err
		} else {
			lists = append(lists, textIDs)
		}
	}

	if queryVector != nil && h.vector != nil {
		matches, err := h.vector.Search(ctx, tenantID, queryVector, fetchLimit)
		if err != nil {
			firstErr = err
		} else {
			ids := make([]int64, len(matches))
			for i, m := range matches {
				ids[i] = m.FactID
			}
			lists = append(lists, ids)
		}
	}

	if len(lists) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, nil
	}

	fused := FuseRRF(lists, h.rrfConstant)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	// One channel failing while the other succeeded is a partial
	// result, not a hard failure: surface it as SearchPartial alongside
	// whatever fused results the surviving channel produced.
	if firstErr != nil {
		return fused, errs.New(errs.KindSearchPartial, "one search channel failed", firstErr)
	}
	return fused, nil
}
