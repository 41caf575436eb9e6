// Copyright 2025 Certen Protocol
//
// Package search implements Hybrid Search: Reciprocal Rank Fusion over
// a full-text channel (Postgres tsvector/tsquery) and a vector channel
// (pkg/vectorstore), both tenant-scoped.
package search

import "sort"

// Result is one fused search hit.
type Result struct {
	FactID int64
	Score  float64
}

// FuseRRF combines ranked fact_id lists (best match first in each list)
// into a single score per fact_id: score(id) = Σ 1/(k + rank_i(id)),
// rank_i 1-indexed within list i. Facts absent from a list simply don't
// contribute that term. Ties are broken by fact_id ascending so fusion
// is deterministic regardless of map iteration order.
func FuseRRF(lists [][]int64, k int) []Result {
	if k <= 0 {
		k = 60
	}
	scores := make(map[int64]float64)
	for _, list := range lists {
		for i, id := range list {
			rank := i + 1
			scores[id] += 1.0 / float64(k+rank)
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{FactID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FactID < results[j].FactID
	})
	return results
}
