// Copyright 2025 Certen Protocol

package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the engine's collector set. It is registered into a
// private *prometheus.Registry rather than the global default registry
// so multiple Engines (e.g. in tests) never collide, and is exposed for
// a caller's own HTTP exposition — this module ships no exposition
// surface itself (§1 Non-goals).
type Metrics struct {
	Registry *prometheus.Registry

	IngestTotal       prometheus.Counter
	LedgerAppends     prometheus.Counter
	ConsensusVotes    prometheus.Counter
	SearchLatency     prometheus.Histogram
	WindowEvictions   prometheus.Counter
	EmbeddingDeferred prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		IngestTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_ingest_total",
			Help: "Total number of ingest operations accepted by the Memory Orchestrator.",
		}),
		LedgerAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_ledger_appends_total",
			Help: "Total number of transactions appended to the L3 Event Ledger.",
		}),
		ConsensusVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_consensus_votes_total",
			Help: "Total number of votes cast through the Consensus Engine.",
		}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cortex_search_latency_seconds",
			Help:    "Hybrid Search request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		WindowEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_window_evictions_total",
			Help: "Total number of L1 Working Window entries evicted on overflow.",
		}),
		EmbeddingDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_embedding_deferred_total",
			Help: "Total number of ingests that deferred embedding after the embedder failed.",
		}),
	}
	reg.MustRegister(m.IngestTotal, m.LedgerAppends, m.ConsensusVotes, m.SearchLatency, m.WindowEvictions, m.EmbeddingDeferred)
	return m
}
