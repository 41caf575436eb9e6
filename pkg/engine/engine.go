// Copyright 2025 Certen Protocol
//
// Package engine implements the Memory Orchestrator (spec.md §4.G): the
// composition root that wires the L3 Event Ledger, L2 Vector Store, L1
// Working Window, Merkle Checkpointer, Consensus Engine, Hybrid Search,
// Tenant Guard, and Privacy Shield into the CORTEX Core API.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/certen/cortex/pkg/config"
	"github.com/certen/cortex/pkg/consensus"
	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/journal"
	"github.com/certen/cortex/pkg/merkle"
	"github.com/certen/cortex/pkg/privacy"
	"github.com/certen/cortex/pkg/queue"
	"github.com/certen/cortex/pkg/search"
	"github.com/certen/cortex/pkg/storage"
	"github.com/certen/cortex/pkg/tenant"
	"github.com/certen/cortex/pkg/vectorstore"
	"github.com/certen/cortex/pkg/window"
)

// Engine composes every subsystem behind the Core API. It owns no
// global state: every dependency is constructed once in Init and held
// for the engine's lifetime.
type Engine struct {
	cfg config.EngineConfig

	ledger       *storage.LedgerRepository
	agents       *storage.AgentRepository
	votes        *storage.VoteRepository
	checkpoints  *storage.CheckpointRepository
	privacyRepo  *storage.PrivacyEventRepository

	vectors      *vectorstore.Store
	window       *window.Window
	checkpointer *merkle.Checkpointer
	consensus    *consensus.Engine
	hybrid       *search.HybridSearch
	guard        *tenant.Guard
	shield       *privacy.Shield
	queue        *queue.Queue

	embedder   EmbedderPort
	summarizer SummarizerPort
	notifier   NotifierPort

	metrics *Metrics
}

// Option configures optional Init behavior (external ports).
type Option func(*Engine)

// WithEmbedder wires an external embedding provider. Embed calls are
// wrapped with bounded retries before degrading to EmbeddingDeferred.
func WithEmbedder(e EmbedderPort) Option {
	return func(eng *Engine) { eng.embedder = newRetryingEmbedder(e, 3) }
}

// WithSummarizer wires an external summarizer for L1 overflow batches.
func WithSummarizer(s SummarizerPort) Option {
	return func(eng *Engine) { eng.summarizer = s }
}

// WithNotifier wires a sink for engine-level events.
func WithNotifier(n NotifierPort) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// Init constructs an Engine from cfg, a connected storage Client, and a
// journal KV for Writer Queue crash recovery. This is the Core API's
// `init(config) → engine` operation.
func Init(ctx context.Context, cfg config.EngineConfig, client *storage.Client, kv journal.KV, opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:         cfg,
		ledger:      storage.NewLedgerRepository(client),
		agents:      storage.NewAgentRepository(client),
		votes:       storage.NewVoteRepository(client),
		checkpoints: storage.NewCheckpointRepository(client),
		privacyRepo: storage.NewPrivacyEventRepository(client),
		embedder:    noopEmbedder{},
		summarizer:  noopSummarizer{},
		notifier:    noopNotifier{},
		metrics:     newMetrics(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.vectors = vectorstore.New(client, cfg.Embedding.Dimension, 10000)
	eng.window = window.New(cfg.Window.TokenBudget, time.Duration(cfg.Window.IdleTTL), nil)
	eng.checkpointer = merkle.NewCheckpointer(eng.checkpoints, int64(cfg.Checkpoint.BatchSize))
	eng.consensus = consensus.New(eng.agents, eng.votes, eng.ledger,
		cfg.Consensus.VerifiedThreshold, cfg.Consensus.DisputedThreshold, cfg.Consensus.Quorum,
		time.Duration(cfg.Consensus.DecayTau), cfg.Consensus.ReputationAlpha,
		cfg.Consensus.ElderCouncilSize, cfg.Consensus.ElderThreshold)
	eng.guard = tenant.New(eng.ledger)
	eng.shield = privacy.New(eng.privacyRepo, cfg.Privacy)
	eng.hybrid = search.New(search.NewPostgresTextSearcher(client), eng.vectors, cfg.Search.RRFConstant, cfg.Search.MaxResults)

	j, err := journal.Open(kv)
	if err != nil {
		return nil, errs.New(errs.KindConfigError, "failed to open writer queue journal", err)
	}
	q, err := queue.Open(j, &ledgerCommitter{ledger: eng.ledger}, cfg.Queue.Capacity)
	if err != nil {
		return nil, errs.New(errs.KindConfigError, "failed to open writer queue", err)
	}
	eng.queue = q

	return eng, nil
}

// Metrics exposes the engine's Prometheus collector set for a caller's
// own exposition endpoint.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Close releases the Writer Queue's tenant committers.
func (e *Engine) Close() {
	if e.queue != nil {
		e.queue.Close()
	}
}

// IngestResult is the outcome of Ingest.
type IngestResult struct {
	FactID            int64
	EmbeddingDeferred bool
	PrivacyFinding    privacy.Finding
	// PrivacyBlocked is a KindPrivacyBlocked informational marker (spec.md
	// §7): set when the Privacy Shield detected a critical-tier secret and
	// forced the fact local-only. The ingest still succeeded; this is not
	// an error the caller needs to handle, only surface.
	PrivacyBlocked *errs.Error
}

// Ingest is the Core API's write path (`store_fact` plus the full §4.G
// pipeline): Privacy Shield scan, Writer Queue commit to L3, best-effort
// embedding into L2, and a push onto the requesting session's L1
// window.
func (e *Engine) Ingest(ctx context.Context, draft storage.FactDraft, sessionID string) (*IngestResult, error) {
	if err := e.guard.Scoped(ctx, draft.TenantID, func() error { return nil }); err != nil {
		return nil, err
	}

	outcome, err := e.shield.Evaluate(ctx, draft.TenantID, nil, draft.Content)
	if err != nil {
		return nil, err
	}
	if outcome.ForceLocal {
		draft.Sensitive = true
	}
	if outcome.Sensitive {
		draft.Sensitive = true
	}

	payload, err := json.Marshal(draft)
	if err != nil {
		return nil, errs.New(errs.KindEncoding, "failed to encode fact draft", err)
	}
	out, err := e.queue.Submit(ctx, queue.Mutation{TenantID: draft.TenantID, Kind: mutationCreate, Payload: payload})
	if err != nil {
		return nil, err
	}
	factID := out.(int64)
	e.metrics.IngestTotal.Inc()
	e.metrics.LedgerAppends.Inc()

	result := &IngestResult{FactID: factID, PrivacyFinding: outcome.Finding}
	if outcome.ForceLocal {
		result.PrivacyBlocked = errs.New(errs.KindPrivacyBlocked,
			"critical secret detected; fact stored local-only and excluded from L2 embedding", nil)
	}

	if !outcome.ForceLocal {
		vec, embedErr := e.embedder.Embed(ctx, draft.Content)
		if embedErr != nil {
			result.EmbeddingDeferred = true
			e.metrics.EmbeddingDeferred.Inc()
			_ = e.notifier.Notify(ctx, "embedding_deferred", draft.Content)
		} else if upsertErr := e.vectors.Upsert(ctx, draft.TenantID, factID, "default", vec); upsertErr != nil {
			result.EmbeddingDeferred = true
			e.metrics.EmbeddingDeferred.Inc()
		}
	}

	if sessionID != "" {
		evicted := e.window.Push(draft.TenantID, sessionID, window.Entry{
			Content:   draft.Content,
			Role:      string(draft.FactType),
			Timestamp: time.Now().UTC(),
		})
		if len(evicted) > 0 {
			e.metrics.WindowEvictions.Add(float64(len(evicted)))
			if err := e.summarizeEvicted(ctx, draft.TenantID, evicted); err != nil {
				_ = e.notifier.Notify(ctx, "summarize_failed", err.Error())
			}
		}
	}

	return result, nil
}

// summarizeEvicted compresses an evicted L1 batch into a derived
// meta_learning fact, per spec.md §4.G step 4.
func (e *Engine) summarizeEvicted(ctx context.Context, tenantID string, evicted []window.Entry) error {
	summary, err := e.summarizer.Summarize(ctx, evicted)
	if err != nil {
		return err
	}
	draft := storage.FactDraft{
		TenantID:  tenantID,
		Project:   "_window_overflow",
		FactType:  storage.FactMetaLearning,
		Content:   summary,
		ValidFrom: time.Now().UTC(),
	}
	_, err = e.Ingest(ctx, draft, "")
	return err
}

// DeprecateFact is the Core API's `deprecate_fact`.
func (e *Engine) DeprecateFact(ctx context.Context, tenantID string, factID int64, reason string) (*int64, error) {
	payload, err := json.Marshal(deprecatePayload{TenantID: tenantID, FactID: factID, Reason: reason})
	if err != nil {
		return nil, errs.New(errs.KindEncoding, "failed to encode deprecate payload", err)
	}
	out, err := e.queue.Submit(ctx, queue.Mutation{TenantID: tenantID, Kind: mutationDeprecate, Payload: payload})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	id := out.(*int64)
	return id, nil
}

// GetFact is the Core API's `get_fact`.
func (e *Engine) GetFact(ctx context.Context, tenantID string, factID int64, asOf *time.Time) (*storage.Fact, error) {
	var fact *storage.Fact
	err := e.guard.Scoped(ctx, tenantID, func() error {
		f, err := e.ledger.GetFact(ctx, tenantID, factID, asOf)
		fact = f
		return err
	})
	return fact, err
}

// ListProject is the Core API's `list_project`.
func (e *Engine) ListProject(ctx context.Context, tenantID, project string, filters storage.ListFilters) (*storage.ListResult, error) {
	var result *storage.ListResult
	err := e.guard.Scoped(ctx, tenantID, func() error {
		r, err := e.ledger.ListProject(ctx, tenantID, project, filters)
		result = r
		return err
	})
	return result, err
}

// Search is the Core API's `search`: Hybrid Search over both channels.
// queryVector is obtained from the configured embedder; an embedder
// failure degrades to a text-only search rather than failing outright.
func (e *Engine) Search(ctx context.Context, tenantID, queryText string, topK int) ([]search.Result, error) {
	timer := time.Now()
	defer func() { e.metrics.SearchLatency.Observe(time.Since(timer).Seconds()) }()

	var queryVector []float64
	if vec, err := e.embedder.Embed(ctx, queryText); err == nil {
		queryVector = vec
	}
	return e.hybrid.Search(ctx, tenantID, queryText, queryVector, topK)
}

// ContextSnapshot is the Core API's `context` result shape.
type ContextSnapshot struct {
	Window        []window.Entry
	RecentSemantic []search.Result
}

// Context is the Core API's `context`: the L1 window snapshot plus the
// top-K L2 matches for the session's most recent content.
func (e *Engine) Context(ctx context.Context, tenantID, sessionID string, topK int) (*ContextSnapshot, error) {
	snapshot := e.window.Snapshot(tenantID, sessionID)
	result := &ContextSnapshot{Window: snapshot}
	if len(snapshot) == 0 {
		return result, nil
	}

	recent := snapshot[len(snapshot)-1].Content
	vec, err := e.embedder.Embed(ctx, recent)
	if err != nil {
		return result, nil
	}
	matches, err := e.vectors.Search(ctx, tenantID, vec, topK)
	if err != nil {
		return result, nil
	}
	hits := make([]search.Result, len(matches))
	for i, m := range matches {
		hits[i] = search.Result{FactID: m.FactID}
	}
	result.RecentSemantic = hits
	return result, nil
}

// RegisterAgent is the Core API's `register_agent`.
func (e *Engine) RegisterAgent(ctx context.Context, tenantID, id, publicKeyFingerprint string) (*storage.Agent, error) {
	return e.agents.Register(ctx, tenantID, id, publicKeyFingerprint)
}

// CastVote is the Core API's `cast_vote`.
func (e *Engine) CastVote(ctx context.Context, tenantID string, factID int64, agentID string, value int, reason string) (*consensus.Transition, error) {
	transition, err := e.consensus.CastVote(ctx, tenantID, factID, agentID, value, reason)
	if err == nil {
		e.metrics.ConsensusVotes.Inc()
	}
	return transition, err
}

// CreateCheckpoint is the Core API's `create_checkpoint`.
func (e *Engine) CreateCheckpoint(ctx context.Context, tenantID string) (*storage.Checkpoint, error) {
	return e.checkpointer.CreateCheckpoint(ctx, tenantID)
}

// VerifyChain is the Core API's `verify_chain`.
func (e *Engine) VerifyChain(ctx context.Context, tenantID string, from, to *int64) (*storage.ChainVerification, error) {
	return e.ledger.VerifyChain(ctx, tenantID, from, to)
}

// ExportVerifiable is the Core API's `export_verifiable`.
func (e *Engine) ExportVerifiable(ctx context.Context, tenantID string, from, to int64) (*merkle.Manifest, []byte, error) {
	return e.checkpointer.ExportVerifiable(ctx, tenantID, from, to)
}

// ImportVerifiable is the Core API's `import_verifiable`. It performs
// no storage I/O: any third party holding a manifest and blob can call
// it to independently re-derive both hashes.
func (e *Engine) ImportVerifiable(manifest *merkle.Manifest, blob []byte) (*merkle.ImportResult, error) {
	return merkle.ImportVerifiable(manifest, blob)
}
