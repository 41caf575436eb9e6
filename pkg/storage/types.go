// Copyright 2025 Certen Protocol

package storage

import "time"

// Confidence is a fact's consensus lifecycle state.
type Confidence string

const (
	ConfidenceStated     Confidence = "stated"
	ConfidenceVerified   Confidence = "verified"
	ConfidenceDisputed   Confidence = "disputed"
	ConfidenceDeprecated Confidence = "deprecated"
)

// FactType enumerates the kinds of memory a fact can represent.
type FactType string

const (
	FactAxiom        FactType = "axiom"
	FactKnowledge    FactType = "knowledge"
	FactDecision     FactType = "decision"
	FactError        FactType = "error"
	FactGhost        FactType = "ghost"
	FactBridge       FactType = "bridge"
	FactMetaLearning FactType = "meta_learning"
	FactReport       FactType = "report"
	FactRule         FactType = "rule"
	FactEvolution    FactType = "evolution"
	FactWorldModel   FactType = "world_model"
	FactEpisode      FactType = "episode"
)

// immutableFactTypes names fact types whose content is deduplicated
// within (tenant, project): re-storing identical content returns the
// original fact_id with Conflict rather than creating a duplicate row.
var immutableFactTypes = map[FactType]bool{
	FactAxiom:    true,
	FactDecision: true,
}

// FactDraft is the caller-supplied input to StoreFact.
type FactDraft struct {
	TenantID   string
	Project    string
	FactType   FactType
	Content    string
	Tags       []string
	Source     string
	ValidFrom  time.Time
	ValidUntil *time.Time
	Sensitive  bool
}

// Fact is the unit of memory as persisted in the ledger.
type Fact struct {
	ID             int64      `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Project        string     `json:"project"`
	FactType       FactType   `json:"fact_type"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags"`
	Confidence     Confidence `json:"confidence"`
	ConsensusScore float64    `json:"consensus_score"`
	ValidFrom      time.Time  `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	Source         string     `json:"source"`
	ContentHash    string     `json:"content_hash"`
	PrevHash       string     `json:"prev_hash"`
	Sensitive      bool       `json:"sensitive"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Action enumerates the kinds of ledger transaction.
type Action string

const (
	ActionCreate    Action = "CREATE"
	ActionDeprecate Action = "DEPRECATE"
	ActionVote      Action = "VOTE"
	ActionAudit     Action = "AUDIT"
)

// Transaction is an append-only ledger record of a mutation.
type Transaction struct {
	ID        int64     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	FactID    *int64     `json:"fact_id,omitempty"`
	Action    Action     `json:"action"`
	Detail    string     `json:"detail"`
	PrevHash  string     `json:"prev_hash"`
	Hash      string     `json:"hash"`
	Timestamp time.Time  `json:"timestamp"`
}

// Agent is a voting participant in the Consensus Engine.
type Agent struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	PublicKeyFingerprint string     `json:"public_key_fingerprint"`
	ReputationScore      float64    `json:"reputation_score"`
	TotalVotes           int64      `json:"total_votes"`
	SuccessfulVotes      int64      `json:"successful_votes"`
	LastActiveAt         *time.Time `json:"last_active_at,omitempty"`
	IsActive             bool       `json:"is_active"`
}

// Vote is one agent's weighted opinion on a fact.
type Vote struct {
	FactID         int64     `json:"fact_id"`
	TenantID       string    `json:"tenant_id"`
	AgentID        string    `json:"agent_id"`
	Value          int       `json:"value"`
	VoteWeight     float64   `json:"vote_weight"`
	AgentRepAtVote float64   `json:"agent_rep_at_vote"`
	DecayFactor    float64   `json:"decay_factor"`
	CreatedAt      time.Time `json:"created_at"`
}

// Checkpoint is a sealed Merkle batch over a transaction range.
type Checkpoint struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	TxStart   int64     `json:"tx_start"`
	TxEnd     int64     `json:"tx_end"`
	RootHash  string    `json:"root_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// PrivacyEvent records a Privacy Shield detection.
type PrivacyEvent struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	FactID    *int64    `json:"fact_id,omitempty"`
	Tier      string    `json:"tier"`
	Detector  string    `json:"detector"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilters narrows ListProject results.
type ListFilters struct {
	Confidence *Confidence
	AsOf       *time.Time
	Limit      int
	Cursor     int64
}

// ListResult is one page of ListProject results.
type ListResult struct {
	Items      []Fact
	NextCursor int64
}

// ChainVerification is the result of VerifyChain.
type ChainVerification struct {
	Valid      bool    `json:"valid"`
	Violations []int64 `json:"violations"`
}
