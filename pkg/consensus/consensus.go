// Copyright 2025 Certen Protocol
//
// Package consensus implements the WBFT Consensus Engine: reputation
// weighted voting that transitions a fact between the stated, verified,
// and disputed confidence states.
package consensus

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/storage"
)

// AgentStore is the agent-registry surface the engine needs.
// *storage.AgentRepository satisfies it.
type AgentStore interface {
	Get(ctx context.Context, tenantID, id string) (*storage.Agent, error)
	ListActive(ctx context.Context, tenantID string) ([]storage.Agent, error)
	UpdateReputation(ctx context.Context, tenantID, id string, newScore float64, successfulVote bool) error
}

// VoteStore is the vote-ledger surface the engine needs.
// *storage.VoteRepository satisfies it.
type VoteStore interface {
	CastVote(ctx context.Context, v storage.Vote) error
	ListForFact(ctx context.Context, tenantID string, factID int64) ([]storage.Vote, error)
}

// LedgerStore is the transaction/fact-state surface the engine needs.
// *storage.LedgerRepository satisfies it.
type LedgerStore interface {
	UpdateFactConsensus(ctx context.Context, tenantID string, factID int64, confidence storage.Confidence, score float64) error
	AppendTransaction(ctx context.Context, tenantID string, factID *int64, action storage.Action, detail string) error
}

// Engine is the WBFT Consensus Engine over agent votes.
type Engine struct {
	agents            AgentStore
	votes             VoteStore
	ledger            LedgerStore
	verifiedThreshold float64
	disputedThreshold float64
	quorum            int
	decayTau          time.Duration
	reputationAlpha   float64
	elderCouncilSize  int
	elderThreshold    float64
	now               func() time.Time
}

// New constructs an Engine. Zero-valued numeric options fall back to
// spec defaults (verifiedThreshold 1.5, disputedThreshold 0.5, quorum 3,
// decayTau 30 days, reputationAlpha 0.1, elderCouncilSize 3,
// elderThreshold 0.67).
func New(agents AgentStore, votes VoteStore, ledger LedgerStore, verifiedThreshold, disputedThreshold float64, quorum int, decayTau time.Duration, reputationAlpha float64, elderCouncilSize int, elderThreshold float64) *Engine {
	if verifiedThreshold == 0 {
		verifiedThreshold = 1.5
	}
	if disputedThreshold == 0 {
		disputedThreshold = 0.5
	}
	if quorum == 0 {
		quorum = 3
	}
	if decayTau == 0 {
		decayTau = 30 * 24 * time.Hour
	}
	if reputationAlpha == 0 {
		reputationAlpha = 0.1
	}
	if elderCouncilSize == 0 {
		elderCouncilSize = 3
	}
	if elderThreshold == 0 {
		elderThreshold = 0.67
	}
	return &Engine{
		agents:            agents,
		votes:             votes,
		ledger:            ledger,
		verifiedThreshold: verifiedThreshold,
		disputedThreshold: disputedThreshold,
		quorum:            quorum,
		decayTau:          decayTau,
		reputationAlpha:   reputationAlpha,
		elderCouncilSize:  elderCouncilSize,
		elderThreshold:    elderThreshold,
		now:               time.Now,
	}
}

// Transition is the outcome of recomputing a fact's consensus score.
type Transition struct {
	Score      float64
	Confidence storage.Confidence
	VoterCount int
}

// CastVote resolves agent (must be active), writes or replaces its vote
// on factID, appends a VOTE transaction, recomputes the fact's score,
// and applies any confidence transition along with its reputation
// update. value must be -1 or +1.
func (e *Engine) CastVote(ctx context.Context, tenantID string, factID int64, agentID string, value int, reason string) (*Transition, error) {
	if value != -1 && value != 1 {
		return nil, errs.New(errs.KindEncoding, "vote value must be -1 or +1", nil)
	}
	agent, err := e.agents.Get(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive {
		return nil, errs.New(errs.KindConflict, "agent is not active", nil)
	}

	vote := storage.Vote{
		FactID:         factID,
		TenantID:       tenantID,
		AgentID:        agentID,
		Value:          value,
		VoteWeight:     agent.ReputationScore,
		AgentRepAtVote: agent.ReputationScore,
		DecayFactor:    1.0,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.votes.CastVote(ctx, vote); err != nil {
		return nil, err
	}

	detail := "agent=" + agentID
	if reason != "" {
		detail += " reason=" + reason
	}
	if err := e.ledger.AppendTransaction(ctx, tenantID, &factID, storage.ActionVote, detail); err != nil {
		return nil, err
	}

	return e.Recompute(ctx, tenantID, factID)
}

// Recompute recomputes factID's consensus score from its current votes,
// applies the resulting confidence state, and runs the post-hoc
// reputation update if this recompute crosses into verified or disputed.
func (e *Engine) Recompute(ctx context.Context, tenantID string, factID int64) (*Transition, error) {
	votes, err := e.votes.ListForFact(ctx, tenantID, factID)
	if err != nil {
		return nil, err
	}

	score, voterCount := e.score(votes)
	confidence := storage.ConfidenceStated
	switch {
	case score >= e.verifiedThreshold && voterCount >= e.quorum:
		confidence = storage.ConfidenceVerified
	case score <= e.disputedThreshold && voterCount >= e.quorum:
		confidence = storage.ConfidenceDisputed
	}

	if err := e.ledger.UpdateFactConsensus(ctx, tenantID, factID, confidence, score); err != nil {
		return nil, err
	}

	if confidence == storage.ConfidenceVerified || confidence == storage.ConfidenceDisputed {
		if err := e.applyReputationUpdate(ctx, tenantID, votes, confidence); err != nil {
			return nil, err
		}
	}

	return &Transition{Score: score, Confidence: confidence, VoterCount: voterCount}, nil
}

// score computes the WBFT score over votes: 1.0 + Σ(vote*weight*decay) /
// Σ(weight*decay), clamped to [0,2]. Falls back to 1.0 if the
// denominator is zero (no votes, or all weights decayed to zero).
func (e *Engine) score(votes []storage.Vote) (float64, int) {
	var numerator, denominator float64
	now := e.now()
	for _, v := range votes {
		age := now.Sub(v.CreatedAt)
		decay := math.Exp(-age.Seconds() / e.decayTau.Seconds())
		weight := v.VoteWeight * decay
		numerator += float64(v.Value) * weight
		denominator += weight
	}
	if denominator == 0 {
		return 1.0, len(votes)
	}
	score := 1.0 + numerator/denominator
	if score < 0 {
		score = 0
	}
	if score > 2 {
		score = 2
	}
	return score, len(votes)
}

// applyReputationUpdate moves every voter's reputation_score toward the
// outcome the fact transitioned to: on verified, +1 voters move toward
// 1.0 and -1 voters move toward 0.0; on disputed the targets reverse.
// Every voter is updated, winners and losers alike, so total_votes
// reflects every vote an agent ever cast and successful_votes only the
// winning side. Applied once per transition edge, not compounded across
// repeated recomputes that land on the same confidence state.
func (e *Engine) applyReputationUpdate(ctx context.Context, tenantID string, votes []storage.Vote, confidence storage.Confidence) error {
	winningValue := 1
	if confidence == storage.ConfidenceDisputed {
		winningValue = -1
	}

	for _, v := range votes {
		agent, err := e.agents.Get(ctx, tenantID, v.AgentID)
		if err != nil {
			return err
		}

		successful := v.Value == winningValue
		target := 0.0
		if successful {
			target = 1.0
		}

		newScore := (1-e.reputationAlpha)*agent.ReputationScore + e.reputationAlpha*target
		if err := e.agents.UpdateReputation(ctx, tenantID, v.AgentID, newScore, successful); err != nil {
			return err
		}
		if err := e.ledger.AppendTransaction(ctx, tenantID, nil, storage.ActionAudit, "reputation update agent="+v.AgentID); err != nil {
			return err
		}
	}
	return nil
}

// ElderVerdict is a synthetic quorum-bypass decision.
type ElderVerdict struct {
	Value          int
	CombinedWeight float64
	Electors       []string
	Tolerant       bool
}

// ElderCouncilVerdict selects the top elderCouncilSize agents by
// reputation_score and returns their majority vote value. Requires at
// least one vote among the elected council; used only when explicitly
// invoked (quorum was not met through ordinary voting). Tolerant
// reports whether the electing agent pool is large enough to tolerate
// the elder council itself turning out to be entirely Byzantine.
func (e *Engine) ElderCouncilVerdict(ctx context.Context, tenantID string, factID int64) (*ElderVerdict, error) {
	allAgents, err := e.agents.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	agents := allAgents
	if len(agents) > e.elderCouncilSize {
		agents = agents[:e.elderCouncilSize]
	}
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].ReputationScore > agents[j].ReputationScore
	})

	votes, err := e.votes.ListForFact(ctx, tenantID, factID)
	if err != nil {
		return nil, err
	}
	byAgent := make(map[string]storage.Vote, len(votes))
	for _, v := range votes {
		byAgent[v.AgentID] = v
	}

	var approve, cast int
	var combinedWeight float64
	var electors []string
	for _, a := range agents {
		v, ok := byAgent[a.ID]
		if !ok {
			continue
		}
		cast++
		if v.Value > 0 {
			approve++
		}
		combinedWeight += a.ReputationScore
		electors = append(electors, a.ID)
	}
	if len(electors) == 0 {
		return nil, errs.New(errs.KindQuorumUnmet, "no elder council votes cast on fact", nil)
	}

	value := -1
	if ValidateThreshold(approve, cast, e.elderThreshold) {
		value = 1
	}
	tolerant := IsByzantineFaultTolerant(len(allAgents), len(allAgents)/3)

	detail := "elder council verdict"
	if err := e.ledger.AppendTransaction(ctx, tenantID, &factID, storage.ActionVote, detail); err != nil {
		return nil, err
	}
	return &ElderVerdict{Value: value, CombinedWeight: combinedWeight, Electors: electors, Tolerant: tolerant}, nil
}
