package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/certen/cortex/pkg/storage"
)

type fakeAgents struct {
	byID map[string]storage.Agent
}

func newFakeAgents(agents ...storage.Agent) *fakeAgents {
	m := make(map[string]storage.Agent, len(agents))
	for _, a := range agents {
		m[a.ID] = a
	}
	return &fakeAgents{byID: m}
}

func (f *fakeAgents) Get(ctx context.Context, tenantID, id string) (*storage.Agent, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrAgentNotFound
	}
	cp := a
	return &cp, nil
}

func (f *fakeAgents) ListActive(ctx context.Context, tenantID string) ([]storage.Agent, error) {
	var out []storage.Agent
	for _, a := range f.byID {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAgents) UpdateReputation(ctx context.Context, tenantID, id string, newScore float64, successfulVote bool) error {
	a := f.byID[id]
	a.ReputationScore = newScore
	f.byID[id] = a
	return nil
}

type fakeVotes struct {
	byFact map[int64][]storage.Vote
}

func newFakeVotes() *fakeVotes {
	return &fakeVotes{byFact: make(map[int64][]storage.Vote)}
}

func (f *fakeVotes) CastVote(ctx context.Context, v storage.Vote) error {
	votes := f.byFact[v.FactID]
	for i, existing := range votes {
		if existing.AgentID == v.AgentID {
			votes[i] = v
			f.byFact[v.FactID] = votes
			return nil
		}
	}
	f.byFact[v.FactID] = append(votes, v)
	return nil
}

func (f *fakeVotes) ListForFact(ctx context.Context, tenantID string, factID int64) ([]storage.Vote, error) {
	return f.byFact[factID], nil
}

type fakeLedger struct {
	confidence map[int64]storage.Confidence
	score      map[int64]float64
	appended   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{confidence: make(map[int64]storage.Confidence), score: make(map[int64]float64)}
}

func (f *fakeLedger) UpdateFactConsensus(ctx context.Context, tenantID string, factID int64, confidence storage.Confidence, score float64) error {
	f.confidence[factID] = confidence
	f.score[factID] = score
	return nil
}

func (f *fakeLedger) AppendTransaction(ctx context.Context, tenantID string, factID *int64, action storage.Action, detail string) error {
	f.appended++
	return nil
}

func newTestEngine(agents *fakeAgents, votes *fakeVotes, ledger *fakeLedger) *Engine {
	return New(agents, votes, ledger, 0, 0, 0, 0, 0, 0, 0)
}

func TestCastVoteRejectsInactiveAgent(t *testing.T) {
	agents := newFakeAgents(storage.Agent{ID: "a1", ReputationScore: 0.5, IsActive: false})
	e := newTestEngine(agents, newFakeVotes(), newFakeLedger())

	_, err := e.CastVote(context.Background(), "tenant-a", 1, "a1", 1, "")
	if err == nil {
		t.Fatal("expected error for inactive agent")
	}
}

func TestCastVoteRejectsInvalidValue(t *testing.T) {
	agents := newFakeAgents(storage.Agent{ID: "a1", ReputationScore: 0.5, IsActive: true})
	e := newTestEngine(agents, newFakeVotes(), newFakeLedger())

	_, err := e.CastVote(context.Background(), "tenant-a", 1, "a1", 2, "")
	if err == nil {
		t.Fatal("expected error for vote value outside {-1,+1}")
	}
}

// TestQuorumVerifiedTransition mirrors the spec's scenario 3: three
// agents at reputation 0.5 all vote +1, score should land at 2.0 and
// trip to verified once quorum (3) is met.
func TestQuorumVerifiedTransition(t *testing.T) {
	agents := newFakeAgents(
		storage.Agent{ID: "a", ReputationScore: 0.5, IsActive: true},
		storage.Agent{ID: "b", ReputationScore: 0.5, IsActive: true},
		storage.Agent{ID: "c", ReputationScore: 0.5, IsActive: true},
	)
	votes := newFakeVotes()
	ledger := newFakeLedger()
	e := newTestEngine(agents, votes, ledger)

	var transition *Transition
	var err error
	for _, agentID := range []string{"a", "b", "c"} {
		transition, err = e.CastVote(context.Background(), "tenant-a", 1, agentID, 1, "")
		if err != nil {
			t.Fatalf("CastVote(%s): %v", agentID, err)
		}
	}

	if transition.Confidence != storage.ConfidenceVerified {
		t.Fatalf("expected verified, got %s (score=%v)", transition.Confidence, transition.Score)
	}
	if transition.Score != 2.0 {
		t.Fatalf("expected score 2.0, got %v", transition.Score)
	}

	for _, agentID := range []string{"a", "b", "c"} {
		a, _ := agents.Get(context.Background(), "tenant-a", agentID)
		if a.ReputationScore <= 0.5 {
			t.Fatalf("expected agent %s reputation to move up on verified, got %v", agentID, a.ReputationScore)
		}
	}
}

func TestSubQuorumStaysStated(t *testing.T) {
	agents := newFakeAgents(
		storage.Agent{ID: "a", ReputationScore: 0.9, IsActive: true},
		storage.Agent{ID: "b", ReputationScore: 0.9, IsActive: true},
	)
	votes := newFakeVotes()
	ledger := newFakeLedger()
	e := newTestEngine(agents, votes, ledger)

	var transition *Transition
	var err error
	for _, agentID := range []string{"a", "b"} {
		transition, err = e.CastVote(context.Background(), "tenant-a", 1, agentID, 1, "")
		if err != nil {
			t.Fatalf("CastVote(%s): %v", agentID, err)
		}
	}
	if transition.Confidence != storage.ConfidenceStated {
		t.Fatalf("expected stated without quorum, got %s", transition.Confidence)
	}
}

func TestDisputedTransitionDampensReputation(t *testing.T) {
	agents := newFakeAgents(
		storage.Agent{ID: "a", ReputationScore: 0.5, IsActive: true},
		storage.Agent{ID: "b", ReputationScore: 0.5, IsActive: true},
		storage.Agent{ID: "c", ReputationScore: 0.5, IsActive: true},
	)
	votes := newFakeVotes()
	ledger := newFakeLedger()
	e := newTestEngine(agents, votes, ledger)

	var transition *Transition
	var err error
	for _, agentID := range []string{"a", "b", "c"} {
		transition, err = e.CastVote(context.Background(), "tenant-a", 1, agentID, -1, "")
		if err != nil {
			t.Fatalf("CastVote(%s): %v", agentID, err)
		}
	}
	if transition.Confidence != storage.ConfidenceDisputed {
		t.Fatalf("expected disputed, got %s (score=%v)", transition.Confidence, transition.Score)
	}
	a, _ := agents.Get(context.Background(), "tenant-a", "a")
	if a.ReputationScore >= 0.5 {
		t.Fatalf("expected reputation to move toward 0 on disputed, got %v", a.ReputationScore)
	}
}

// TestVerifiedTransitionDampensDissentingVoter ensures a minority voter
// on the losing side of a resolved transition still has its reputation
// moved (toward 0 on verified), not left untouched.
func TestVerifiedTransitionDampensDissentingVoter(t *testing.T) {
	agents := newFakeAgents(
		storage.Agent{ID: "a", ReputationScore: 0.5, IsActive: true},
		storage.Agent{ID: "b", ReputationScore: 0.5, IsActive: true},
		storage.Agent{ID: "c", ReputationScore: 0.5, IsActive: true},
		storage.Agent{ID: "dissenter", ReputationScore: 0.5, IsActive: true},
	)
	votes := newFakeVotes()
	ledger := newFakeLedger()
	e := newTestEngine(agents, votes, ledger)

	var transition *Transition
	var err error
	for _, v := range []struct {
		agentID string
		value   int
	}{
		{"a", 1}, {"b", 1}, {"c", 1}, {"dissenter", -1},
	} {
		transition, err = e.CastVote(context.Background(), "tenant-a", 1, v.agentID, v.value, "")
		if err != nil {
			t.Fatalf("CastVote(%s): %v", v.agentID, err)
		}
	}

	if transition.Confidence != storage.ConfidenceVerified {
		t.Fatalf("expected verified, got %s (score=%v)", transition.Confidence, transition.Score)
	}

	dissenter, _ := agents.Get(context.Background(), "tenant-a", "dissenter")
	if dissenter.ReputationScore >= 0.5 {
		t.Fatalf("expected dissenting voter's reputation to move toward 0 on verified, got %v", dissenter.ReputationScore)
	}
}

func TestDecayReducesOldVoteInfluence(t *testing.T) {
	agents := newFakeAgents(storage.Agent{ID: "a", ReputationScore: 0.9, IsActive: true})
	votes := newFakeVotes()
	ledger := newFakeLedger()
	e := New(agents, votes, ledger, 0, 0, 0, time.Hour, 0, 0, 0)
	e.now = func() time.Time { return time.Unix(0, 0).Add(100 * time.Hour) }

	votes.byFact[1] = []storage.Vote{
		{FactID: 1, AgentID: "a", Value: 1, VoteWeight: 0.9, CreatedAt: time.Unix(0, 0)},
	}
	transition, err := e.Recompute(context.Background(), "tenant-a", 1)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if transition.Score <= 1.0 || transition.Score >= 1.1 {
		t.Fatalf("expected heavily decayed vote to barely move score off 1.0, got %v", transition.Score)
	}
}

func TestElderCouncilVerdictRequiresAtLeastOneVote(t *testing.T) {
	agents := newFakeAgents(storage.Agent{ID: "a", ReputationScore: 0.9, IsActive: true})
	e := newTestEngine(agents, newFakeVotes(), newFakeLedger())

	_, err := e.ElderCouncilVerdict(context.Background(), "tenant-a", 1)
	if err == nil {
		t.Fatal("expected error with no votes cast among council")
	}
}

func TestElderCouncilVerdictMajority(t *testing.T) {
	agents := newFakeAgents(
		storage.Agent{ID: "a", ReputationScore: 0.9, IsActive: true},
		storage.Agent{ID: "b", ReputationScore: 0.8, IsActive: true},
		storage.Agent{ID: "c", ReputationScore: 0.7, IsActive: true},
	)
	votes := newFakeVotes()
	votes.byFact[1] = []storage.Vote{
		{FactID: 1, AgentID: "a", Value: 1},
		{FactID: 1, AgentID: "b", Value: 1},
		{FactID: 1, AgentID: "c", Value: -1},
	}
	e := newTestEngine(agents, votes, newFakeLedger())

	verdict, err := e.ElderCouncilVerdict(context.Background(), "tenant-a", 1)
	if err != nil {
		t.Fatalf("ElderCouncilVerdict: %v", err)
	}
	if verdict.Value != 1 {
		t.Fatalf("expected majority verdict +1, got %d", verdict.Value)
	}
	if len(verdict.Electors) != 3 {
		t.Fatalf("expected all three electors to have voted, got %d", len(verdict.Electors))
	}
}
