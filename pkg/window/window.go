// Copyright 2025 Certen Protocol
//
// Package window implements the L1 Working Window: a per-(tenant,
// session) token-budgeted FIFO of recent entries, expired on idle.
package window

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// TokenEstimator measures the token cost of an entry's content. The
// default is a deterministic ceil(runes/4); callers may substitute
// another estimator at construction (e.g. a real tokenizer in tests).
type TokenEstimator func(content string) int

// DefaultTokenEstimator implements ceil(rune_count/4), settled as
// CORTEX's fixed token-count function.
func DefaultTokenEstimator(content string) int {
	runes := 0
	for range content {
		runes++
	}
	return (runes + 3) / 4
}

// Entry is one unit of working memory.
type Entry struct {
	Content   string
	Tokens    int
	Role      string
	Timestamp time.Time
}

// session holds one (tenant_id, session_id)'s FIFO state. Guarded by its
// own mutex rather than the Window's, so pushes to different sessions
// never contend — the same per-key locking discipline the ledger's
// chain-head writer applies per tenant.
type session struct {
	mu          sync.Mutex
	entries     []Entry
	tokenTotal  int
}

// Window is the L1 Working Window, shared by every tenant and session.
type Window struct {
	tokenBudget int
	estimator   TokenEstimator
	sessions    *lru.LRU[string, *session]
}

// New constructs a Window. tokenBudget bounds each session's cumulative
// token count (spec default 8000); idleTTL expires a session with no
// activity for that long (spec default 2h).
func New(tokenBudget int, idleTTL time.Duration, estimator TokenEstimator) *Window {
	if tokenBudget <= 0 {
		tokenBudget = 8000
	}
	if idleTTL <= 0 {
		idleTTL = 2 * time.Hour
	}
	if estimator == nil {
		estimator = DefaultTokenEstimator
	}
	return &Window{
		tokenBudget: tokenBudget,
		estimator:   estimator,
		sessions:    lru.NewLRU[string, *session](0, nil, idleTTL),
	}
}

func sessionKey(tenantID, sessionID string) string {
	return tenantID + "\x00" + sessionID
}

func (w *Window) sessionFor(tenantID, sessionID string) *session {
	key := sessionKey(tenantID, sessionID)
	if s, ok := w.sessions.Get(key); ok {
		return s
	}
	s := &session{}
	w.sessions.Add(key, s)
	return s
}

// Push appends an entry to (tenantID, sessionID)'s window. If content
// is empty, Tokens is computed via the configured estimator. Returns
// the entries evicted from the head to stay within the token budget.
func (w *Window) Push(tenantID, sessionID string, entry Entry) []Entry {
	if entry.Tokens == 0 {
		entry.Tokens = w.estimator(entry.Content)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s := w.sessionFor(tenantID, sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	s.tokenTotal += entry.Tokens

	var evicted []Entry
	for s.tokenTotal > w.tokenBudget && len(s.entries) > 0 {
		head := s.entries[0]
		s.entries = s.entries[1:]
		s.tokenTotal -= head.Tokens
		evicted = append(evicted, head)
	}
	return evicted
}

// Snapshot returns the current ordered contents of (tenantID,
// sessionID)'s window. Returns nil if the session doesn't exist or has
// expired.
func (w *Window) Snapshot(tenantID, sessionID string) []Entry {
	key := sessionKey(tenantID, sessionID)
	s, ok := w.sessions.Get(key)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clear discards (tenantID, sessionID)'s window entirely.
func (w *Window) Clear(tenantID, sessionID string) {
	w.sessions.Remove(sessionKey(tenantID, sessionID))
}
