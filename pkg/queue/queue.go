// Copyright 2025 Certen Protocol
//
// Package queue implements the Writer Queue: single-writer, per-tenant
// serialization of mutations against the L3 Event Ledger, with bounded
// backpressure and a crash-recoverable write-ahead journal.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/journal"
)

// Mutation is a single unit of work submitted to the queue: a ledger
// action scoped to one tenant.
type Mutation struct {
	TenantID string
	Kind     string // CREATE, DEPRECATE, VOTE, AUDIT
	Payload  json.RawMessage
}

// Committer applies a mutation to the L3 Event Ledger and returns its
// result. Implementations must be safe to call from exactly one
// goroutine at a time per tenant — the queue never calls Commit
// concurrently for the same tenant, but may call it concurrently across
// tenants.
type Committer interface {
	Commit(ctx context.Context, m Mutation) (interface{}, error)
}

type job struct {
	seq    uint64
	m      Mutation
	result chan jobResult
}

type jobResult struct {
	out interface{}
	err error
}

// tenantCommitter serializes commits for exactly one tenant through a
// single goroutine reading from its own channel, in submission order.
type tenantCommitter struct {
	jobs chan job
	done chan struct{}
}

// Queue is the Writer Queue. One Queue instance exists per process; its
// capacity bounds the total number of mutations in flight across every
// tenant, while per-tenant ordering is enforced by a dedicated committer
// goroutine per tenant.
type Queue struct {
	committer Committer
	journal   *journal.Journal
	capacity  int

	sem chan struct{}

	mu       sync.Mutex
	tenants  map[string]*tenantCommitter
}

// Open constructs a Queue backed by j for crash recovery, dispatching
// committed mutations to commit. capacity bounds the number of
// mutations allowed in flight at once; spec default is 10,000.
func Open(j *journal.Journal, commit Committer, capacity int) (*Queue, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	q := &Queue{
		committer: commit,
		journal:   j,
		capacity:  capacity,
		sem:       make(chan struct{}, capacity),
		tenants:   make(map[string]*tenantCommitter),
	}

	pending, err := j.Pending()
	if err != nil {
		return nil, fmt.Errorf("queue: failed to read pending journal entries: %w", err)
	}
	for _, entry := range pending {
		if _, err := q.replay(entry); err != nil {
			return nil, fmt.Errorf("queue: failed to replay journal entry %d: %w", entry.Seq, err)
		}
	}
	return q, nil
}

func (q *Queue) replay(entry journal.Entry) (interface{}, error) {
	tc := q.tenantCommitterFor(entry.TenantID)
	result := make(chan jobResult, 1)
	tc.jobs <- job{
		seq:    entry.Seq,
		m:      Mutation{TenantID: entry.TenantID, Kind: entry.Kind, Payload: entry.Payload},
		result: result,
	}
	r := <-result
	if r.err == nil {
		_ = q.journal.MarkCommitted(entry.Seq)
	}
	return r.out, r.err
}

func (q *Queue) tenantCommitterFor(tenantID string) *tenantCommitter {
	q.mu.Lock()
	defer q.mu.Unlock()

	tc, ok := q.tenants[tenantID]
	if ok {
		return tc
	}
	tc = &tenantCommitter{
		jobs: make(chan job, 1),
		done: make(chan struct{}),
	}
	q.tenants[tenantID] = tc
	go q.runCommitter(tc)
	return tc
}

func (q *Queue) runCommitter(tc *tenantCommitter) {
	defer close(tc.done)
	for j := range tc.jobs {
		out, err := q.committer.Commit(context.Background(), j.m)
		j.result <- jobResult{out: out, err: err}
	}
}

// Submit enqueues a mutation and blocks until it commits, the queue is
// full and ctx carries a deadline that already elapsed, or ctx is
// cancelled while waiting. Within a tenant, mutations committed via
// Submit land in the order they were submitted.
func (q *Queue) Submit(ctx context.Context, m Mutation) (interface{}, error) {
	select {
	case q.sem <- struct{}{}:
	default:
		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, errs.New(errs.KindBusy, "writer queue is at capacity", ctx.Err())
		}
	}
	defer func() { <-q.sem }()

	seq, err := q.journal.Append(m.TenantID, m.Kind, m.Payload)
	if err != nil {
		return nil, errs.New(errs.KindConfigError, "failed to persist mutation to write-ahead journal", err)
	}

	tc := q.tenantCommitterFor(m.TenantID)
	result := make(chan jobResult, 1)
	select {
	case tc.jobs <- job{seq: seq, m: m, result: result}:
	case <-ctx.Done():
		return nil, errs.New(errs.KindTimeout, "deadline exceeded waiting for tenant committer", ctx.Err())
	}

	// The job is now dispatched and will be committed by the tenant
	// committer goroutine no matter what this call does next. Drain its
	// result in the background so MarkCommitted always runs once the
	// commit finishes, even if this Submit call times out first — that
	// keeps a timed-out-but-actually-committed mutation from being
	// replayed (and double-committed) as still-pending after a crash.
	done := make(chan jobResult, 1)
	go func() {
		r := <-result
		if r.err == nil {
			_ = q.journal.MarkCommitted(seq)
		}
		done <- r
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.out, r.err
		}
		return r.out, nil
	case <-ctx.Done():
		return nil, errs.New(errs.KindTimeout, "deadline exceeded waiting for commit", ctx.Err())
	}
}

// Close stops every tenant committer goroutine. Pending jobs already
// dispatched are allowed to finish; no new Submit calls should be made
// after Close returns.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, tc := range q.tenants {
		close(tc.jobs)
		<-tc.done
	}
}
