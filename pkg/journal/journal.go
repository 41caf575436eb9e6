// Copyright 2025 Certen Protocol

package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEntryNotFound is returned when a sequence number has no recorded
// entry.
var ErrEntryNotFound = errors.New("journal: entry not found")

var (
	keyLatestSeq   = []byte("journal:latest_seq")
	keyEntryPrefix = []byte("journal:entry:")
)

// Entry is one durable record of a mutation accepted by the Writer
// Queue but not yet confirmed committed to the L3 Event Ledger. Replay
// on startup re-submits every entry still in StatusPending.
type Entry struct {
	Seq         uint64          `json:"seq"`
	TenantID    string          `json:"tenant_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Status      Status          `json:"status"`
}

// Status tracks an entry's progress through the commit pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
)

// Journal is a single-writer append log backed by a KV store. It is
// not safe for concurrent Append calls from multiple goroutines; the
// Writer Queue serializes all access through its single committer.
type Journal struct {
	mu  sync.Mutex
	kv  KV
	seq uint64
}

// Open constructs a Journal over kv and recovers the last-used sequence
// number so new entries continue without colliding.
func Open(kv KV) (*Journal, error) {
	j := &Journal{kv: kv}

	b, err := kv.Get(keyLatestSeq)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to read latest sequence: %w", err)
	}
	if len(b) == 8 {
		j.seq = binary.BigEndian.Uint64(b)
	}
	return j, nil
}

func entryKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return append(append([]byte(nil), keyEntryPrefix...), b...)
}

// Append durably records a new pending entry and returns its assigned
// sequence number.
func (j *Journal) Append(tenantID, kind string, payload json.RawMessage) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	seq := j.seq

	entry := Entry{
		Seq:         seq,
		TenantID:    tenantID,
		Kind:        kind,
		Payload:     payload,
		SubmittedAt: time.Now().UTC(),
		Status:      StatusPending,
	}
	if err := j.write(entry); err != nil {
		j.seq--
		return 0, err
	}

	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)
	if err := j.kv.Set(keyLatestSeq, seqBytes); err != nil {
		return 0, fmt.Errorf("journal: failed to advance latest sequence: %w", err)
	}
	return seq, nil
}

func (j *Journal) write(entry Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: failed to marshal entry %d: %w", entry.Seq, err)
	}
	if err := j.kv.Set(entryKey(entry.Seq), b); err != nil {
		return fmt.Errorf("journal: failed to persist entry %d: %w", entry.Seq, err)
	}
	return nil
}

// MarkCommitted updates an entry's status once its mutation has landed
// in the L3 Event Ledger, so replay does not resubmit it after a crash.
func (j *Journal) MarkCommitted(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	b, err := j.kv.Get(entryKey(seq))
	if err != nil {
		return fmt.Errorf("journal: failed to read entry %d: %w", seq, err)
	}
	if b == nil {
		return ErrEntryNotFound
	}
	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return fmt.Errorf("journal: failed to unmarshal entry %d: %w", seq, err)
	}
	entry.Status = StatusCommitted
	return j.write(entry)
}

// Pending returns every entry still awaiting commit, in ascending
// sequence order, for replay after a crash.
func (j *Journal) Pending() ([]Entry, error) {
	var pending []Entry
	err := j.kv.Iterate(keyEntryPrefix, func(_, v []byte) error {
		var entry Entry
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("journal: failed to unmarshal entry during replay: %w", err)
		}
		if entry.Status == StatusPending {
			pending = append(pending, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}
