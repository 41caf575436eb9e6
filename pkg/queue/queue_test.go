package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/journal"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[string(key)], nil
}

func (m *memKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.Lock()
	var keys []string
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	sort.Strings(keys)
	for _, k := range keys {
		m.mu.Lock()
		v := m.data[k]
		m.mu.Unlock()
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

type recordingCommitter struct {
	mu      sync.Mutex
	order   []string
	fail    bool
}

func (c *recordingCommitter) Commit(_ context.Context, m Mutation) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, errs.New(errs.KindConfigError, "forced failure", nil)
	}
	c.order = append(c.order, string(m.Payload))
	return len(c.order), nil
}

func newQueue(t *testing.T, c Committer) *Queue {
	t.Helper()
	j, err := journal.Open(newMemKV())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	q, err := Open(j, c, 10)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	return q
}

func TestSubmitCommitsInOrderPerTenant(t *testing.T) {
	c := &recordingCommitter{}
	q := newQueue(t, c)
	defer q.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		payload := json.RawMessage([]byte{'0' + byte(i)})
		if _, err := q.Submit(ctx, Mutation{TenantID: "t1", Kind: "CREATE", Payload: payload}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	want := []string{"0", "1", "2", "3", "4"}
	for i, v := range want {
		if c.order[i] != v {
			t.Fatalf("expected commit order %v, got %v", want, c.order)
		}
	}
}

func TestSubmitReturnsErrorFromCommitter(t *testing.T) {
	c := &recordingCommitter{fail: true}
	q := newQueue(t, c)
	defer q.Close()

	_, err := q.Submit(context.Background(), Mutation{TenantID: "t1", Kind: "CREATE", Payload: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected error from failing committer")
	}
}

type slowCommitter struct {
	release chan struct{}
}

func (c *slowCommitter) Commit(_ context.Context, m Mutation) (interface{}, error) {
	<-c.release
	return "ok", nil
}

// TestTimedOutSubmitStillMarksJournalCommitted covers the case where a
// Submit call times out waiting on a slow commit that the tenant
// committer goroutine dispatches anyway: once the commit finally
// finishes, the journal entry must still be marked committed so a
// crash-recovery replay never re-applies it a second time.
func TestTimedOutSubmitStillMarksJournalCommitted(t *testing.T) {
	c := &slowCommitter{release: make(chan struct{})}
	j, err := journal.Open(newMemKV())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	q, err := Open(j, c, 10)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	defer func() {
		close(c.release)
		q.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = q.Submit(ctx, Mutation{TenantID: "t1", Kind: "CREATE", Payload: json.RawMessage(`{}`)})
	if !errs.Is(err, errs.KindTimeout) {
		t.Fatalf("expected KindTimeout while commit is still in flight, got %v", err)
	}

	pending, err := j.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the in-flight entry still pending before commit finishes, got %d", len(pending))
	}

	close(c.release)
	c.release = make(chan struct{})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pending, err = j.Pending()
		if err != nil {
			t.Fatalf("Pending: %v", err)
		}
		if len(pending) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the entry to eventually be marked committed once the slow commit completed")
}

func TestSubmitRespectsDeadlineWhenQueueFull(t *testing.T) {
	c := &recordingCommitter{}
	j, err := journal.Open(newMemKV())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	q, err := Open(j, c, 1)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	defer q.Close()

	q.sem <- struct{}{}
	defer func() { <-q.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = q.Submit(ctx, Mutation{TenantID: "t1", Kind: "CREATE", Payload: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected Busy/Timeout error when queue is saturated")
	}
	if !errs.Is(err, errs.KindBusy) {
		t.Fatalf("expected KindBusy, got %v", err)
	}
}
