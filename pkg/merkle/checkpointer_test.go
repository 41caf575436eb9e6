package merkle

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/certen/cortex/pkg/canonical"
	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/storage"
)

// fakeStore is an in-memory CheckpointStore for unit tests. mu stands
// in for the real CheckpointRepository's tenant advisory lock: it
// serializes the read-then-write section CreateLocked performs.
type fakeStore struct {
	mu          sync.Mutex
	hashes      []string // 1-indexed by transaction id (hashes[0] is tx id 1)
	checkpoints []storage.Checkpoint
}

func (f *fakeStore) PendingTxCount(ctx context.Context, tenantID string) (int64, error) {
	f.mu.Lock()
	start, end := f.nextRangeLocked()
	f.mu.Unlock()
	if end < start {
		return 0, nil
	}
	return end - start + 1, nil
}

func (f *fakeStore) TransactionHashesInRange(ctx context.Context, tenantID string, start, end int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashesInRangeLocked(start, end), nil
}

func (f *fakeStore) nextRangeLocked() (int64, int64) {
	start := int64(1)
	if len(f.checkpoints) > 0 {
		start = f.checkpoints[len(f.checkpoints)-1].TxEnd + 1
	}
	return start, int64(len(f.hashes))
}

func (f *fakeStore) hashesInRangeLocked(start, end int64) []string {
	var out []string
	for id := start; id <= end; id++ {
		if id < 1 || int(id) > len(f.hashes) {
			continue
		}
		out = append(out, f.hashes[id-1])
	}
	return out
}

func (f *fakeStore) CreateLocked(ctx context.Context, tenantID string, build func(hashes []string) (string, error)) (int64, int64, *storage.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start, end := f.nextRangeLocked()
	if end < start {
		return start, end, nil, errs.New(errs.KindNotFound, "no pending transactions to checkpoint", nil)
	}
	hashes := f.hashesInRangeLocked(start, end)
	if len(hashes) == 0 {
		return start, end, nil, errs.New(errs.KindNotFound, "no pending transactions to checkpoint", nil)
	}

	rootHash, err := build(hashes)
	if err != nil {
		return start, end, nil, err
	}

	cp := storage.Checkpoint{ID: int64(len(f.checkpoints) + 1), TenantID: tenantID, TxStart: start, TxEnd: end, RootHash: rootHash}
	f.checkpoints = append(f.checkpoints, cp)
	return start, end, &cp, nil
}

func (f *fakeStore) List(ctx context.Context, tenantID string) ([]storage.Checkpoint, error) {
	return append([]storage.Checkpoint(nil), f.checkpoints...), nil
}

func (f *fakeStore) Get(ctx context.Context, tenantID string, start, end int64) (*storage.Checkpoint, error) {
	for _, cp := range f.checkpoints {
		if cp.TxStart == start && cp.TxEnd == end {
			return &cp, nil
		}
	}
	return nil, errs.New(errs.KindNotFound, "no checkpoint for range", storage.ErrCheckpointNotFound)
}

func txHash(seed string) string {
	h, err := canonical.HashHex([]canonical.Field{{Key: "seed", Value: seed}})
	if err != nil {
		panic(err)
	}
	return h
}

func newFakeStore(n int) *fakeStore {
	hashes := make([]string, n)
	for i := 0; i < n; i++ {
		hashes[i] = txHash(string(rune('a' + i)))
	}
	return &fakeStore{hashes: hashes}
}

func TestMaybeCheckpointSkipsBelowBatchSize(t *testing.T) {
	store := newFakeStore(3)
	c := NewCheckpointer(store, 10)

	cp, err := c.MaybeCheckpoint(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("MaybeCheckpoint: %v", err)
	}
	if cp != nil {
		t.Fatal("expected no checkpoint below batch size")
	}
}

func TestMaybeCheckpointSealsAtBatchSize(t *testing.T) {
	store := newFakeStore(5)
	c := NewCheckpointer(store, 5)

	cp, err := c.MaybeCheckpoint(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("MaybeCheckpoint: %v", err)
	}
	if cp == nil {
		t.Fatal("expected checkpoint to be sealed")
	}
	if cp.TxStart != 1 || cp.TxEnd != 5 {
		t.Fatalf("unexpected range [%d,%d]", cp.TxStart, cp.TxEnd)
	}
}

func TestCreateCheckpointFailsWithNothingPending(t *testing.T) {
	store := newFakeStore(0)
	c := NewCheckpointer(store, 1)

	_, err := c.CreateCheckpoint(context.Background(), "tenant-a")
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestVerifyDetectsTamperedCheckpoint(t *testing.T) {
	store := newFakeStore(4)
	c := NewCheckpointer(store, 4)

	if _, err := c.CreateCheckpoint(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	result, err := c.Verify(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid checkpoint, got violation %q", result.Violation)
	}

	store.checkpoints[0].RootHash = txHash("tampered")
	result, err = c.Verify(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid {
		t.Fatal("expected tampered checkpoint to fail verification")
	}
}

func TestInclusionProofRoundTrips(t *testing.T) {
	store := newFakeStore(4)
	c := NewCheckpointer(store, 4)

	if _, err := c.CreateCheckpoint(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	proof, cp, err := c.InclusionProof(context.Background(), "tenant-a", 3)
	if err != nil {
		t.Fatalf("InclusionProof: %v", err)
	}

	leafBytes, _ := hex.DecodeString(store.hashes[2])
	rootBytes, _ := hex.DecodeString(cp.RootHash)
	valid, err := VerifyProof("tenant-a", leafBytes, proof, rootBytes)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if !valid {
		t.Fatal("expected inclusion proof to verify")
	}
}

func TestExportImportVerifiableRoundTrips(t *testing.T) {
	store := newFakeStore(6)
	c := NewCheckpointer(store, 100) // large batch size, export ad hoc range

	manifest, blob, err := c.ExportVerifiable(context.Background(), "tenant-a", 1, 6)
	if err != nil {
		t.Fatalf("ExportVerifiable: %v", err)
	}

	result, err := ImportVerifiable(manifest, blob)
	if err != nil {
		t.Fatalf("ImportVerifiable: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid import, got mismatches %v", result.Mismatches)
	}
}

func TestImportVerifiableDetectsTamperedBlob(t *testing.T) {
	store := newFakeStore(6)
	c := NewCheckpointer(store, 100)

	manifest, blob, err := c.ExportVerifiable(context.Background(), "tenant-a", 1, 6)
	if err != nil {
		t.Fatalf("ExportVerifiable: %v", err)
	}

	tampered := append([]byte(nil), blob...)
	tampered[0] = 'X'

	result, err := ImportVerifiable(manifest, tampered)
	if err != nil {
		t.Fatalf("ImportVerifiable: %v", err)
	}
	if result.Valid {
		t.Fatal("expected tampered blob to fail import verification")
	}
}
