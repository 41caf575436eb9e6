// Copyright 2025 Certen Protocol

package merkle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/storage"
)

// CheckpointStore is the persistence surface the Checkpointer needs.
// storage.CheckpointRepository satisfies it; tests substitute a fake.
type CheckpointStore interface {
	PendingTxCount(ctx context.Context, tenantID string) (int64, error)
	TransactionHashesInRange(ctx context.Context, tenantID string, start, end int64) ([]string, error)
	CreateLocked(ctx context.Context, tenantID string, build func(hashes []string) (rootHash string, err error)) (start, end int64, checkpoint *storage.Checkpoint, err error)
	List(ctx context.Context, tenantID string) ([]storage.Checkpoint, error)
	Get(ctx context.Context, tenantID string, start, end int64) (*storage.Checkpoint, error)
}

// Checkpointer seals ranges of a tenant's ledger transactions into
// Merkle checkpoints, and later proves or re-verifies them.
type Checkpointer struct {
	store     CheckpointStore
	batchSize int64
}

// NewCheckpointer constructs a Checkpointer. batchSize is the pending
// transaction count that triggers an automatic checkpoint (spec default
// 1000); explicit CreateCheckpoint calls ignore it.
func NewCheckpointer(store CheckpointStore, batchSize int64) *Checkpointer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Checkpointer{store: store, batchSize: batchSize}
}

// leavesFromHashes hex-decodes an ordered list of transaction hashes
// into 32-byte Merkle leaves.
func leavesFromHashes(hashes []string) ([][]byte, error) {
	leaves := make([][]byte, len(hashes))
	for i, h := range hashes {
		b, err := hex.DecodeString(h)
		if err != nil || len(b) != 32 {
			return nil, errs.New(errs.KindEncoding, fmt.Sprintf("transaction hash %d is not a 32-byte hex digest", i), err)
		}
		leaves[i] = b
	}
	return leaves, nil
}

// MaybeCheckpoint seals the next pending range if it has reached
// batchSize transactions; otherwise it returns (nil, nil) without
// touching storage. This is the batch-trigger path the Writer Queue
// polls after each commit.
func (c *Checkpointer) MaybeCheckpoint(ctx context.Context, tenantID string) (*storage.Checkpoint, error) {
	pending, err := c.store.PendingTxCount(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if pending < c.batchSize {
		return nil, nil
	}
	return c.CreateCheckpoint(ctx, tenantID)
}

// CreateCheckpoint seals every transaction since the last checkpoint
// into a new one, regardless of how many there are. The read of the
// pending range, the read of the hashes it covers, and the write of the
// sealed row all happen under CreateLocked's single tenant advisory
// lock, so a MaybeCheckpoint trigger racing an explicit call for the
// same tenant can never seal overlapping ranges. A tenant with nothing
// pending simply has nothing to seal, reported as an error so callers
// don't mistake it for success.
func (c *Checkpointer) CreateCheckpoint(ctx context.Context, tenantID string) (*storage.Checkpoint, error) {
	_, _, checkpoint, err := c.store.CreateLocked(ctx, tenantID, func(hashes []string) (string, error) {
		leaves, err := leavesFromHashes(hashes)
		if err != nil {
			return "", err
		}
		tree, err := BuildTree(tenantID, leaves)
		if err != nil {
			return "", errs.New(errs.KindMerkleMismatch, "failed to build checkpoint tree", err)
		}
		return tree.RootHex(), nil
	})
	if err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// VerificationResult is the outcome of Verify.
type VerificationResult struct {
	Valid     bool
	Mismatch  *storage.Checkpoint
	Violation string
}

// Verify recomputes the root of every sealed checkpoint for tenantID
// from its stored transaction hashes and compares it against the
// recorded root. It stops at the first divergence.
func (c *Checkpointer) Verify(ctx context.Context, tenantID string) (*VerificationResult, error) {
	checkpoints, err := c.store.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	for i := range checkpoints {
		cp := checkpoints[i]
		hashes, err := c.store.TransactionHashesInRange(ctx, tenantID, cp.TxStart, cp.TxEnd)
		if err != nil {
			return nil, err
		}
		leaves, err := leavesFromHashes(hashes)
		if err != nil {
			return nil, err
		}
		tree, err := BuildTree(tenantID, leaves)
		if err != nil {
			return nil, errs.New(errs.KindMerkleMismatch, "failed to rebuild checkpoint tree", err)
		}
		if tree.RootHex() != cp.RootHash {
			return &VerificationResult{
				Valid:     false,
				Mismatch:  &cp,
				Violation: fmt.Sprintf("checkpoint [%d,%d]: recomputed root %s != stored root %s", cp.TxStart, cp.TxEnd, tree.RootHex(), cp.RootHash),
			}, nil
		}
	}

	return &VerificationResult{Valid: true}, nil
}

// InclusionProof proves that transaction txID belongs to the checkpoint
// covering it, returning the checkpoint alongside the proof so the
// caller can present both to an auditor.
func (c *Checkpointer) InclusionProof(ctx context.Context, tenantID string, txID int64) (*InclusionProof, *storage.Checkpoint, error) {
	checkpoints, err := c.store.List(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	var covering *storage.Checkpoint
	for i := range checkpoints {
		if txID >= checkpoints[i].TxStart && txID <= checkpoints[i].TxEnd {
			covering = &checkpoints[i]
			break
		}
	}
	if covering == nil {
		return nil, nil, errs.New(errs.KindNotFound, fmt.Sprintf("no checkpoint covers transaction %d", txID), storage.ErrCheckpointNotFound)
	}

	hashes, err := c.store.TransactionHashesInRange(ctx, tenantID, covering.TxStart, covering.TxEnd)
	if err != nil {
		return nil, nil, err
	}
	leaves, err := leavesFromHashes(hashes)
	if err != nil {
		return nil, nil, err
	}
	tree, err := BuildTree(tenantID, leaves)
	if err != nil {
		return nil, nil, errs.New(errs.KindMerkleMismatch, "failed to rebuild checkpoint tree", err)
	}

	proof, err := tree.GenerateProof(int(txID - covering.TxStart))
	if err != nil {
		return nil, nil, errs.New(errs.KindMerkleMismatch, "failed to generate inclusion proof", err)
	}
	return proof, covering, nil
}

// Manifest accompanies an export_verifiable blob: enough to recompute
// and cross-check the blob's integrity and Merkle root independently of
// the exporting CORTEX instance.
type Manifest struct {
	TenantID   string `json:"tenant_id"`
	TxStart    int64  `json:"tx_start"`
	TxEnd      int64  `json:"tx_end"`
	RootHash   string `json:"root_hash"`
	BlobSHA256 string `json:"blob_sha256"`
}

// exportBlob is the wire shape of an export_verifiable blob: the ordered
// transaction hashes a re-importer rebuilds the tree from.
type exportBlob struct {
	TenantID string   `json:"tenant_id"`
	TxStart  int64    `json:"tx_start"`
	TxEnd    int64    `json:"tx_end"`
	Hashes   []string `json:"hashes"`
}

// ExportVerifiable seals [from, to] (or the existing checkpoint covering
// it, if one exists) and returns a manifest plus the blob it describes.
// The manifest lets an external party verify the blob's integrity
// (BlobSHA256) and the Merkle root it reduces to (RootHash) without
// trusting this instance.
func (c *Checkpointer) ExportVerifiable(ctx context.Context, tenantID string, from, to int64) (*Manifest, []byte, error) {
	var rootHash string
	cp, err := c.store.Get(ctx, tenantID, from, to)
	if err == nil {
		rootHash = cp.RootHash
	} else if !errs.Is(err, errs.KindNotFound) {
		return nil, nil, err
	}

	hashes, err := c.store.TransactionHashesInRange(ctx, tenantID, from, to)
	if err != nil {
		return nil, nil, err
	}
	if len(hashes) == 0 {
		return nil, nil, errs.New(errs.KindNotFound, "no transactions in requested range", nil)
	}

	if rootHash == "" {
		leaves, err := leavesFromHashes(hashes)
		if err != nil {
			return nil, nil, err
		}
		tree, err := BuildTree(tenantID, leaves)
		if err != nil {
			return nil, nil, errs.New(errs.KindMerkleMismatch, "failed to build export tree", err)
		}
		rootHash = tree.RootHex()
	}

	blob, err := json.Marshal(exportBlob{TenantID: tenantID, TxStart: from, TxEnd: to, Hashes: hashes})
	if err != nil {
		return nil, nil, errs.New(errs.KindEncoding, "failed to encode export blob", err)
	}
	blobHash := sha256.Sum256(blob)

	manifest := &Manifest{
		TenantID:   tenantID,
		TxStart:    from,
		TxEnd:      to,
		RootHash:   rootHash,
		BlobSHA256: hex.EncodeToString(blobHash[:]),
	}
	return manifest, blob, nil
}

// ImportResult is the outcome of ImportVerifiable.
type ImportResult struct {
	Valid      bool
	Mismatches []string
}

// ImportVerifiable independently re-derives a blob's integrity and
// Merkle root from manifest, without touching this instance's storage.
// It is the intended counterpart to ExportVerifiable run by a third
// party holding only the manifest and blob.
func ImportVerifiable(manifest *Manifest, blob []byte) (*ImportResult, error) {
	result := &ImportResult{Valid: true}

	blobHash := sha256.Sum256(blob)
	if hex.EncodeToString(blobHash[:]) != manifest.BlobSHA256 {
		result.Valid = false
		result.Mismatches = append(result.Mismatches, "blob sha256 does not match manifest")
		return result, nil
	}

	var decoded exportBlob
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return nil, errs.New(errs.KindEncoding, "failed to decode export blob", err)
	}
	if decoded.TenantID != manifest.TenantID || decoded.TxStart != manifest.TxStart || decoded.TxEnd != manifest.TxEnd {
		result.Valid = false
		result.Mismatches = append(result.Mismatches, "blob range does not match manifest")
	}

	leaves, err := leavesFromHashes(decoded.Hashes)
	if err != nil {
		return nil, err
	}
	tree, err := BuildTree(manifest.TenantID, leaves)
	if err != nil {
		return nil, errs.New(errs.KindMerkleMismatch, "failed to rebuild tree from blob", err)
	}
	if tree.RootHex() != manifest.RootHash {
		result.Valid = false
		result.Mismatches = append(result.Mismatches, "recomputed root does not match manifest root_hash")
	}

	return result, nil
}
