// Copyright 2025 Certen Protocol

package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Receipt is a portable Merkle inclusion proof: a leaf hash plus the
// sibling path needed to recompute a checkpoint root, independently of
// any CORTEX instance. export_verifiable ships these to external
// auditors; import_verifiable recomputes and compares.
//
// Verification invariants (fail-closed):
//  1. Start must be exactly 32 bytes
//  2. Anchor must be exactly 32 bytes
//  3. Each Entry.Hash must be exactly 32 bytes
//  4. Merkle recomputation from Start through Entries must equal Anchor
type Receipt struct {
	// Start is the leaf hash being proven (32 bytes, hex-encoded).
	Start string `json:"start"`

	// Anchor is the root hash reached by applying the proof (32 bytes, hex-encoded).
	Anchor string `json:"anchor"`

	// Entries is the Merkle path from Start to Anchor.
	Entries []ReceiptEntry `json:"entries"`
}

// ReceiptEntry is a single step in the Merkle proof path.
type ReceiptEntry struct {
	// Hash is the sibling hash at this level (32 bytes, hex-encoded).
	Hash string `json:"hash"`

	// Right indicates the sibling's position:
	//  - true:  sibling is on the right, compute SHA256(current || sibling)
	//  - false: sibling is on the left, compute SHA256(sibling || current)
	Right bool `json:"right"`
}

// Validate recomputes the Merkle path and checks it reaches Anchor.
func (r *Receipt) Validate() error {
	startHex, err := mustHex32Lower(r.Start, "receipt.start")
	if err != nil {
		return err
	}
	anchorHex, err := mustHex32Lower(r.Anchor, "receipt.anchor")
	if err != nil {
		return err
	}

	start, _ := hex.DecodeString(startHex)
	anchor, _ := hex.DecodeString(anchorHex)

	current := start
	for i, entry := range r.Entries {
		entryHex, err := mustHex32Lower(entry.Hash, fmt.Sprintf("receipt.entries[%d].hash", i))
		if err != nil {
			return err
		}
		sibling, _ := hex.DecodeString(entryHex)

		if entry.Right {
			current = receiptHashPair(current, sibling)
		} else {
			current = receiptHashPair(sibling, current)
		}
	}

	if !bytes.Equal(current, anchor) {
		return fmt.Errorf("merkle recomputation mismatch: computed=%x, expected=%x", current, anchor)
	}
	return nil
}

// ComputeRoot recomputes the Merkle root from Start through Entries
// without checking it against Anchor. Call Validate to check both.
func (r *Receipt) ComputeRoot() ([32]byte, error) {
	startHex, err := mustHex32Lower(r.Start, "receipt.start")
	if err != nil {
		return [32]byte{}, err
	}
	start, _ := hex.DecodeString(startHex)

	current := start
	for i, entry := range r.Entries {
		entryHex, err := mustHex32Lower(entry.Hash, fmt.Sprintf("receipt.entries[%d].hash", i))
		if err != nil {
			return [32]byte{}, err
		}
		sibling, _ := hex.DecodeString(entryHex)

		if entry.Right {
			current = receiptHashPair(current, sibling)
		} else {
			current = receiptHashPair(sibling, current)
		}
	}

	var result [32]byte
	copy(result[:], current)
	return result, nil
}

// ToJSON serializes the receipt.
func (r *Receipt) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ReceiptFromJSON deserializes a receipt.
func ReceiptFromJSON(data []byte) (*Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReceiptFromProof converts an InclusionProof (built against a live Tree)
// into its portable Receipt form.
func ReceiptFromProof(proof *InclusionProof) *Receipt {
	r := &Receipt{
		Start:   proof.LeafHash,
		Anchor:  proof.MerkleRoot,
		Entries: make([]ReceiptEntry, len(proof.Path)),
	}
	for i, node := range proof.Path {
		r.Entries[i] = ReceiptEntry{Hash: node.Hash, Right: node.Position == Right}
	}
	return r
}

// receiptHashPair computes SHA256(left || right).
func receiptHashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// mustHex32Lower validates that s is exactly 32 bytes of hex (64 chars).
func mustHex32Lower(s string, label string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%s: empty", label)
	}
	if len(s) != 64 {
		return "", fmt.Errorf("%s: expected 64 hex chars (32 bytes), got len=%d", label, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%s: invalid hex: %w", label, err)
	}
	return s, nil
}
