// Copyright 2025 Certen Protocol

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/certen/cortex/pkg/errs"
)

// CheckpointRepository persists Merkle checkpoint metadata. Tree
// construction and root computation happen in pkg/merkle, which reads
// transaction hashes through TransactionHashesInRange and writes the
// sealed result back through Create.
type CheckpointRepository struct {
	client *Client
}

// NewCheckpointRepository constructs a CheckpointRepository over client.
func NewCheckpointRepository(client *Client) *CheckpointRepository {
	return &CheckpointRepository{client: client}
}

// PendingTxCount returns the number of transactions for tenantID not
// yet covered by any checkpoint, the Merkle Checkpointer's batch
// trigger input.
func (r *CheckpointRepository) PendingTxCount(ctx context.Context, tenantID string) (int64, error) {
	var lastCovered sql.NullInt64
	err := r.client.QueryRowContext(ctx,
		`SELECT MAX(tx_end) FROM merkle_roots WHERE tenant_id = $1`, tenantID,
	).Scan(&lastCovered)
	if err != nil {
		return 0, errs.New(errs.KindChainBreak, "failed to read last checkpoint", err)
	}

	var maxTx sql.NullInt64
	err = r.client.QueryRowContext(ctx,
		`SELECT MAX(id) FROM transactions WHERE tenant_id = $1`, tenantID,
	).Scan(&maxTx)
	if err != nil {
		return 0, errs.New(errs.KindChainBreak, "failed to read latest transaction id", err)
	}
	if !maxTx.Valid {
		return 0, nil
	}
	if !lastCovered.Valid {
		return maxTx.Int64, nil
	}
	return maxTx.Int64 - lastCovered.Int64, nil
}

// TransactionHashesInRange returns the ordered tx hashes for [start,
// end], the Merkle tree's leaves.
func (r *CheckpointRepository) TransactionHashesInRange(ctx context.Context, tenantID string, start, end int64) ([]string, error) {
	rows, err := r.client.QueryContext(ctx,
		`SELECT hash FROM transactions WHERE tenant_id = $1 AND id >= $2 AND id <= $3 ORDER BY id ASC`,
		tenantID, start, end,
	)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to read transaction hashes", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to scan transaction hash", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// NextRange returns [start, end] of transactions not yet covered by a
// checkpoint, for tenantID.
func (r *CheckpointRepository) NextRange(ctx context.Context, tenantID string) (start, end int64, err error) {
	var lastCovered sql.NullInt64
	if err := r.client.QueryRowContext(ctx,
		`SELECT MAX(tx_end) FROM merkle_roots WHERE tenant_id = $1`, tenantID,
	).Scan(&lastCovered); err != nil {
		return 0, 0, errs.New(errs.KindChainBreak, "failed to read last checkpoint", err)
	}
	start = 1
	if lastCovered.Valid {
		start = lastCovered.Int64 + 1
	}

	var maxTx sql.NullInt64
	if err := r.client.QueryRowContext(ctx,
		`SELECT MAX(id) FROM transactions WHERE tenant_id = $1`, tenantID,
	).Scan(&maxTx); err != nil {
		return 0, 0, errs.New(errs.KindChainBreak, "failed to read latest transaction id", err)
	}
	if !maxTx.Valid {
		return start, 0, nil
	}
	return start, maxTx.Int64, nil
}

// Create seals a checkpoint covering [start, end] with rootHash.
func (r *CheckpointRepository) Create(ctx context.Context, tenantID string, start, end int64, rootHash string) (*Checkpoint, error) {
	var c Checkpoint
	err := r.client.QueryRowContext(ctx, `
		INSERT INTO merkle_roots (tenant_id, tx_start, tx_end, root_hash)
		VALUES ($1,$2,$3,$4)
		RETURNING id, tenant_id, tx_start, tx_end, root_hash, created_at`,
		tenantID, start, end, rootHash,
	).Scan(&c.ID, &c.TenantID, &c.TxStart, &c.TxEnd, &c.RootHash, &c.CreatedAt)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to create checkpoint", err)
	}
	return &c, nil
}

// CreateLocked seals the next pending range into a checkpoint under
// tenantID's advisory lock: it determines [start, end], reads the
// covered transaction hashes, calls build to reduce them to a root
// hash, and inserts the sealed merkle_roots row, all inside one
// transaction. This is what the Merkle Checkpointer calls instead of
// NextRange+TransactionHashesInRange+Create as three unsynchronized
// statements, so two concurrent checkpoint attempts for the same
// tenant (an automatic MaybeCheckpoint trigger racing an explicit
// create_checkpoint call) can never compute overlapping ranges — the
// same pg_advisory_xact_lock(hashtext(tenant_id)) pattern ledger.go
// uses for chain-head linkage.
func (r *CheckpointRepository) CreateLocked(ctx context.Context, tenantID string, build func(hashes []string) (rootHash string, err error)) (start, end int64, checkpoint *Checkpoint, err error) {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, nil, errs.New(errs.KindChainBreak, "failed to begin checkpoint transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return 0, 0, nil, errs.New(errs.KindChainBreak, "failed to acquire tenant advisory lock", err)
	}

	var lastCovered sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(tx_end) FROM merkle_roots WHERE tenant_id = $1`, tenantID,
	).Scan(&lastCovered); err != nil {
		return 0, 0, nil, errs.New(errs.KindChainBreak, "failed to read last checkpoint", err)
	}
	start = 1
	if lastCovered.Valid {
		start = lastCovered.Int64 + 1
	}

	var maxTx sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(id) FROM transactions WHERE tenant_id = $1`, tenantID,
	).Scan(&maxTx); err != nil {
		return 0, 0, nil, errs.New(errs.KindChainBreak, "failed to read latest transaction id", err)
	}
	if !maxTx.Valid {
		return start, 0, nil, errs.New(errs.KindNotFound, "no pending transactions to checkpoint", nil)
	}
	end = maxTx.Int64
	if end < start {
		return start, end, nil, errs.New(errs.KindNotFound, "no pending transactions to checkpoint", nil)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT hash FROM transactions WHERE tenant_id = $1 AND id >= $2 AND id <= $3 ORDER BY id ASC`,
		tenantID, start, end,
	)
	if err != nil {
		return start, end, nil, errs.New(errs.KindChainBreak, "failed to read transaction hashes", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return start, end, nil, errs.New(errs.KindChainBreak, "failed to scan transaction hash", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return start, end, nil, errs.New(errs.KindChainBreak, "failed to read transaction hashes", err)
	}
	rows.Close()
	if len(hashes) == 0 {
		return start, end, nil, errs.New(errs.KindNotFound, "no pending transactions to checkpoint", nil)
	}

	rootHash, err := build(hashes)
	if err != nil {
		return start, end, nil, err
	}

	var c Checkpoint
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO merkle_roots (tenant_id, tx_start, tx_end, root_hash)
		VALUES ($1,$2,$3,$4)
		RETURNING id, tenant_id, tx_start, tx_end, root_hash, created_at`,
		tenantID, start, end, rootHash,
	).Scan(&c.ID, &c.TenantID, &c.TxStart, &c.TxEnd, &c.RootHash, &c.CreatedAt); err != nil {
		return start, end, nil, errs.New(errs.KindChainBreak, "failed to create checkpoint", err)
	}

	if err := tx.Commit(); err != nil {
		return start, end, nil, errs.New(errs.KindChainBreak, "failed to commit checkpoint transaction", err)
	}
	return start, end, &c, nil
}

// List returns every checkpoint for tenantID in range order.
func (r *CheckpointRepository) List(ctx context.Context, tenantID string) ([]Checkpoint, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT id, tenant_id, tx_start, tx_end, root_hash, created_at
		FROM merkle_roots WHERE tenant_id = $1 ORDER BY tx_start ASC`,
		tenantID,
	)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to list checkpoints", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.ID, &c.TenantID, &c.TxStart, &c.TxEnd, &c.RootHash, &c.CreatedAt); err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to scan checkpoint row", err)
		}
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, rows.Err()
}

// Get returns the checkpoint covering a transaction range exactly.
func (r *CheckpointRepository) Get(ctx context.Context, tenantID string, start, end int64) (*Checkpoint, error) {
	var c Checkpoint
	err := r.client.QueryRowContext(ctx, `
		SELECT id, tenant_id, tx_start, tx_end, root_hash, created_at
		FROM merkle_roots WHERE tenant_id = $1 AND tx_start = $2 AND tx_end = $3`,
		tenantID, start, end,
	).Scan(&c.ID, &c.TenantID, &c.TxStart, &c.TxEnd, &c.RootHash, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("no checkpoint for range [%d,%d]", start, end), ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to read checkpoint", err)
	}
	return &c, nil
}
