// Copyright 2025 Certen Protocol

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/certen/cortex/pkg/canonical"
	"github.com/certen/cortex/pkg/errs"
)

// GenesisHash is the prev_hash of the first transaction in a tenant's
// chain.
const GenesisHash = "GENESIS"

// LedgerRepository implements the L3 Event Ledger's fact and
// transaction operations. It assumes single-writer access per tenant —
// callers reach it exclusively through the Writer Queue's per-tenant
// committer.
type LedgerRepository struct {
	client *Client
}

// NewLedgerRepository constructs a LedgerRepository over client.
func NewLedgerRepository(client *Client) *LedgerRepository {
	return &LedgerRepository{client: client}
}

func contentHash(draft FactDraft) (string, error) {
	fields := []canonical.Field{
		{Key: "tenant_id", Value: draft.TenantID},
		{Key: "project", Value: draft.Project},
		{Key: "fact_type", Value: string(draft.FactType)},
		{Key: "content", Value: draft.Content},
		{Key: "tags", Value: draft.Tags},
		{Key: "source", Value: draft.Source},
		{Key: "valid_from", Value: draft.ValidFrom.UTC()},
	}
	if draft.ValidUntil != nil {
		fields = append(fields, canonical.Field{Key: "valid_until", Value: draft.ValidUntil.UTC()})
	}
	return canonical.HashHex(fields)
}

func transactionHash(prevHash, tenantID string, factID *int64, action Action, detail string, ts time.Time) (string, error) {
	fields := []canonical.Field{
		{Key: "prev_hash", Value: prevHash},
		{Key: "tenant_id", Value: tenantID},
		{Key: "action", Value: string(action)},
		{Key: "detail", Value: detail},
		{Key: "timestamp", Value: ts.UTC()},
	}
	if factID != nil {
		fields = append(fields, canonical.Field{Key: "fact_id", Value: *factID})
	}
	return canonical.HashHex(fields)
}

// chainHead returns the hash of the last committed transaction for
// tenantID within tx, or GenesisHash if the tenant has none yet.
func chainHead(ctx context.Context, tx *sql.Tx, tenantID string) (string, error) {
	var hash string
	err := tx.QueryRowContext(ctx,
		`SELECT hash FROM transactions WHERE tenant_id = $1 ORDER BY id DESC LIMIT 1`,
		tenantID,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return GenesisHash, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// StoreFact assigns an id, computes content_hash, inserts the fact, and
// appends a CREATE transaction linking prev_hash -> hash, all within a
// single database transaction.
func (r *LedgerRepository) StoreFact(ctx context.Context, draft FactDraft) (int64, error) {
	if draft.ValidFrom.IsZero() {
		draft.ValidFrom = time.Now().UTC()
	}

	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.New(errs.KindChainBreak, "failed to begin fact transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, draft.TenantID); err != nil {
		return 0, errs.New(errs.KindChainBreak, "failed to acquire tenant advisory lock", err)
	}

	hash, err := contentHash(draft)
	if err != nil {
		return 0, err
	}

	if immutableFactTypes[draft.FactType] {
		var existingID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM facts WHERE tenant_id = $1 AND project = $2 AND fact_type = $3 AND content_hash = $4 AND valid_until IS NULL`,
			draft.TenantID, draft.Project, string(draft.FactType), hash,
		).Scan(&existingID)
		if err == nil {
			return existingID, errs.New(errs.KindConflict, fmt.Sprintf("identical %s content already stored as fact %d", draft.FactType, existingID), nil)
		}
		if err != sql.ErrNoRows {
			return 0, errs.New(errs.KindChainBreak, "failed to check for duplicate immutable fact", err)
		}
	}

	prevHash, err := chainHead(ctx, tx, draft.TenantID)
	if err != nil {
		return 0, errs.New(errs.KindChainBreak, "failed to read chain head", err)
	}

	tagsJSON, err := jsonArray(draft.Tags)
	if err != nil {
		return 0, errs.New(errs.KindEncoding, "failed to encode tags", err)
	}

	var factID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO facts (
			tenant_id, project, fact_type, content, tags, confidence, consensus_score,
			valid_from, valid_until, source, content_hash, prev_hash, sensitive
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		draft.TenantID, draft.Project, string(draft.FactType), draft.Content, tagsJSON,
		string(ConfidenceStated), 1.0, draft.ValidFrom, draft.ValidUntil, draft.Source,
		hash, prevHash, draft.Sensitive,
	).Scan(&factID)
	if err != nil {
		return 0, errs.New(errs.KindChainBreak, "failed to insert fact", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO facts_fts (fact_id, tenant_id, document)
		VALUES ($1, $2, to_tsvector('english', $3))`,
		factID, draft.TenantID, draft.Content,
	); err != nil {
		return 0, errs.New(errs.KindChainBreak, "failed to index fact for full text search", err)
	}

	if err := appendTransaction(ctx, tx, draft.TenantID, &factID, ActionCreate, hash, prevHash); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.New(errs.KindChainBreak, "failed to commit fact transaction", err)
	}
	return factID, nil
}

// appendTransaction computes the transaction hash and inserts the row;
// callers hold the tenant advisory lock already acquired in the same
// database transaction.
func appendTransaction(ctx context.Context, tx *sql.Tx, tenantID string, factID *int64, action Action, detail, prevHash string) error {
	ts := time.Now().UTC()
	hash, err := transactionHash(prevHash, tenantID, factID, action, detail, ts)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (tenant_id, fact_id, action, detail, prev_hash, hash, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		tenantID, factID, string(action), detail, prevHash, hash, ts,
	)
	if err != nil {
		return errs.New(errs.KindChainBreak, "failed to append transaction", err)
	}
	return nil
}

// DeprecateFact sets valid_until on fact id and appends a DEPRECATE
// transaction. If successorDraft is non-nil, a replacement fact is
// created in the same database transaction and its id returned.
func (r *LedgerRepository) DeprecateFact(ctx context.Context, tenantID string, id int64, reason string, successorDraft *FactDraft) (*int64, error) {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to begin deprecate transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to acquire tenant advisory lock", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE facts SET valid_until = now() WHERE id = $1 AND tenant_id = $2 AND valid_until IS NULL`,
		id, tenantID,
	)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to deprecate fact", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("fact %d not found for tenant", id), ErrFactNotFound)
	}

	prevHash, err := chainHead(ctx, tx, tenantID)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to read chain head", err)
	}
	if err := appendTransaction(ctx, tx, tenantID, &id, ActionDeprecate, reason, prevHash); err != nil {
		return nil, err
	}

	var successorID *int64
	if successorDraft != nil {
		sd := *successorDraft
		sd.TenantID = tenantID
		if sd.ValidFrom.IsZero() {
			sd.ValidFrom = time.Now().UTC()
		}
		hash, err := contentHash(sd)
		if err != nil {
			return nil, err
		}
		prevHash, err = chainHead(ctx, tx, tenantID)
		if err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to read chain head for successor", err)
		}
		tagsJSON, err := jsonArray(sd.Tags)
		if err != nil {
			return nil, errs.New(errs.KindEncoding, "failed to encode successor tags", err)
		}
		var newID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO facts (
				tenant_id, project, fact_type, content, tags, confidence, consensus_score,
				valid_from, valid_until, source, content_hash, prev_hash, sensitive
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			RETURNING id`,
			sd.TenantID, sd.Project, string(sd.FactType), sd.Content, tagsJSON,
			string(ConfidenceStated), 1.0, sd.ValidFrom, sd.ValidUntil, sd.Source,
			hash, prevHash, sd.Sensitive,
		).Scan(&newID)
		if err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to insert successor fact", err)
		}
		if err := appendTransaction(ctx, tx, tenantID, &newID, ActionCreate, hash, prevHash); err != nil {
			return nil, err
		}
		successorID = &newID
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to commit deprecate transaction", err)
	}
	return successorID, nil
}

// GetFact returns fact id as of the given timestamp (or the current
// state if asOf is nil).
func (r *LedgerRepository) GetFact(ctx context.Context, tenantID string, id int64, asOf *time.Time) (*Fact, error) {
	query := `
		SELECT id, tenant_id, project, fact_type, content, tags, confidence, consensus_score,
		       valid_from, valid_until, source, content_hash, prev_hash, sensitive, created_at
		FROM facts
		WHERE id = $1 AND tenant_id = $2`
	args := []interface{}{id, tenantID}
	if asOf != nil {
		query += ` AND valid_from <= $3 AND (valid_until IS NULL OR valid_until > $3)`
		args = append(args, *asOf)
	}

	fact, err := scanFact(r.client.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("fact %d not found", id), ErrFactNotFound)
	}
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to read fact", err)
	}
	return fact, nil
}

// ListProject returns a tenant-scoped, paginated page of facts in
// project.
func (r *LedgerRepository) ListProject(ctx context.Context, tenantID, project string, filters ListFilters) (*ListResult, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, project, fact_type, content, tags, confidence, consensus_score,
		       valid_from, valid_until, source, content_hash, prev_hash, sensitive, created_at
		FROM facts
		WHERE tenant_id = $1 AND project = $2 AND id > $3`
	args := []interface{}{tenantID, project, filters.Cursor}
	argN := 4

	if filters.Confidence != nil {
		query += fmt.Sprintf(" AND confidence = $%d", argN)
		args = append(args, string(*filters.Confidence))
		argN++
	}
	if filters.AsOf != nil {
		query += fmt.Sprintf(" AND valid_from <= $%d AND (valid_until IS NULL OR valid_until > $%d)", argN, argN)
		args = append(args, *filters.AsOf)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := r.client.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to list project facts", err)
	}
	defer rows.Close()

	result := &ListResult{}
	for rows.Next() {
		fact, err := scanFactRows(rows)
		if err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to scan fact row", err)
		}
		result.Items = append(result.Items, *fact)
		result.NextCursor = fact.ID
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to iterate project facts", err)
	}
	return result, nil
}

// VerifyChain recomputes each transaction's hash in [from, to] for
// tenantID and asserts prev_hash linkage, returning the first breaking
// id if the chain diverges.
func (r *LedgerRepository) VerifyChain(ctx context.Context, tenantID string, from, to *int64) (*ChainVerification, error) {
	query := `SELECT id, fact_id, action, detail, prev_hash, hash, timestamp FROM transactions WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argN := 2
	if from != nil {
		query += fmt.Sprintf(" AND id >= $%d", argN)
		args = append(args, *from)
		argN++
	}
	if to != nil {
		query += fmt.Sprintf(" AND id <= $%d", argN)
		args = append(args, *to)
		argN++
	}
	query += " ORDER BY id ASC"

	rows, err := r.client.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to read transactions for verification", err)
	}
	defer rows.Close()

	result := &ChainVerification{Valid: true}
	expectedPrev := GenesisHash
	haveExpectedPrev := from == nil

	for rows.Next() {
		var (
			id        int64
			factID    sql.NullInt64
			action    string
			detail    string
			prevHash  string
			hash      string
			timestamp time.Time
		)
		if err := rows.Scan(&id, &factID, &action, &detail, &prevHash, &hash, &timestamp); err != nil {
			return nil, errs.New(errs.KindChainBreak, "failed to scan transaction row", err)
		}

		var factIDPtr *int64
		if factID.Valid {
			v := factID.Int64
			factIDPtr = &v
		}

		if haveExpectedPrev && prevHash != expectedPrev {
			result.Valid = false
			result.Violations = append(result.Violations, id)
		}

		recomputed, err := transactionHash(prevHash, tenantID, factIDPtr, Action(action), detail, timestamp)
		if err != nil {
			return nil, err
		}
		if recomputed != hash {
			result.Valid = false
			result.Violations = append(result.Violations, id)
		}

		expectedPrev = hash
		haveExpectedPrev = true
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindChainBreak, "failed to iterate transactions for verification", err)
	}
	return result, nil
}

// AppendTransaction appends a standalone transaction (VOTE, AUDIT) not
// tied to a StoreFact/DeprecateFact call, under the same tenant
// advisory lock and chain-head linkage as those operations.
func (r *LedgerRepository) AppendTransaction(ctx context.Context, tenantID string, factID *int64, action Action, detail string) error {
	tx, err := r.client.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.New(errs.KindChainBreak, "failed to begin transaction append", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return errs.New(errs.KindChainBreak, "failed to acquire tenant advisory lock", err)
	}

	prevHash, err := chainHead(ctx, tx, tenantID)
	if err != nil {
		return errs.New(errs.KindChainBreak, "failed to read chain head", err)
	}
	if err := appendTransaction(ctx, tx, tenantID, factID, action, detail, prevHash); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.New(errs.KindChainBreak, "failed to commit transaction append", err)
	}
	return nil
}

// UpdateFactConsensus sets a fact's confidence state and consensus
// score, tenant-scoped. Called after the Consensus Engine recomputes a
// fact's score from its votes.
func (r *LedgerRepository) UpdateFactConsensus(ctx context.Context, tenantID string, factID int64, confidence Confidence, score float64) error {
	res, err := r.client.ExecContext(ctx,
		`UPDATE facts SET confidence = $1, consensus_score = $2 WHERE id = $3 AND tenant_id = $4`,
		string(confidence), score, factID, tenantID,
	)
	if err != nil {
		return errs.New(errs.KindChainBreak, "failed to update fact consensus", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindNotFound, fmt.Sprintf("fact %d not found for tenant", factID), ErrFactNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row rowScanner) (*Fact, error) {
	var f Fact
	var tagsJSON []byte
	if err := row.Scan(
		&f.ID, &f.TenantID, &f.Project, &f.FactType, &f.Content, &tagsJSON, &f.Confidence,
		&f.ConsensusScore, &f.ValidFrom, &f.ValidUntil, &f.Source, &f.ContentHash, &f.PrevHash,
		&f.Sensitive, &f.CreatedAt,
	); err != nil {
		return nil, err
	}
	tags, err := parseJSONArray(tagsJSON)
	if err != nil {
		return nil, err
	}
	f.Tags = tags
	return &f, nil
}

func scanFactRows(rows *sql.Rows) (*Fact, error) {
	return scanFact(rows)
}
