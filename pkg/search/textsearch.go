// Copyright 2025 Certen Protocol

package search

import (
	"context"
	"regexp"
	"strings"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/storage"
)

// TextSearcher is the full-text channel's interface, so Hybrid Search
// can be tested against a fake without a database.
type TextSearcher interface {
	SearchText(ctx context.Context, tenantID, query string, limit int) ([]int64, error)
}

// PostgresTextSearcher queries the facts_fts side table built alongside
// every stored fact (pkg/storage's StoreFact keeps it in sync).
type PostgresTextSearcher struct {
	client *storage.Client
}

// NewPostgresTextSearcher constructs a PostgresTextSearcher over client.
func NewPostgresTextSearcher(client *storage.Client) *PostgresTextSearcher {
	return &PostgresTextSearcher{client: client}
}

// tokenPattern matches a run of word characters, used to split raw
// query text into terms for quoting. Only these characters ever reach
// the assembled tsquery string; everything else is dropped rather than
// passed through.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// boolOperators maps delimited boolean keywords to tsquery operators.
// Any other token is treated as a plain search term and quoted.
var boolOperators = map[string]string{
	"AND": "&",
	"OR":  "|",
	"NOT": "!",
}

// buildTSQuery tokenizes raw query text into a to_tsquery expression.
// Every table/column name used by the caller is a compile-time literal
// ("facts_fts", "document") — this function only ever produces the
// tsquery operand, bound as a parameter, never interpolated into SQL.
func buildTSQuery(raw string) string {
	fields := strings.Fields(raw)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		upper := strings.ToUpper(field)
		if op, ok := boolOperators[upper]; ok {
			parts = append(parts, op)
			continue
		}
		terms := tokenPattern.FindAllString(field, -1)
		for _, term := range terms {
			parts = append(parts, "'"+term+"'")
		}
	}
	if len(parts) == 0 {
		return ""
	}

	joined := make([]string, 0, len(parts))
	prevWasOperand := false
	for _, p := range parts {
		isOperator := p == "&" || p == "|" || p == "!"
		if !isOperator && prevWasOperand {
			joined = append(joined, "&")
		}
		joined = append(joined, p)
		prevWasOperand = !isOperator
	}
	return strings.Join(joined, " ")
}

// SearchText returns fact_ids ranked by full-text relevance, tenant-scoped.
func (s *PostgresTextSearcher) SearchText(ctx context.Context, tenantID, query string, limit int) ([]int64, error) {
	tsQuery := buildTSQuery(query)
	if tsQuery == "" {
		return nil, nil
	}

	rows, err := s.client.QueryContext(ctx, `
		SELECT fact_id FROM facts_fts
		WHERE tenant_id = $1 AND document @@ to_tsquery('english', $2)
		ORDER BY ts_rank(document, to_tsquery('english', $2)) DESC
		LIMIT $3`,
		tenantID, tsQuery, limit,
	)
	if err != nil {
		return nil, errs.New(errs.KindSearchPartial, "full-text search failed", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.New(errs.KindSearchPartial, "failed to scan full-text result", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
