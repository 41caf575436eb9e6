// Copyright 2025 Certen Protocol
//
// Package tenant implements the Tenant Guard: the central predicate
// every operation funnels through before touching a tenant-scoped
// record.
package tenant

import (
	"context"

	"github.com/certen/cortex/pkg/errs"
	"github.com/certen/cortex/pkg/storage"
)

// AuditLogger is the surface the guard needs to record an isolation
// violation as a ledger transaction. *storage.LedgerRepository
// satisfies it.
type AuditLogger interface {
	AppendTransaction(ctx context.Context, tenantID string, factID *int64, action storage.Action, detail string) error
}

// Guard is the tenant-isolation predicate. Every repository call that
// crosses a tenant boundary should route through Check or Scoped rather
// than comparing tenant_id strings ad hoc.
type Guard struct {
	audit AuditLogger
}

// New constructs a Guard. audit may be nil, in which case violations
// are still rejected but no audit transaction is appended — used in
// contexts (tests, the journal replay path) with no ledger attached.
func New(audit AuditLogger) *Guard {
	return &Guard{audit: audit}
}

// Check asserts that caller is authenticated (non-empty) and matches
// record's owning tenant. A violation is fatal: it returns
// TenantIsolationError and, if an audit logger is attached, appends an
// AUDIT transaction under caller's tenant (or record's, if caller is
// empty) before returning.
func (g *Guard) Check(ctx context.Context, caller, record string) error {
	if caller != "" && caller == record {
		return nil
	}

	violator := caller
	if violator == "" {
		violator = record
	}
	if g.audit != nil && violator != "" {
		detail := "tenant isolation violation: caller=" + caller + " record=" + record
		// Best effort: a failure to log the violation must not mask the
		// violation itself.
		_ = g.audit.AppendTransaction(ctx, violator, nil, storage.ActionAudit, detail)
	}
	return errs.New(errs.KindTenantIsolation, "tenant_id does not match the owning record", nil)
}

// Scoped runs fn only after confirming tenantID is non-empty. It does
// not check against a record tenant (nothing to compare against yet at
// the entry point) but rejects the empty-tenant case that would
// otherwise let a query run unscoped across every tenant.
func (g *Guard) Scoped(ctx context.Context, tenantID string, fn func() error) error {
	if tenantID == "" {
		if g.audit != nil {
			_ = g.audit.AppendTransaction(ctx, "", nil, storage.ActionAudit, "tenant isolation violation: missing tenant_id")
		}
		return errs.New(errs.KindTenantIsolation, "operation requires a tenant_id", nil)
	}
	return fn()
}
