// Copyright 2025 Certen Protocol

package storage

import "errors"

// Sentinel errors for internal repository conditions; mapped to an
// errs.Kind at the storage package's public boundary.
var (
	ErrFactNotFound       = errors.New("fact not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrChainHeadNotFound  = errors.New("no chain head for tenant")
)
