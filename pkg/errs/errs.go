// Copyright 2025 Certen Protocol
//
// Package errs defines the closed error-kind enumeration CORTEX uses at
// every subsystem boundary. Internal packages may keep their own sentinel
// errors for private conditions, but anything that crosses a public API
// boundary is wrapped into one of these kinds so callers can switch on a
// stable identifier instead of parsing message strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable, closed identifier for a class of failure. New kinds
// are added here, never invented ad hoc at call sites.
type Kind string

const (
	KindTenantIsolation Kind = "TenantIsolationError"
	KindEncoding        Kind = "EncodingError"
	KindConflict        Kind = "Conflict"
	KindNotFound        Kind = "NotFound"
	KindChainBreak      Kind = "ChainBreak"
	KindMerkleMismatch  Kind = "MerkleMismatch"
	KindQuorumUnmet     Kind = "QuorumUnmet"
	KindEmbeddingDeferred Kind = "EmbeddingDeferred"
	KindSearchPartial  Kind = "SearchPartial"
	KindBusy           Kind = "Busy"
	KindTimeout        Kind = "Timeout"
	KindPrivacyBlocked Kind = "PrivacyBlocked"
	KindConfigError    Kind = "ConfigError"
)

// Fatal reports whether a kind is fatal for the operation it was raised
// from (never swallowed, always logged as an audit event per spec) as
// opposed to local/non-fatal (degrades to a partial success) or
// retryable by the caller.
func (k Kind) Fatal() bool {
	switch k {
	case KindChainBreak, KindMerkleMismatch, KindTenantIsolation:
		return true
	default:
		return false
	}
}

// Retryable reports whether the caller may retry the same operation
// without changing anything.
func (k Kind) Retryable() bool {
	switch k {
	case KindBusy, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is the boundary error type. Message is sanitized: no internal
// file paths, no raw SQL, no secret material.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a boundary error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a boundary Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, if any, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
