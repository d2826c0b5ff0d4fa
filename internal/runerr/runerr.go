// Package runerr defines the closed set of error kinds the engine's
// components raise, so callers can branch on kind with errors.As instead of
// matching strings or provider-specific error codes.
package runerr

import (
	"errors"
	"fmt"
)

// Kind is one of the engine's closed set of classified error kinds.
type Kind string

const (
	KindDuplicateKey             Kind = "DUPLICATE_KEY"
	KindLockUnavailable          Kind = "LOCK_UNAVAILABLE"
	KindProposalTerminal         Kind = "PROPOSAL_TERMINAL"
	KindExecutionAlreadyClaimed  Kind = "EXECUTION_ALREADY_CLAIMED"
	KindTimeout                  Kind = "TIMEOUT"
	KindCollaboratorFailure      Kind = "COLLABORATOR_FAILURE"
	KindSchemaMismatch           Kind = "SCHEMA_MISMATCH"
	KindPolicyBlocked            Kind = "POLICY_BLOCKED"
)

// Error wraps an underlying cause with one of the closed Kinds: a
// Kind-bearing struct with Error() and Unwrap() so errors.As/errors.Is
// compose normally.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, runerr.New(KindX, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New constructs an *Error of the given kind with a message and no cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel values usable directly with errors.Is for kind-only checks.
var (
	ErrDuplicateKey            = &Error{Kind: KindDuplicateKey}
	ErrLockUnavailable         = &Error{Kind: KindLockUnavailable}
	ErrProposalTerminal        = &Error{Kind: KindProposalTerminal}
	ErrExecutionAlreadyClaimed = &Error{Kind: KindExecutionAlreadyClaimed}
	ErrTimeout                 = &Error{Kind: KindTimeout}
	ErrCollaboratorFailure     = &Error{Kind: KindCollaboratorFailure}
	ErrSchemaMismatch          = &Error{Kind: KindSchemaMismatch}
	ErrPolicyBlocked           = &Error{Kind: KindPolicyBlocked}
)

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, reporting ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
