/*
errors.go - Centralized error taxonomy for the leave engine

PURPOSE:
  All error kinds in one place so every component fails the same way and
  the API layer can map failures to HTTP statuses without string matching.

ERROR KINDS:
  NotFound         Referenced employee, request, leave type, balance, or
                   policy does not exist
  InvalidState     Transition attempted from a non-permitting status
  PolicyViolation  Hard business rule failed (waiting period, minimum
                   increment, date order, documentation flag)
  Unauthorized     Actor lacks the privilege or ownership for the action
  Conflict         Uniqueness violation on write (duplicate policy key)
  Internal         Persistence or data-integrity fault

ADVISORY WARNINGS:
  Warning is NOT an error. Soft rules (advance notice, balance exceeded)
  attach Warnings to successful results.

USAGE:
  if errors.Is(err, generic.ErrNotFound) { ... }

  var ge *generic.Error
  if errors.As(err, &ge) && ge.Kind == generic.KindPolicyViolation { ... }

SEE ALSO:
  - api/errors.go: Kind to HTTP status mapping
  - journal.go:    ErrDuplicateIdempotencyKey
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// KINDS
// =============================================================================

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindPolicyViolation Kind = "policy_violation"
	KindUnauthorized    Kind = "unauthorized"
	KindConflict        Kind = "conflict"
	KindInternal        Kind = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound        = &kindSentinel{KindNotFound}
	ErrInvalidState    = &kindSentinel{KindInvalidState}
	ErrPolicyViolation = &kindSentinel{KindPolicyViolation}
	ErrUnauthorized    = &kindSentinel{KindUnauthorized}
	ErrConflict        = &kindSentinel{KindConflict}
	ErrInternal        = &kindSentinel{KindInternal}

	// ErrDuplicateIdempotencyKey is returned by stores when a journal entry
	// with the same idempotency key already exists. A second application of
	// the same balance effect always trips this.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicate is returned by stores on any other uniqueness violation.
	ErrDuplicate = errors.New("duplicate record")
)

type kindSentinel struct{ kind Kind }

func (s *kindSentinel) Error() string { return string(s.kind) }

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is the single structured error type returned by domain components.
type Error struct {
	Kind    Kind
	Op      string // component operation, e.g. "requests.approve"
	Message string
	Err     error // optional cause
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels so errors.Is(err, ErrNotFound) works through
// arbitrary wrapping.
func (e *Error) Is(target error) bool {
	s, ok := target.(*kindSentinel)
	return ok && s.kind == e.Kind
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return newError(KindNotFound, op, format, args...)
}

func InvalidState(op, format string, args ...any) error {
	return newError(KindInvalidState, op, format, args...)
}

func PolicyViolation(op, format string, args ...any) error {
	return newError(KindPolicyViolation, op, format, args...)
}

func Unauthorized(op, format string, args ...any) error {
	return newError(KindUnauthorized, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return newError(KindConflict, op, format, args...)
}

// Internal wraps a persistence or integrity fault.
func Internal(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrDuplicateIdempotencyKey) {
		return KindConflict
	}
	return KindInternal
}

// =============================================================================
// ADVISORY WARNINGS
// =============================================================================

// Warning is a soft rule outcome. It never blocks an operation.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	WarnAdvanceNotice    = "advance_notice"
	WarnBalanceExceeded  = "balance_exceeded"
	WarnMaxIncrement     = "max_increment_exceeded"
	WarnOverlap          = "overlapping_request"
	WarnCarryoverCap     = "carryover_cap_exceeded"
	WarnAutoApproveHeld  = "auto_approval_skipped"
	WarnNoPolicyResolved = "no_policy"
)

func NewWarning(code, format string, args ...any) Warning {
	return Warning{Code: code, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindInvalidState, KindPolicyViolation, KindUnauthorized, KindConflict:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
