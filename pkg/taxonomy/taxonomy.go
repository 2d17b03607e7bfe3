// Package taxonomy normalizes external failures into the small set of
// error kinds the domain components reason about. Repositories and
// clients wrap errors here at their boundary; everything above sees
// kinds, never vendor details.
package taxonomy

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and surfacing decisions.
type Kind string

const (
	// KindTransient is a temporary I/O failure; retried with backoff,
	// escalating to a BLOCKED gate on exhaustion.
	KindTransient Kind = "transient"
	// KindAuth is an authentication/authorization failure; never retried.
	KindAuth Kind = "auth"
	// KindValidation is a schema mismatch or bad argument; returned to
	// the caller as 400.
	KindValidation Kind = "validation"
	// KindParse is invalid LLM output; one retry then BLOCKED.
	KindParse Kind = "parse"
	// KindTimeout is a whole-pipeline deadline; retried at the queue layer.
	KindTimeout Kind = "timeout"
	// KindPolicyBlock is a deterministic rule failure; surfaces as
	// CLARIFICATION_NEEDED or BLOCKED.
	KindPolicyBlock Kind = "policy_block"
	// KindDuplicate is a dedup hit; no-op with an audit entry.
	KindDuplicate Kind = "duplicate"
	// KindDependencyDisabled is a missing or down dependency; degraded
	// path, audit-only.
	KindDependencyDisabled Kind = "dependency_disabled"
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.err.Error())
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Wrap classifies err under kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// Transient wraps err as a retryable I/O failure.
func Transient(err error) error { return Wrap(KindTransient, err) }

// Auth wraps err as an authentication failure.
func Auth(err error) error { return Wrap(KindAuth, err) }

// Validation wraps err as a caller error.
func Validation(err error) error { return Wrap(KindValidation, err) }

// Parse wraps err as invalid model output.
func Parse(err error) error { return Wrap(KindParse, err) }

// Timeout wraps err as a deadline failure.
func Timeout(err error) error { return Wrap(KindTimeout, err) }

// PolicyBlock wraps err as a deterministic rule failure.
func PolicyBlock(err error) error { return Wrap(KindPolicyBlock, err) }

// Duplicate wraps err as a dedup hit.
func Duplicate(err error) error { return Wrap(KindDuplicate, err) }

// DependencyDisabled wraps err as a missing dependency.
func DependencyDisabled(err error) error { return Wrap(KindDependencyDisabled, err) }

// KindOf extracts the classification from err, unwrapping as needed.
// Unclassified errors report KindTransient so unknown failures stay
// retryable rather than silently terminal.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.kind
	}
	return KindTransient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.kind == kind
}

// Retryable reports whether the queue layer should retry err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}
