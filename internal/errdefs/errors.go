// Package errdefs defines the stable error kinds exposed at the broker's
// boundaries. Callers classify failures with errors.Is against the sentinel
// values; richer error types in other packages implement Is so they match
// their kind.
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrAccessDenied is returned when an ACL check fails, the self-approval
	// rule is violated, or a cloud provider rejected a call.
	ErrAccessDenied = errors.New("access denied")

	// ErrResourceNotFound is returned when a group or resource is absent.
	// It is distinct from ErrAccessDenied and is used to detect
	// "not provisioned yet".
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidArgument is returned for malformed or out-of-range caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConstraintFailed is returned when a constraint predicate raised
	// during evaluation (as opposed to returning false).
	ErrConstraintFailed = errors.New("constraint evaluation failed")

	// ErrConstraintUnsatisfied is returned when a constraint predicate
	// evaluated cleanly to false.
	ErrConstraintUnsatisfied = errors.New("constraint not satisfied")

	// ErrMissingExpiryConstraint is returned when a group has no expiry
	// constraint in its effective JOIN constraints.
	ErrMissingExpiryConstraint = errors.New("group has no expiry constraint")

	// ErrNoApproversAvailable is returned when a proposal would have an
	// empty recipient set.
	ErrNoApproversAvailable = errors.New("no approvers available")

	// ErrInvalidProposal is returned when a proposal references the wrong
	// group, has expired, or misses a required input.
	ErrInvalidProposal = errors.New("invalid proposal")

	// ErrIllegalState is returned when an operation is invoked in a state
	// that does not permit it, such as proposing a join that needs no approval.
	ErrIllegalState = errors.New("operation not allowed in this state")

	// ErrIO is returned for transport-level failures. Callers may retry.
	ErrIO = errors.New("i/o error")

	// ErrAlreadyExists is returned when a resource to be created is already
	// present. Provisioning treats it as success.
	ErrAlreadyExists = errors.New("resource already exists")
)

// AccessDeniedError wraps a denial with context about what was denied.
type AccessDeniedError struct {
	// Reason is a human-readable explanation of the denial.
	Reason string
	// Err is the underlying error, if the denial originated elsewhere.
	Err error
}

// Error returns a human-readable description of the denial.
func (e *AccessDeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("access denied: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *AccessDeniedError) Unwrap() error { return e.Err }

// Is reports whether this error matches ErrAccessDenied.
func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// AggregateError joins the failures of a fanned-out operation. The first
// cause is the primary; the rest are retained for inspection.
type AggregateError struct {
	Causes []error
}

// Error returns the primary cause plus a count of the others.
func (e *AggregateError) Error() string {
	switch len(e.Causes) {
	case 0:
		return "aggregate error (no causes)"
	case 1:
		return e.Causes[0].Error()
	default:
		return fmt.Sprintf("%v (and %d more errors)", e.Causes[0], len(e.Causes)-1)
	}
}

// Unwrap exposes all causes to errors.Is/As.
func (e *AggregateError) Unwrap() []error { return e.Causes }

// Aggregate collapses a slice of errors into a single error. Nil entries are
// dropped; nil is returned when nothing remains; a single survivor is
// returned unwrapped.
func Aggregate(errs []error) error {
	causes := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			causes = append(causes, err)
		}
	}
	switch len(causes) {
	case 0:
		return nil
	case 1:
		return causes[0]
	default:
		return &AggregateError{Causes: causes}
	}
}
