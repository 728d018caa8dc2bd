package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound signals an absent object. A normal branch for reads
	// and deletes, never surfaced to callers as a failure.
	ErrObjectNotFound = errors.New("object not found")

	// ErrPreconditionFailed signals a lost conditional write: the object
	// already exists (create) or its version token moved (update).
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrTooManyAttempts is returned by the read-or-create bootstrap loop
	// once its attempt budget is exhausted.
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrMissingAfterConflict is returned when a lost update re-reads the
	// lease and finds nothing. The object was deleted between the conflict
	// and the re-read, which callers need to treat as an anomaly rather
	// than a plain conflict.
	ErrMissingAfterConflict = errors.New("lease missing after lost update")
)

// AuthError reports that the backend rejected a request as forbidden or
// unauthorized. This is a credentials or policy problem and is never
// retried internally.
type AuthError struct {
	Op   string
	Name string
	Code string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s %q: authorization failed: %s", e.Op, e.Name, e.Code)
}

// RequestError wraps an unexpected backend status, keeping the raw error
// code and HTTP status around for diagnostics.
type RequestError struct {
	Op     string
	Name   string
	Code   string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %q: unexpected backend response (code=%s status=%d): %v",
		e.Op, e.Name, e.Code, e.Status, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that an operation ran out of its deadline before the
// backend answered. OutcomeUnknown is set for mutating operations: the
// request may have been applied server side before the client gave up, so
// callers must not assume the write did not happen.
type TimeoutError struct {
	Op             string
	Name           string
	OutcomeUnknown bool
}

func (e *TimeoutError) Error() string {
	if e.OutcomeUnknown {
		return fmt.Sprintf("%s %q: timed out, outcome unknown", e.Op, e.Name)
	}
	return fmt.Sprintf("%s %q: timed out", e.Op, e.Name)
}

// CorruptLeaseError reports a stored lease body that failed to parse.
type CorruptLeaseError struct {
	Name string
	Err  error
}

func (e *CorruptLeaseError) Error() string {
	return fmt.Sprintf("lease %q: stored body is not valid lease content: %v", e.Name, e.Err)
}

func (e *CorruptLeaseError) Unwrap() error {
	return e.Err
}
