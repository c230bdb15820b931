package routing

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a single provider attempt failure. All classes are
// recoverable by advancing the fallback chain; the class only affects
// reporting and health accounting.
type ErrorClass string

const (
	ErrTimeout     ErrorClass = "timeout"
	ErrRateLimited ErrorClass = "rate_limited"
	ErrTransient   ErrorClass = "transient"
	ErrFatal       ErrorClass = "fatal"
)

// ClassifiedError wraps a provider error with its routing classification.
type ClassifiedError struct {
	Err   error
	Class ErrorClass
	// RetryAfter is the provider-reported backoff in seconds, if any.
	RetryAfter int
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// UnknownTaskError means the alias resolved to no configured task family.
// Fatal to the request; never retried.
type UnknownTaskError struct {
	Alias string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q", e.Alias)
}

// NoEligibleModelError means the constraint set eliminated every candidate.
// Fatal; the caller should relax constraints.
type NoEligibleModelError struct {
	Family string
}

func (e *NoEligibleModelError) Error() string {
	return fmt.Sprintf("no eligible model for task family %q", e.Family)
}

// ExhaustedError means every eligible candidate was attempted and failed.
// It carries the attempt count and the terminal underlying error but never
// a provider-internal error type, so callers need no provider-specific
// handling.
type ExhaustedError struct {
	Family   string
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("task family %q exhausted after %d candidate(s): %v", e.Family, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// IsRouteFailure reports whether err belongs to the routing failure
// taxonomy (as opposed to a caller cancellation or programming error).
func IsRouteFailure(err error) bool {
	var ut *UnknownTaskError
	var ne *NoEligibleModelError
	var ex *ExhaustedError
	return errors.As(err, &ut) || errors.As(err, &ne) || errors.As(err, &ex)
}
