package models

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Guard failures are all-or-nothing: an operation
// returning one of these has mutated nothing.
var (
	// ErrNotFound: the referenced job, bid, or earnings row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStateConflict: the action is invalid for the record's current
	// status, or a concurrent writer won the version race. Callers should
	// re-read before retrying.
	ErrStateConflict = errors.New("state conflict")

	// ErrJobAlreadyAssigned: an accept lost the race, or a bid arrived
	// after assignment.
	ErrJobAlreadyAssigned = fmt.Errorf("job already assigned: %w", ErrStateConflict)

	// ErrNegotiationCapExceeded: the job's round budget is exhausted;
	// only accept or reject remain legal.
	ErrNegotiationCapExceeded = errors.New("negotiation round cap exceeded")

	// ErrPreconditionFailed: a hard precondition is missing, e.g. photo
	// evidence before a completion code.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrInvalidCode / ErrCodeExpired: completion-code verification failures.
	ErrInvalidCode = errors.New("invalid completion code")
	ErrCodeExpired = errors.New("completion code expired")

	// ErrUnauthorized: the actor is not the poster, assigned fulfiller, or
	// otherwise entitled to the operation.
	ErrUnauthorized = errors.New("actor not authorized for this action")

	// ErrInvalidTransition: the lifecycle table has no edge for the
	// attempted move.
	ErrInvalidTransition = fmt.Errorf("invalid state transition: %w", ErrStateConflict)
)

// ValidationError reports malformed input (non-positive price, negative
// radius, empty skill set, unknown status value).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
