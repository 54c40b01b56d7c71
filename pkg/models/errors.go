package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline, store, and status machine.
var (
	// ErrNotFound is returned when a company or analysis does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrPreconditionFailed is returned for invalid state transitions and
	// attempts to edit declared attributes after analysis (spec.md §3, §4.7).
	ErrPreconditionFailed = errors.New("precondition failed")
)

// PreconditionError wraps ErrPreconditionFailed with the offending detail.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// NewPreconditionError builds a precondition-failed error with context.
func NewPreconditionError(reason string) error {
	return &PreconditionError{Reason: reason}
}
