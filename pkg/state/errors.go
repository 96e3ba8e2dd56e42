// Package state provides standardized error types for diff application.
package state

import (
	"errors"
	"fmt"

	"github.com/flowmod/flowmod/pkg/models"
)

// Standard state store error types.
var (
	// ErrDiffConflict indicates an Add on an existing field or an Update on a
	// missing field. The original value is retained.
	ErrDiffConflict = errors.New("diff conflict")

	// ErrRunNotFound indicates a workflow run was not found by the given id.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrTaskNotFound indicates a task was not found by the given id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotAppendable indicates an Append against a field that does not hold
	// an array.
	ErrNotAppendable = errors.New("append target is not an array")

	// ErrUnknownField indicates a diff against a field the target entity does
	// not expose.
	ErrUnknownField = errors.New("unknown diff field")
)

// DiffError wraps a rejected field diff with its target context.
type DiffError struct {
	Target    string // Entity id the diff addressed
	Field     string // Field that caused the rejection
	Operation models.DiffOperation
	Err       error
}

func (e *DiffError) Error() string {
	return fmt.Sprintf("%s on field %q of %s rejected: %v", e.Operation, e.Field, e.Target, e.Err)
}

func (e *DiffError) Unwrap() error {
	return e.Err
}

// IsConflict checks if an error indicates a rejected Add/Update diff.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDiffConflict)
}
