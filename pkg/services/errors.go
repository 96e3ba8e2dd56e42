// Package services provides the operations behind the HTTP API: workflow
// definition management and run lifecycle control.
package services

import (
	"errors"

	"github.com/flowmod/flowmod/pkg/orchestrator"
	"github.com/flowmod/flowmod/pkg/persistence"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition does not exist.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	// ErrRunNotFound is returned when a run exists neither live nor archived.
	ErrRunNotFound = persistence.ErrRunNotFound
	// ErrRunNotActive is returned when cancel targets a finished or unknown run.
	ErrRunNotActive = orchestrator.ErrRunNotActive
	// ErrRunNotAwaiting is returned when approve targets a run that is not
	// suspended on a manual node.
	ErrRunNotAwaiting = orchestrator.ErrRunNotAwaiting
	// ErrWorkflowNameRequired is returned when a definition without a name is
	// saved; definitions are keyed by name.
	ErrWorkflowNameRequired = errors.New("workflow name is required")
)

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidParams) || errors.Is(err, ErrWorkflowNameRequired)
}

// IsNotFound checks if an error should map to HTTP 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrRunNotFound)
}

// IsConflict checks if an error should map to HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRunNotActive) || errors.Is(err, ErrRunNotAwaiting)
}
