package persistence

import "errors"

var (
	// ErrWorkflowNotFound is returned when no workflow exists under the
	// requested name.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrRunNotFound is returned when no archived run exists under the
	// requested id.
	ErrRunNotFound = errors.New("workflow run not found")
	// ErrRunNotTerminal is returned when a caller tries to archive a run
	// that has not finished.
	ErrRunNotTerminal = errors.New("workflow run has not reached a terminal status")
)
