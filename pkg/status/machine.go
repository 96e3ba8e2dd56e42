// Package status governs the legal lifecycle transitions of workflow runs and
// tasks, and derives master task status from matrix children.
package status

import (
	"fmt"

	"github.com/flowmod/flowmod/pkg/models"
)

// ErrIllegalTransition wraps a rejected status transition.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s status transition %s -> %s", e.Entity, e.From, e.To)
}

var workflowTransitions = map[models.WorkflowStatus][]models.WorkflowStatus{
	models.WorkflowStatusPending: {
		models.WorkflowStatusRunning,
		models.WorkflowStatusCanceled,
	},
	models.WorkflowStatusRunning: {
		models.WorkflowStatusAwaitingTrigger,
		models.WorkflowStatusCompleted,
		models.WorkflowStatusFailed,
		models.WorkflowStatusCanceled,
	},
	models.WorkflowStatusAwaitingTrigger: {
		models.WorkflowStatusRunning,
		models.WorkflowStatusCanceled,
		models.WorkflowStatusFailed, // another branch failed while suspended
	},
}

var taskTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending: {
		models.TaskStatusRunning,
		models.TaskStatusAwaitingTrigger,
		models.TaskStatusBlocked,
		models.TaskStatusWontDo,
		models.TaskStatusCompleted, // master with zero matrix children
		models.TaskStatusFailed,    // cancellation before start
	},
	models.TaskStatusRunning: {
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusAwaitingTrigger,
	},
	models.TaskStatusAwaitingTrigger: {
		models.TaskStatusRunning,
		models.TaskStatusFailed, // cancellation while waiting
	},
}

// CanTransitionWorkflow reports whether the workflow run edge is legal.
// A self transition is a no-op and always legal.
func CanTransitionWorkflow(from, to models.WorkflowStatus) bool {
	if from == to {
		return true
	}

	for _, allowed := range workflowTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// CanTransitionTask reports whether the task edge is legal. A self
// transition is a no-op and always legal.
func CanTransitionTask(from, to models.TaskStatus) bool {
	if from == to {
		return true
	}

	for _, allowed := range taskTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// CheckWorkflow returns a TransitionError when the edge is illegal.
func CheckWorkflow(from, to models.WorkflowStatus) error {
	if !CanTransitionWorkflow(from, to) {
		return &TransitionError{Entity: "workflow", From: string(from), To: string(to)}
	}

	return nil
}

// CheckTask returns a TransitionError when the edge is illegal.
func CheckTask(from, to models.TaskStatus) error {
	if !CanTransitionTask(from, to) {
		return &TransitionError{Entity: "task", From: string(from), To: string(to)}
	}

	return nil
}

// DownstreamStatus maps a finished dependency's status to the status its
// dependents must take without ever running: a failed dependency blocks
// direct dependents, a blocked or skipped dependency skips everything below.
func DownstreamStatus(dependency models.TaskStatus) (models.TaskStatus, bool) {
	switch dependency {
	case models.TaskStatusFailed:
		return models.TaskStatusBlocked, true
	case models.TaskStatusBlocked, models.TaskStatusWontDo:
		return models.TaskStatusWontDo, true
	default:
		return "", false
	}
}

// AggregateChildren derives a master task's status from its matrix children:
// failed if any child failed, completed iff all completed, otherwise running
// while work remains.
func AggregateChildren(children []*models.Task) models.TaskStatus {
	if len(children) == 0 {
		return models.TaskStatusCompleted
	}

	completed := 0

	for _, child := range children {
		switch child.Status {
		case models.TaskStatusFailed:
			return models.TaskStatusFailed
		case models.TaskStatusCompleted:
			completed++
		}
	}

	if completed == len(children) {
		return models.TaskStatusCompleted
	}

	return models.TaskStatusRunning
}
