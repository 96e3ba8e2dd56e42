package models

import "time"

// WorkflowStatus is the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusPending         WorkflowStatus = "pending"
	WorkflowStatusRunning         WorkflowStatus = "running"
	WorkflowStatusAwaitingTrigger WorkflowStatus = "awaiting_trigger"
	WorkflowStatusCompleted       WorkflowStatus = "completed"
	WorkflowStatusFailed          WorkflowStatus = "failed"
	WorkflowStatusCanceled        WorkflowStatus = "canceled"
)

// IsTerminal reports whether a run in this status will never change again.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCanceled:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a single task.
type TaskStatus string

const (
	TaskStatusPending         TaskStatus = "pending"
	TaskStatusRunning         TaskStatus = "running"
	TaskStatusAwaitingTrigger TaskStatus = "awaiting_trigger"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
	TaskStatusBlocked         TaskStatus = "blocked"
	TaskStatusWontDo          TaskStatus = "wont_do"
)

// IsTerminal reports whether a task in this status will never change again.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked, TaskStatusWontDo:
		return true
	default:
		return false
	}
}

// WorkflowRun is one execution instance of a workflow. The run owns the
// mutable state map; all mutation flows through diff records applied by the
// state store, never by direct field writes.
type WorkflowRun struct {
	ID        string         `json:"id"`
	Workflow  *Workflow      `json:"workflow"`
	Status    WorkflowStatus `json:"status"`
	Params    map[string]any `json:"params,omitempty"`
	State     map[string]any `json:"state,omitempty"`
	Tasks     []string       `json:"tasks"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Task is one execution instance of a node, or one matrix element of a node.
// A plain node produces a single task that is its own master; a matrix node
// produces one master plus one child per matrix value. Children carry the
// master's id, masters never carry matrix values of their own.
type Task struct {
	ID            string         `json:"id"`
	WorkflowRunID string         `json:"workflow_run_id"`
	NodeID        string         `json:"node_id"`
	Status        TaskStatus     `json:"status"`
	IsMaster      bool           `json:"is_master"`
	MasterTaskID  string         `json:"master_task_id,omitempty"`
	MatrixValues  map[string]any `json:"matrix_values,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Error         string         `json:"error,omitempty"`
	Logs          []string       `json:"logs"`
}
