// Package events defines the lifecycle notifications the engine publishes
// while executing workflow runs. Diff records ride on these events as the
// wire format for external observers.
package events

import (
	"time"

	"github.com/flowmod/flowmod/pkg/models"
)

type EventType string

// Topic carries every run lifecycle event.
const Topic = "flowmod.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunStartedEvent         EventType = "run.started"
	RunFinishedEvent        EventType = "run.finished"
	RunAwaitingTriggerEvent EventType = "run.awaiting_trigger"
	RunResumedEvent         EventType = "run.resumed"

	// Task lifecycle events.
	TaskCreatedEvent  EventType = "task.created"
	TaskFinishedEvent EventType = "task.finished"

	// Diff propagation events.
	StateDiffAppliedEvent EventType = "diff.state.applied"
	TaskDiffAppliedEvent  EventType = "diff.task.applied"
	RunDiffAppliedEvent   EventType = "diff.run.applied"
)

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	WorkflowRunID string         `json:"workflow_run_id"`
	WorkerID      string         `json:"worker_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type RunStarted struct {
	BaseEvent

	WorkflowName string         `json:"workflow_name"`
	Params       map[string]any `json:"params,omitempty"`
}

func (r RunStarted) GetType() EventType {
	return RunStartedEvent
}

// RunFinished is published for every terminal run status, including
// Failed and Canceled.
type RunFinished struct {
	BaseEvent

	Status   models.WorkflowStatus `json:"status"`
	Error    string                `json:"error,omitempty"`
	Duration time.Duration         `json:"duration"`
}

func (r RunFinished) GetType() EventType {
	return RunFinishedEvent
}

// RunAwaitingTrigger is published when a manual node suspends the run
// until an approval arrives.
type RunAwaitingTrigger struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (r RunAwaitingTrigger) GetType() EventType {
	return RunAwaitingTriggerEvent
}

type RunResumed struct {
	BaseEvent

	NodeID     string `json:"node_id"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

func (r RunResumed) GetType() EventType {
	return RunResumedEvent
}

type TaskCreated struct {
	BaseEvent

	TaskID       string         `json:"task_id"`
	NodeID       string         `json:"node_id"`
	IsMaster     bool           `json:"is_master"`
	MasterTaskID string         `json:"master_task_id,omitempty"`
	MatrixValues map[string]any `json:"matrix_values,omitempty"`
}

func (t TaskCreated) GetType() EventType {
	return TaskCreatedEvent
}

type TaskFinished struct {
	BaseEvent

	TaskID     string            `json:"task_id"`
	NodeID     string            `json:"node_id"`
	Status     models.TaskStatus `json:"status"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

func (t TaskFinished) GetType() EventType {
	return TaskFinishedEvent
}

type StateDiffApplied struct {
	BaseEvent

	Diff models.StateDiff `json:"diff"`
}

func (s StateDiffApplied) GetType() EventType {
	return StateDiffAppliedEvent
}

type TaskDiffApplied struct {
	BaseEvent

	Diff models.TaskDiff `json:"diff"`
}

func (t TaskDiffApplied) GetType() EventType {
	return TaskDiffAppliedEvent
}

type RunDiffApplied struct {
	BaseEvent

	Diff models.WorkflowRunDiff `json:"diff"`
}

func (r RunDiffApplied) GetType() EventType {
	return RunDiffAppliedEvent
}
