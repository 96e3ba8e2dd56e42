package orchestrator

import (
	"context"

	"github.com/flowmod/flowmod/pkg/events"
	"github.com/flowmod/flowmod/pkg/models"
)

// diffEvents mirrors every diff record the state store accepts onto the
// event bus, so external observers can replay run state without reading
// the store.
type diffEvents struct {
	orchestrator *Orchestrator
}

func (d diffEvents) StateDiffApplied(diff models.StateDiff) {
	o := d.orchestrator

	o.publish(context.Background(), diff.WorkflowRunID, events.StateDiffApplied{
		BaseEvent: o.baseEvent(events.StateDiffAppliedEvent, diff.WorkflowRunID),
		Diff:      diff,
	})
}

func (d diffEvents) RunDiffApplied(diff models.WorkflowRunDiff) {
	o := d.orchestrator

	o.publish(context.Background(), diff.WorkflowRunID, events.RunDiffApplied{
		BaseEvent: o.baseEvent(events.RunDiffAppliedEvent, diff.WorkflowRunID),
		Diff:      diff,
	})
}

func (d diffEvents) TaskDiffApplied(diff models.TaskDiff) {
	o := d.orchestrator

	// The record carries only the task id; the run comes from the store.
	runID := ""

	record, err := o.store.Task(diff.TaskID)
	if err == nil {
		runID = record.WorkflowRunID
	}

	o.publish(context.Background(), runID, events.TaskDiffApplied{
		BaseEvent: o.baseEvent(events.TaskDiffAppliedEvent, runID),
		Diff:      diff,
	})
}
