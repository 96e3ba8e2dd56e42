package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowmod/flowmod/pkg/events"
)

func TestEventTypes(t *testing.T) {
	assert.Equal(t, events.RunStartedEvent, events.RunStarted{}.GetType())
	assert.Equal(t, events.RunFinishedEvent, events.RunFinished{}.GetType())
	assert.Equal(t, events.RunAwaitingTriggerEvent, events.RunAwaitingTrigger{}.GetType())
	assert.Equal(t, events.RunResumedEvent, events.RunResumed{}.GetType())
	assert.Equal(t, events.TaskCreatedEvent, events.TaskCreated{}.GetType())
	assert.Equal(t, events.TaskFinishedEvent, events.TaskFinished{}.GetType())
	assert.Equal(t, events.StateDiffAppliedEvent, events.StateDiffApplied{}.GetType())
	assert.Equal(t, events.TaskDiffAppliedEvent, events.TaskDiffApplied{}.GetType())
	assert.Equal(t, events.RunDiffAppliedEvent, events.RunDiffApplied{}.GetType())
}
