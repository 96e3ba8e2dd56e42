package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmod/flowmod/pkg/eventbus"
	"github.com/flowmod/flowmod/pkg/events"
	"github.com/flowmod/flowmod/pkg/graph"
	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/runtime"
	"github.com/flowmod/flowmod/pkg/state"
	"github.com/flowmod/flowmod/pkg/task"
	"github.com/flowmod/flowmod/pkg/testutil"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *state.Store) {
	t.Helper()

	store := state.NewStore(testutil.Logger())
	executor := task.NewExecutor(
		testutil.Logger(),
		store,
		runtime.NewRegistry(testutil.Logger()),
		nil,
		nil,
		nil,
	)

	return NewOrchestrator(testutil.Logger(), store, executor, nil, Config{}), store
}

func masterTaskForNode(t *testing.T, store *state.Store, runID, nodeID string) *models.Task {
	t.Helper()

	for _, record := range store.TasksByRun(runID) {
		if record.NodeID == nodeID && record.IsMaster {
			return record
		}
	}

	t.Fatalf("no master task for node %q", nodeID)

	return nil
}

func TestRun_DependencyChainCompletes(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	nodeA := testutil.CreateTestNode("a", testutil.WithSteps(
		&models.Step{Name: "write", Run: &models.RunOptions{Command: "echo from-a"}},
	))
	nodeB := testutil.CreateTestNode("b",
		testutil.WithDependsOn("a"),
		testutil.WithSteps(&models.Step{Name: "read", Run: &models.RunOptions{Command: "echo got {{.outputs.write}}"}}),
	)

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(nodeA, nodeB))

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, final)

	stored, err := store.Run(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
	assert.NotNil(t, stored.EndedAt)
	assert.Len(t, stored.Tasks, 2)

	taskB := masterTaskForNode(t, store, run.ID, "b")
	assert.Equal(t, models.TaskStatusCompleted, taskB.Status)
	assert.Contains(t, taskB.Logs, "got from-a")
}

func TestRun_CyclicWorkflowFailsBeforeAnyTask(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	nodeA := testutil.CreateTestNode("a", testutil.WithDependsOn("b"))
	nodeB := testutil.CreateTestNode("b", testutil.WithDependsOn("a"))

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(nodeA, nodeB))

	_, err := orch.Run(context.Background(), run)
	require.Error(t, err)

	var cycleErr *graph.CycleError
	require.ErrorAs(t, err, &cycleErr)

	assert.Empty(t, store.TasksByRun(run.ID))
}

func TestRun_MatrixFanOut(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	node := testutil.CreateTestNode("shards",
		testutil.WithMatrixValues(
			map[string]any{"shard": "one"},
			map[string]any{"shard": "two"},
			map[string]any{"shard": "three"},
		),
		testutil.WithSteps(&models.Step{Name: "work", Run: &models.RunOptions{Command: "echo {{.matrix.shard}}"}}),
	)

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(node))

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, final)

	master := masterTaskForNode(t, store, run.ID, "shards")
	assert.Equal(t, models.TaskStatusCompleted, master.Status)
	assert.Nil(t, master.MatrixValues)

	children := store.ChildTasks(master.ID)
	require.Len(t, children, 3)

	seen := make(map[string]models.TaskStatus)
	for _, child := range children {
		assert.Equal(t, master.ID, child.MasterTaskID)
		seen[child.MatrixValues["shard"].(string)] = child.Status
	}

	assert.Equal(t, models.TaskStatusCompleted, seen["one"])
	assert.Equal(t, models.TaskStatusCompleted, seen["two"])
	assert.Equal(t, models.TaskStatusCompleted, seen["three"])
}

func TestRun_MatrixFromStateExpandsLive(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	node := testutil.CreateTestNode("fan",
		testutil.WithMatrixFromState("repos"),
		testutil.WithSteps(&models.Step{Name: "work", Run: &models.RunOptions{Command: "echo {{.matrix.name}}"}}),
	)

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(node))
	run.State["repos"] = []map[string]any{{"name": "app"}, {"name": "lib"}}

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, final)

	master := masterTaskForNode(t, store, run.ID, "fan")
	assert.Len(t, store.ChildTasks(master.ID), 2)
}

func TestRun_FailureCascadesDownstream(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	nodeA := testutil.CreateTestNode("a", testutil.WithSteps(
		&models.Step{Name: "boom", Run: &models.RunOptions{Command: "exit 1"}},
	))
	nodeB := testutil.CreateTestNode("b", testutil.WithDependsOn("a"))
	nodeC := testutil.CreateTestNode("c", testutil.WithDependsOn("b"))

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(nodeA, nodeB, nodeC))

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, final)

	stored, err := store.Run(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, `node "a" failed`)

	assert.Equal(t, models.TaskStatusFailed, masterTaskForNode(t, store, run.ID, "a").Status)
	assert.Equal(t, models.TaskStatusBlocked, masterTaskForNode(t, store, run.ID, "b").Status)
	assert.Equal(t, models.TaskStatusWontDo, masterTaskForNode(t, store, run.ID, "c").Status)
}

func TestRun_IndependentBranchStillRunsAfterFailure(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	nodeA := testutil.CreateTestNode("a", testutil.WithSteps(
		&models.Step{Name: "boom", Run: &models.RunOptions{Command: "exit 1"}},
	))
	nodeB := testutil.CreateTestNode("b")

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(nodeA, nodeB))

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, final)

	assert.Equal(t, models.TaskStatusCompleted, masterTaskForNode(t, store, run.ID, "b").Status)
}

func TestRun_SkippedNodeDoesNotBlockDependents(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	nodeA := testutil.CreateTestNode("a")
	nodeA.If = "{{.params.enabled}}"
	nodeB := testutil.CreateTestNode("b", testutil.WithDependsOn("a"))

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(nodeA, nodeB))
	run.Params["enabled"] = false

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, final)

	assert.Equal(t, models.TaskStatusWontDo, masterTaskForNode(t, store, run.ID, "a").Status)
	assert.Equal(t, models.TaskStatusCompleted, masterTaskForNode(t, store, run.ID, "b").Status)
}

func TestRun_BadMatrixSourceFailsNodeOnly(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	nodeA := testutil.CreateTestNode("a", testutil.WithMatrixFromState("missing"))
	nodeB := testutil.CreateTestNode("b")

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(nodeA, nodeB))

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, final)

	taskA := masterTaskForNode(t, store, run.ID, "a")
	assert.Equal(t, models.TaskStatusFailed, taskA.Status)
	assert.Contains(t, taskA.Error, "missing")

	assert.Equal(t, models.TaskStatusCompleted, masterTaskForNode(t, store, run.ID, "b").Status)
}

func TestRun_ManualNodeAwaitsApproval(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	node := testutil.CreateTestNode("gate", testutil.WithManualTrigger())
	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(node))

	done := make(chan models.WorkflowStatus, 1)

	go func() {
		final, err := orch.Run(context.Background(), run)
		assert.NoError(t, err)
		done <- final
	}()

	require.Eventually(t, func() bool {
		stored, err := store.Run(run.ID)
		if err != nil {
			return false
		}

		return stored.Status == models.WorkflowStatusAwaitingTrigger
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, orch.Approve(run.ID, "reviewer"))

	select {
	case final := <-done:
		assert.Equal(t, models.WorkflowStatusCompleted, final)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not resume after approval")
	}
}

func TestApprove_WithoutSuspendedRun(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	err := orch.Approve("nope", "reviewer")
	require.ErrorIs(t, err, ErrRunNotAwaiting)
}

func TestCancel_StopsRun(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	node := testutil.CreateTestNode("slow", testutil.WithSteps(
		&models.Step{Name: "sleep", Run: &models.RunOptions{Command: "sleep 10"}},
	))
	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(node))

	done := make(chan models.WorkflowStatus, 1)

	go func() {
		final, err := orch.Run(context.Background(), run)
		assert.NoError(t, err)
		done <- final
	}()

	require.Eventually(t, func() bool {
		return orch.Cancel(run.ID) == nil
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case final := <-done:
		assert.Equal(t, models.WorkflowStatusCanceled, final)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	stored, err := store.Run(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCanceled, stored.Status)
	assert.NotNil(t, stored.EndedAt)
}

func TestCancel_UnknownRun(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	require.ErrorIs(t, orch.Cancel("ghost"), ErrRunNotActive)
}

func TestRun_IndependentNodesRunConcurrently(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	nodeLeft := testutil.CreateTestNode("left", testutil.WithSteps(
		&models.Step{Name: "wait-left", Run: &models.RunOptions{Command: "sleep 1"}},
	))
	nodeRight := testutil.CreateTestNode("right", testutil.WithSteps(
		&models.Step{Name: "wait-right", Run: &models.RunOptions{Command: "sleep 1"}},
	))

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(nodeLeft, nodeRight))

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, final)

	left := masterTaskForNode(t, store, run.ID, "left")
	right := masterTaskForNode(t, store, run.ID, "right")
	require.NotNil(t, left.StartedAt)
	require.NotNil(t, left.EndedAt)
	require.NotNil(t, right.StartedAt)
	require.NotNil(t, right.EndedAt)

	// Execution windows must overlap; run back to back they cannot.
	overlap := left.StartedAt.Before(*right.EndedAt) && right.StartedAt.Before(*left.EndedAt)
	assert.True(t, overlap, "tasks ran sequentially: left %v..%v, right %v..%v",
		left.StartedAt, left.EndedAt, right.StartedAt, right.EndedAt)
}

func TestRun_ManualNodeDoesNotStallOtherBranches(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	gate := testutil.CreateTestNode("gate", testutil.WithManualTrigger())
	free := testutil.CreateTestNode("free", testutil.WithSteps(
		&models.Step{Name: "emit", Run: &models.RunOptions{Command: "echo unblocked"}},
	))
	after := testutil.CreateTestNode("after", testutil.WithDependsOn("free"), testutil.WithSteps(
		&models.Step{Name: "emit-after", Run: &models.RunOptions{Command: "echo downstream"}},
	))

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(gate, free, after))

	done := make(chan models.WorkflowStatus, 1)

	go func() {
		final, err := orch.Run(context.Background(), run)
		assert.NoError(t, err)
		done <- final
	}()

	// The free branch, including its downstream node, finishes while the
	// manual node is still suspended.
	require.Eventually(t, func() bool {
		stored, err := store.Run(run.ID)
		if err != nil || stored.Status != models.WorkflowStatusAwaitingTrigger {
			return false
		}

		for _, record := range store.TasksByRun(run.ID) {
			if record.NodeID == "after" && record.Status == models.TaskStatusCompleted {
				return true
			}
		}

		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, orch.Approve(run.ID, "reviewer"))

	select {
	case final := <-done:
		assert.Equal(t, models.WorkflowStatusCompleted, final)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not resume after approval")
	}
}

func TestRun_ManualNodeParksTaskUntilApproved(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	node := testutil.CreateTestNode("gate", testutil.WithManualTrigger())
	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(node))

	done := make(chan models.WorkflowStatus, 1)

	go func() {
		final, err := orch.Run(context.Background(), run)
		assert.NoError(t, err)
		done <- final
	}()

	// The master task exists and sits in awaiting_trigger while the run
	// is suspended.
	require.Eventually(t, func() bool {
		for _, record := range store.TasksByRun(run.ID) {
			if record.NodeID == "gate" && record.Status == models.TaskStatusAwaitingTrigger {
				return true
			}
		}

		return false
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := store.Run(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusAwaitingTrigger, stored.Status)

	require.NoError(t, orch.Approve(run.ID, "reviewer"))

	select {
	case final := <-done:
		assert.Equal(t, models.WorkflowStatusCompleted, final)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not resume after approval")
	}

	master := masterTaskForNode(t, store, run.ID, "gate")
	assert.Equal(t, models.TaskStatusCompleted, master.Status)
	assert.NotNil(t, master.StartedAt)
}

func TestRun_EachManualNodeNeedsItsOwnApproval(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	first := testutil.CreateTestNode("gate-one", testutil.WithManualTrigger())
	second := testutil.CreateTestNode("gate-two", testutil.WithManualTrigger(), testutil.WithDependsOn("gate-one"))

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(first, second))

	done := make(chan models.WorkflowStatus, 1)

	go func() {
		final, err := orch.Run(context.Background(), run)
		assert.NoError(t, err)
		done <- final
	}()

	awaiting := func(nodeID string) func() bool {
		return func() bool {
			for _, record := range store.TasksByRun(run.ID) {
				if record.NodeID == nodeID && record.Status == models.TaskStatusAwaitingTrigger {
					return true
				}
			}

			return false
		}
	}

	require.Eventually(t, awaiting("gate-one"), 2*time.Second, 10*time.Millisecond)
	require.NoError(t, orch.Approve(run.ID, "first-reviewer"))

	require.Eventually(t, awaiting("gate-two"), 2*time.Second, 10*time.Millisecond)
	require.NoError(t, orch.Approve(run.ID, "second-reviewer"))

	select {
	case final := <-done:
		assert.Equal(t, models.WorkflowStatusCompleted, final)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after both approvals")
	}

	assert.Equal(t, models.TaskStatusCompleted, masterTaskForNode(t, store, run.ID, "gate-one").Status)
	assert.Equal(t, models.TaskStatusCompleted, masterTaskForNode(t, store, run.ID, "gate-two").Status)
}

type capturePublisher struct {
	mu       sync.Mutex
	captured []eventbus.Event
}

func (c *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.captured = append(c.captured, event)

	return nil
}

func (c *capturePublisher) counts() map[events.EventType]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[events.EventType]int)
	for _, event := range c.captured {
		out[event.GetType()]++
	}

	return out
}

func TestRun_MirrorsAppliedDiffsOntoBus(t *testing.T) {
	bus := &capturePublisher{}
	store := state.NewStore(testutil.Logger())
	executor := task.NewExecutor(
		testutil.Logger(),
		store,
		runtime.NewRegistry(testutil.Logger()),
		nil,
		nil,
		nil,
	)
	orch := NewOrchestrator(testutil.Logger(), store, executor, bus, Config{})

	node := testutil.CreateTestNode("emit", testutil.WithSteps(
		&models.Step{Name: "say", Run: &models.RunOptions{Command: "echo hi"}},
	))
	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(node))

	final, err := orch.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, final)

	counts := bus.counts()
	assert.NotZero(t, counts[events.RunStartedEvent])
	assert.NotZero(t, counts[events.RunFinishedEvent])
	assert.NotZero(t, counts[events.TaskCreatedEvent])
	assert.NotZero(t, counts[events.TaskFinishedEvent])

	// Every accepted diff record rides on the bus as well.
	assert.NotZero(t, counts[events.RunDiffAppliedEvent])
	assert.NotZero(t, counts[events.TaskDiffAppliedEvent])
}

func TestRun_DiffEventsCarryRunID(t *testing.T) {
	bus := &capturePublisher{}
	store := state.NewStore(testutil.Logger())
	executor := task.NewExecutor(
		testutil.Logger(),
		store,
		runtime.NewRegistry(testutil.Logger()),
		nil,
		nil,
		nil,
	)
	orch := NewOrchestrator(testutil.Logger(), store, executor, bus, Config{})

	node := testutil.CreateTestNode("emit")
	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(node))

	_, err := orch.Run(context.Background(), run)
	require.NoError(t, err)

	bus.mu.Lock()
	defer bus.mu.Unlock()

	for _, event := range bus.captured {
		switch typed := event.(type) {
		case events.TaskDiffApplied:
			assert.Equal(t, run.ID, typed.WorkflowRunID)
		case events.RunDiffApplied:
			assert.Equal(t, run.ID, typed.WorkflowRunID)
			assert.Equal(t, run.ID, typed.Diff.WorkflowRunID)
		}
	}
}
