package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/orchestrator"
	"github.com/flowmod/flowmod/pkg/persistence/file"
	"github.com/flowmod/flowmod/pkg/runtime"
	"github.com/flowmod/flowmod/pkg/services"
	"github.com/flowmod/flowmod/pkg/state"
	"github.com/flowmod/flowmod/pkg/task"
	"github.com/flowmod/flowmod/pkg/testutil"
)

func newTestRuns(t *testing.T) *services.Runs {
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
	orch := orchestrator.NewOrchestrator(testutil.Logger(), store, executor, nil, orchestrator.Config{})
	persistence := file.NewPersistence(t.TempDir())

	return services.NewRuns(testutil.Logger(), store, orch, persistence)
}

func TestRuns_SubmitDrivesRunToCompletionAndArchives(t *testing.T) {
	runs := newTestRuns(t)

	workflow := testutil.CreateTestWorkflow(testutil.CreateTestNode("greet", testutil.WithSteps(
		&models.Step{Name: "say", Run: &models.RunOptions{Command: "echo hello"}},
	)))

	run, err := runs.Submit(context.Background(), workflow, nil)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.Equal(t, models.WorkflowStatusPending, run.Status)

	runs.Wait()

	loaded, tasks, err := runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, loaded.Status)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].Logs, "hello")
}

func TestRuns_SubmitRejectsParamsFailingSchema(t *testing.T) {
	runs := newTestRuns(t)

	workflow := testutil.CreateTestWorkflow(testutil.CreateTestNode("noop"))
	workflow.Params = &models.SimpleSchema{
		Schema: []models.SchemaField{
			{Name: "target", Type: models.SchemaFieldTypeString, Required: true},
		},
	}

	_, err := runs.Submit(context.Background(), workflow, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrInvalidParams)
	assert.True(t, services.IsValidationError(err))
}

func TestRuns_AllListsFinishedRun(t *testing.T) {
	runs := newTestRuns(t)

	workflow := testutil.CreateTestWorkflow(testutil.CreateTestNode("greet", testutil.WithSteps(
		&models.Step{Name: "say", Run: &models.RunOptions{Command: "echo archived"}},
	)))

	run, err := runs.Submit(context.Background(), workflow, nil)
	require.NoError(t, err)

	runs.Wait()

	all, err := runs.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, run.ID, all[0].ID)
}

func TestRuns_GetUnknownRun(t *testing.T) {
	runs := newTestRuns(t)

	_, _, err := runs.Get(context.Background(), "run-missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrRunNotFound)
	assert.True(t, services.IsNotFound(err))
}

func TestRuns_CancelStopsLiveRun(t *testing.T) {
	runs := newTestRuns(t)

	workflow := testutil.CreateTestWorkflow(testutil.CreateTestNode("slow", testutil.WithSteps(
		&models.Step{Name: "wait", Run: &models.RunOptions{Command: "sleep 10"}},
	)))

	run, err := runs.Submit(context.Background(), workflow, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return runs.Cancel(run.ID) == nil
	}, 5*time.Second, 20*time.Millisecond)

	runs.Wait()

	loaded, _, err := runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCanceled, loaded.Status)
}

func TestRuns_CancelUnknownRunConflicts(t *testing.T) {
	runs := newTestRuns(t)

	err := runs.Cancel("run-missing")
	require.Error(t, err)
	assert.True(t, services.IsConflict(err))
}
