package postgresql_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/persistence"
	"github.com/flowmod/flowmod/pkg/persistence/postgresql"
	"github.com/flowmod/flowmod/pkg/testutil"
)

var postgresContainer *postgres.PostgresContainer

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowmod_test"),
			postgres.WithUsername("flowmod"),
			postgres.WithPassword("flowmod"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropTables(ctx, t, databaseURL)

	store, err := postgresql.NewPersistence(ctx, testutil.Logger(), databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropTables(ctx, t, databaseURL)
		require.NoError(t, store.Close(ctx))
		cancel()
	})

	return store, ctx
}

func dropTables(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		_ = db.Close()
	}()

	_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS workflows, workflow_runs, schema_migrations")
	require.NoError(t, err)
}

func TestWorkflowRepository_Lifecycle(t *testing.T) {
	store, ctx := setupTestDB(t)

	workflow := testutil.CreateTestWorkflow(testutil.CreateTestNode("a"))
	workflow.Name = "pg-upgrade"

	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	loaded, err := store.WorkflowRepository().ByName(ctx, "pg-upgrade")
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, "a", loaded.Nodes[0].ID)

	// Save is an upsert.
	workflow.Nodes = append(workflow.Nodes, testutil.CreateTestNode("b", testutil.WithDependsOn("a")))
	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	loaded, err = store.WorkflowRepository().ByName(ctx, "pg-upgrade")
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 2)

	all, err := store.WorkflowRepository().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.WorkflowRepository().Delete(ctx, "pg-upgrade"))

	_, err = store.WorkflowRepository().ByName(ctx, "pg-upgrade")
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestRunRepository_ArchiveAndFetch(t *testing.T) {
	store, ctx := setupTestDB(t)

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(testutil.CreateTestNode("a")))
	run.Workflow.Name = "archived"
	run.Status = models.WorkflowStatusFailed
	run.Error = `node "a" failed`
	ended := time.Now().UTC()
	run.EndedAt = &ended

	record := &persistence.ArchivedRun{
		Run: run,
		Tasks: []*models.Task{{
			ID:            "task-1",
			WorkflowRunID: run.ID,
			NodeID:        "a",
			Status:        models.TaskStatusFailed,
			IsMaster:      true,
			Error:         "command exited with status 1",
			Logs:          []string{"boom"},
		}},
	}

	require.NoError(t, store.RunRepository().Archive(ctx, record))

	loaded, err := store.RunRepository().ByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusFailed, loaded.Run.Status)
	assert.Equal(t, `node "a" failed`, loaded.Run.Error)
	require.Len(t, loaded.Tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, loaded.Tasks[0].Status)
	assert.Equal(t, []string{"boom"}, loaded.Tasks[0].Logs)

	all, err := store.RunRepository().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.RunRepository().ByID(ctx, "ghost")
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestRunRepository_RejectsLiveRun(t *testing.T) {
	store, ctx := setupTestDB(t)

	run := testutil.CreateTestRun(testutil.CreateTestWorkflow(testutil.CreateTestNode("a")))
	run.Status = models.WorkflowStatusRunning

	err := store.RunRepository().Archive(ctx, &persistence.ArchivedRun{Run: run})
	require.ErrorIs(t, err, persistence.ErrRunNotTerminal)
}

func TestHealthCheck(t *testing.T) {
	store, ctx := setupTestDB(t)

	require.NoError(t, store.HealthCheck(ctx))
}
