package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/persistence"
)

// RunRepository archives terminal runs with their full task history as
// JSONB documents.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

func (r *RunRepository) Archive(ctx context.Context, record *persistence.ArchivedRun) error {
	run := record.Run

	if !run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", persistence.ErrRunNotTerminal, run.ID, run.Status)
	}

	runPayload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %q: %w", run.ID, err)
	}

	tasks := record.Tasks
	if tasks == nil {
		tasks = []*models.Task{}
	}

	taskPayload, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks of run %q: %w", run.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_name, status, run, tasks, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = $3, run = $4, tasks = $5, ended_at = $7, archived_at = NOW()
	`, run.ID, run.Workflow.Name, run.Status, runPayload, taskPayload, run.StartedAt, run.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to archive run %q: %w", run.ID, err)
	}

	return nil
}

func (r *RunRepository) ByID(ctx context.Context, id string) (*persistence.ArchivedRun, error) {
	var runPayload, taskPayload []byte

	err := r.db.QueryRowContext(ctx, "SELECT run, tasks FROM workflow_runs WHERE id = $1", id).
		Scan(&runPayload, &taskPayload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrRunNotFound, id)
		}

		return nil, fmt.Errorf("failed to query run %q: %w", id, err)
	}

	return decodeArchivedRun(runPayload, taskPayload)
}

func (r *RunRepository) All(ctx context.Context) ([]*persistence.ArchivedRun, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT run, tasks FROM workflow_runs ORDER BY started_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []*persistence.ArchivedRun

	for rows.Next() {
		var runPayload, taskPayload []byte

		err = rows.Scan(&runPayload, &taskPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		record, err := decodeArchivedRun(runPayload, taskPayload)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate run rows: %w", err)
	}

	return records, nil
}

func decodeArchivedRun(runPayload, taskPayload []byte) (*persistence.ArchivedRun, error) {
	record := &persistence.ArchivedRun{Run: &models.WorkflowRun{}}

	err := json.Unmarshal(runPayload, record.Run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	err = json.Unmarshal(taskPayload, &record.Tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal tasks: %w", err)
	}

	return record, nil
}
