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

// WorkflowRepository stores definitions as JSONB documents keyed by
// workflow name.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	definition, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %q: %w", workflow.Name, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (name, definition)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET definition = $2, updated_at = NOW()
	`, workflow.Name, definition)
	if err != nil {
		return fmt.Errorf("failed to save workflow %q: %w", workflow.Name, err)
	}

	return nil
}

func (r *WorkflowRepository) ByName(ctx context.Context, name string) (*models.Workflow, error) {
	var definition []byte

	err := r.db.QueryRowContext(ctx, "SELECT definition FROM workflows WHERE name = $1", name).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrWorkflowNotFound, name)
		}

		return nil, fmt.Errorf("failed to query workflow %q: %w", name, err)
	}

	workflow := &models.Workflow{}

	err = json.Unmarshal(definition, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %q: %w", name, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) All(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT definition FROM workflows ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var workflows []*models.Workflow

	for rows.Next() {
		var definition []byte

		err = rows.Scan(&definition)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}

		workflow := &models.Workflow{}

		err = json.Unmarshal(definition, workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate workflow rows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %q: %w", name, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrWorkflowNotFound, name)
	}

	return nil
}
