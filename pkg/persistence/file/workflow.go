package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/persistence"
)

// WorkflowRepository stores each workflow definition as one JSON file
// named after the workflow under <root>/workflows.
type WorkflowRepository struct {
	dir string
}

func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{dir: filepath.Join(root, "workflows")}
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	err := os.MkdirAll(r.dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %q: %w", workflow.Name, err)
	}

	err = os.WriteFile(r.path(workflow.Name), data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write workflow %q: %w", workflow.Name, err)
	}

	return nil
}

func (r *WorkflowRepository) ByName(_ context.Context, name string) (*models.Workflow, error) {
	data, err := os.ReadFile(r.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrWorkflowNotFound, name)
		}

		return nil, fmt.Errorf("failed to read workflow %q: %w", name, err)
	}

	workflow := &models.Workflow{}

	err = json.Unmarshal(data, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %q: %w", name, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) All(ctx context.Context) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		workflow, err := r.ByName(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (r *WorkflowRepository) Delete(_ context.Context, name string) error {
	err := os.Remove(r.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", persistence.ErrWorkflowNotFound, name)
		}

		return fmt.Errorf("failed to delete workflow %q: %w", name, err)
	}

	return nil
}

func (r *WorkflowRepository) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}
