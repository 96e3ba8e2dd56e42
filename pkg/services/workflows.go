package services

import (
	"context"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/persistence"
)

// Workflows manages stored workflow definitions.
type Workflows struct {
	persistence persistence.Persistence
}

// NewWorkflows creates a new workflow definition service.
func NewWorkflows(persistence persistence.Persistence) *Workflows {
	return &Workflows{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflows) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Save stores a workflow definition under its name, replacing any previous
// version. The definition must already be structurally valid; parsing and
// schema checks happen at load time.
func (w *Workflows) Save(ctx context.Context, workflow *models.Workflow) error {
	if workflow.Name == "" {
		return ErrWorkflowNameRequired
	}

	return w.persistence.WorkflowRepository().Save(ctx, workflow)
}

// ByName fetches one stored workflow definition.
func (w *Workflows) ByName(ctx context.Context, name string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().ByName(ctx, name)
}

// All lists every stored workflow definition.
func (w *Workflows) All(ctx context.Context) ([]*models.Workflow, error) {
	return w.persistence.WorkflowRepository().All(ctx)
}

// Delete removes a stored workflow definition.
func (w *Workflows) Delete(ctx context.Context, name string) error {
	return w.persistence.WorkflowRepository().Delete(ctx, name)
}
