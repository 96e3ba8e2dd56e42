// Package persistence provides the storage abstraction for workflow
// definitions and archived runs.
package persistence

import (
	"context"

	"github.com/flowmod/flowmod/pkg/models"
)

// ArchivedRun is the durable record of a finished run: the run itself
// plus every task it created.
type ArchivedRun struct {
	Run   *models.WorkflowRun `json:"run"`
	Tasks []*models.Task      `json:"tasks"`
}

// WorkflowRepository stores workflow definitions keyed by name.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	ByName(ctx context.Context, name string) (*models.Workflow, error)
	All(ctx context.Context) ([]*models.Workflow, error)
	Delete(ctx context.Context, name string) error
}

// RunRepository archives runs once they reach a terminal status. Live
// run state stays in the state store; only finished runs land here.
type RunRepository interface {
	Archive(ctx context.Context, record *ArchivedRun) error
	ByID(ctx context.Context, id string) (*ArchivedRun, error)
	All(ctx context.Context) ([]*ArchivedRun, error)
}

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
