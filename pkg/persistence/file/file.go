// Package file provides file-based persistence for single-machine
// deployments: workflow definitions and archived runs stored as JSON
// documents under one root directory.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/flowmod/flowmod/pkg/persistence"
)

type Persistence struct {
	root      string
	workflows *WorkflowRepository
	runs      *RunRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. A file:// prefix is accepted and stripped.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:      cleanRoot,
		workflows: NewWorkflowRepository(cleanRoot),
		runs:      NewRunRepository(cleanRoot),
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runs
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	_, err := os.Stat(p.root)

	return err
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
