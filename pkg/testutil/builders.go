// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowmod/flowmod/pkg/models"
)

// Logger returns a logger that discards all output. Use in tests that do not
// assert on logging.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError + 100,
	}))
}

// CreateTestNode creates a runnable node with default values that can be
// overridden per test.
func CreateTestNode(id string, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:    id,
		Name:  "Test Node",
		Type:  models.NodeTypeAutomatic,
		Steps: []*models.Step{{Name: "noop", Run: &models.RunOptions{Command: "true"}}},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithDependsOn sets the node's dependencies.
func WithDependsOn(deps ...string) func(*models.Node) {
	return func(n *models.Node) {
		n.DependsOn = deps
	}
}

// WithMatrixValues gives the node a literal matrix strategy.
func WithMatrixValues(values ...map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Strategy = &models.Strategy{Type: models.StrategyTypeMatrix, Values: values}
	}
}

// WithMatrixFromState gives the node a state-sourced matrix strategy.
func WithMatrixFromState(key string) func(*models.Node) {
	return func(n *models.Node) {
		n.Strategy = &models.Strategy{Type: models.StrategyTypeMatrix, FromState: key}
	}
}

// WithSteps replaces the node's steps.
func WithSteps(steps ...*models.Step) func(*models.Node) {
	return func(n *models.Node) {
		n.Steps = steps
	}
}

// WithManualTrigger gates the node behind an approval.
func WithManualTrigger() func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeManual
		n.Trigger = &models.Trigger{Type: models.TriggerTypeManual}
	}
}

// CreateTestWorkflow assembles a workflow from nodes.
func CreateTestWorkflow(nodes ...*models.Node) *models.Workflow {
	return &models.Workflow{Version: "1", Name: "test-workflow", Nodes: nodes}
}

// CreateTestRun creates a pending run for a workflow.
func CreateTestRun(workflow *models.Workflow) *models.WorkflowRun {
	return &models.WorkflowRun{
		ID:        "run-" + uuid.New().String()[:8],
		Workflow:  workflow,
		Status:    models.WorkflowStatusPending,
		Params:    map[string]any{},
		State:     map[string]any{},
		StartedAt: time.Now(),
	}
}
