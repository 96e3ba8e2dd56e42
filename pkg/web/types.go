// Package web provides the REST API for workflow definitions and runs.
package web

import "github.com/flowmod/flowmod/pkg/models"

// SubmitRunRequest is the request body for starting a workflow run.
type SubmitRunRequest struct {
	Workflow string         `json:"workflow" validate:"required"`
	Params   map[string]any `json:"params,omitempty"`
}

// ApproveRunRequest is the request body for releasing a run suspended on a
// manual node.
type ApproveRunRequest struct {
	ApprovedBy string `json:"approved_by" validate:"required"`
}

// RunResponse is a run together with every task it created so far.
type RunResponse struct {
	Run   *models.WorkflowRun `json:"run"`
	Tasks []*models.Task      `json:"tasks"`
}
