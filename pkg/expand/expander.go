// Package expand turns nodes into tasks, fanning matrix strategies out into
// one master task plus one child task per matrix value.
package expand

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/state"
)

// ResolutionError reports a from_state matrix source that could not be
// resolved to an array of objects. It is fatal to the node's expansion only,
// never to the whole run.
type ResolutionError struct {
	NodeID string
	Key    string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve matrix values for node %q from state key %q: %v", e.NodeID, e.Key, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Expander creates task records for nodes. State-sourced matrix values are
// read live from the store at expansion time, so earlier nodes appending to a
// state array fan out later nodes over the values present when the node
// becomes ready.
type Expander struct {
	store *state.Store
}

// NewExpander creates an expander reading matrix sources from the given store.
func NewExpander(store *state.Store) *Expander {
	return &Expander{store: store}
}

// Expand produces the task set for one node: a master task and, for matrix
// nodes, one child per resolved value. A node without a strategy produces a
// single task that is its own master, which keeps status aggregation uniform.
// The master never carries matrix values and runs no steps itself.
func (e *Expander) Expand(run *models.WorkflowRun, node *models.Node) (*models.Task, []*models.Task, error) {
	master := &models.Task{
		ID:            newTaskID(),
		WorkflowRunID: run.ID,
		NodeID:        node.ID,
		Status:        models.TaskStatusPending,
		IsMaster:      true,
	}

	if node.Strategy == nil {
		return master, nil, nil
	}

	values, err := e.resolveValues(run, node)
	if err != nil {
		return nil, nil, err
	}

	children := make([]*models.Task, 0, len(values))

	for _, value := range values {
		children = append(children, &models.Task{
			ID:            newTaskID(),
			WorkflowRunID: run.ID,
			NodeID:        node.ID,
			Status:        models.TaskStatusPending,
			IsMaster:      false,
			MasterTaskID:  master.ID,
			MatrixValues:  value,
		})
	}

	return master, children, nil
}

func (e *Expander) resolveValues(run *models.WorkflowRun, node *models.Node) ([]map[string]any, error) {
	strategy := node.Strategy

	if len(strategy.Values) > 0 {
		return strategy.Values, nil
	}

	raw, ok, err := e.store.StateValue(run.ID, strategy.FromState)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, &ResolutionError{NodeID: node.ID, Key: strategy.FromState, Err: fmt.Errorf("state key not found")}
	}

	return coerceObjectArray(node.ID, strategy.FromState, raw)
}

// coerceObjectArray accepts the slice shapes a state array may hold after
// JSON/YAML decoding and rejects everything that is not an array of objects.
func coerceObjectArray(nodeID, key string, raw any) ([]map[string]any, error) {
	switch typed := raw.(type) {
	case []map[string]any:
		return typed, nil
	case []any:
		out := make([]map[string]any, 0, len(typed))

		for i, element := range typed {
			object, ok := element.(map[string]any)
			if !ok {
				return nil, &ResolutionError{NodeID: nodeID, Key: key, Err: fmt.Errorf("element %d is %T, expected an object", i, element)}
			}

			out = append(out, object)
		}

		return out, nil
	default:
		return nil, &ResolutionError{NodeID: nodeID, Key: key, Err: fmt.Errorf("state value is %T, expected an array of objects", raw)}
	}
}

func newTaskID() string {
	return "task-" + uuid.New().String()[:8]
}
