// Package graph builds and validates the dependency graph of a workflow's nodes.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowmod/flowmod/pkg/models"
)

// CycleError reports a cyclic depends_on graph. Remaining holds the node ids
// that could not be ordered, i.e. the members and downstream of the cycle.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow dependency graph contains a cycle involving nodes: %s", strings.Join(e.Remaining, ", "))
}

// Resolver answers readiness and adjacency questions about a validated
// workflow graph. Construction fails with a CycleError on cyclic input, so a
// Resolver always represents a DAG.
type Resolver struct {
	nodes      []*models.Node
	dependents map[string][]string
}

// NewResolver builds the dependency graph from the workflow's nodes and
// rejects it if a topological order does not exist (Kahn's algorithm with a
// non-empty residual set).
func NewResolver(workflow *models.Workflow) (*Resolver, error) {
	dependents := make(map[string][]string, len(workflow.Nodes))
	inDegree := make(map[string]int, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		inDegree[node.ID] = len(node.DependsOn)

		for _, dep := range node.DependsOn {
			dependents[dep] = append(dependents[dep], node.ID)
		}
	}

	queue := make([]string, 0, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	ordered := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ordered++

		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if ordered != len(workflow.Nodes) {
		remaining := make([]string, 0, len(workflow.Nodes)-ordered)

		for id, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, id)
			}
		}

		sort.Strings(remaining)

		return nil, &CycleError{Remaining: remaining}
	}

	return &Resolver{nodes: workflow.Nodes, dependents: dependents}, nil
}

// ReadyNodes returns, in declaration order, the nodes whose every dependency
// is in completed and which are not in scheduled. Declaration order is the
// tie-breaker so scheduling stays deterministic.
func (r *Resolver) ReadyNodes(completed, scheduled map[string]struct{}) []*models.Node {
	var ready []*models.Node

	for _, node := range r.nodes {
		if _, done := scheduled[node.ID]; done {
			continue
		}

		satisfied := true

		for _, dep := range node.DependsOn {
			if _, ok := completed[dep]; !ok {
				satisfied = false

				break
			}
		}

		if satisfied {
			ready = append(ready, node)
		}
	}

	return ready
}

// Dependents returns the ids of nodes that directly depend on the given node.
func (r *Resolver) Dependents(nodeID string) []string {
	return r.dependents[nodeID]
}

// TransitiveDependents returns every node id reachable downstream of the
// given node. Used to cascade skip semantics after a failure.
func (r *Resolver) TransitiveDependents(nodeID string) []string {
	seen := make(map[string]struct{})
	stack := append([]string(nil), r.dependents[nodeID]...)

	var out []string

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := seen[current]; ok {
			continue
		}

		seen[current] = struct{}{}
		out = append(out, current)
		stack = append(stack, r.dependents[current]...)
	}

	return out
}
