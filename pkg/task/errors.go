// Package task executes one task's steps to a terminal status. All step
// failures are converted into task diffs at this boundary; they never
// propagate past it.
package task

import "fmt"

// StepExecutionError reports that a step failed. It fails the task it
// belongs to and nothing else.
type StepExecutionError struct {
	Node string
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q of node %q failed: %v", e.Step, e.Node, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}
