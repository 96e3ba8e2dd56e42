package state

import "github.com/flowmod/flowmod/pkg/models"

// Step outputs and global variables are the public read/write surface exposed
// to step scripts. Outputs live in a run-scoped namespace keyed by output
// name; global variables are plain run state fields with add-or-update
// semantics.

// SetStepOutput writes a named step output, overwriting any previous value.
func (s *Store) SetStepOutput(runID, key string, value any) error {
	entry, err := s.runEntry(runID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.outputs[key] = value

	return nil
}

// GetStepOutput reads a named step output.
func (s *Store) GetStepOutput(runID, key string) (any, bool, error) {
	entry, err := s.runEntry(runID)
	if err != nil {
		return nil, false, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	value, ok := entry.outputs[key]

	return value, ok, nil
}

// GetOrSetStepOutput returns the existing output for key, or stores value and
// returns it. The get-or-insert is atomic under the run's lock so concurrent
// matrix children racing on the same key observe a single winner.
func (s *Store) GetOrSetStepOutput(runID, key string, value any) (any, error) {
	entry, err := s.runEntry(runID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if existing, ok := entry.outputs[key]; ok {
		return existing, nil
	}

	entry.outputs[key] = value

	return value, nil
}

// StepOutputs returns a copy of the run's output namespace.
func (s *Store) StepOutputs(runID string) (map[string]any, error) {
	entry, err := s.runEntry(runID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return cloneMap(entry.outputs), nil
}

// SetGlobalVariable writes a run state field regardless of prior presence.
func (s *Store) SetGlobalVariable(runID, name string, value any) error {
	entry, err := s.runEntry(runID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.run.State == nil {
		entry.run.State = make(map[string]any)
	}

	entry.run.State[name] = value

	return nil
}

// GetGlobalVariable reads a run state field.
func (s *Store) GetGlobalVariable(runID, name string) (any, bool, error) {
	return s.StateValue(runID, name)
}

// SeedState initializes run state fields without conflict checking. Used once
// at run creation to materialize schema defaults.
func (s *Store) SeedState(runID string, values map[string]any) error {
	entry, err := s.runEntry(runID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.run.State == nil {
		entry.run.State = make(map[string]any, len(values))
	}

	for k, v := range values {
		entry.run.State[k] = v
	}

	return nil
}

// Snapshot assembles the rendering context for template evaluation: state,
// params and step outputs of one run, plus the given task's matrix values.
func (s *Store) Snapshot(runID string, task *models.Task) (map[string]any, error) {
	run, err := s.Run(runID)
	if err != nil {
		return nil, err
	}

	outputs, err := s.StepOutputs(runID)
	if err != nil {
		return nil, err
	}

	snapshot := map[string]any{
		"state":   run.State,
		"params":  run.Params,
		"outputs": outputs,
	}

	if task != nil && task.MatrixValues != nil {
		snapshot["matrix"] = task.MatrixValues
	}

	return snapshot, nil
}
