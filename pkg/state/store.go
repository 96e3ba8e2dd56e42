// Package state is the single authority for mutating workflow run state, task
// fields and step outputs. Every mutation arrives as a diff record and is
// applied atomically, serialized per target entity.
package state

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/status"
)

// Store holds the live records of in-flight workflow runs and their tasks.
// Readers receive copies; writers go through diff application. One mutex per
// entity serializes diff application so concurrent matrix children cannot
// lose updates.
type Store struct {
	logger *slog.Logger

	mu    sync.RWMutex
	runs  map[string]*runEntry
	tasks map[string]*taskEntry

	observerMu sync.RWMutex
	observers  []Observer
}

type runEntry struct {
	mu      sync.Mutex
	run     *models.WorkflowRun
	outputs map[string]any
}

type taskEntry struct {
	mu   sync.Mutex
	task *models.Task
}

// NewStore creates an empty state store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger: logger.With("module", "state"),
		runs:   make(map[string]*runEntry),
		tasks:  make(map[string]*taskEntry),
	}
}

// CreateRun registers a new workflow run record.
func (s *Store) CreateRun(run *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("workflow run %s already exists", run.ID)
	}

	s.runs[run.ID] = &runEntry{run: cloneRun(run), outputs: make(map[string]any)}

	return nil
}

// CreateTask registers a new task record. Logs are seeded as an empty array so
// Append diffs always have a target.
func (s *Store) CreateTask(task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	clone := cloneTask(task)
	if clone.Logs == nil {
		clone.Logs = []string{}
	}

	s.tasks[task.ID] = &taskEntry{task: clone}

	return nil
}

// Run returns a copy of the run record.
func (s *Store) Run(id string) (*models.WorkflowRun, error) {
	entry, err := s.runEntry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return cloneRun(entry.run), nil
}

// Task returns a copy of the task record.
func (s *Store) Task(id string) (*models.Task, error) {
	entry, err := s.taskEntry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return cloneTask(entry.task), nil
}

// TasksByRun returns copies of all task records belonging to a run.
func (s *Store) TasksByRun(runID string) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task

	for _, entry := range s.tasks {
		entry.mu.Lock()
		if entry.task.WorkflowRunID == runID {
			out = append(out, cloneTask(entry.task))
		}
		entry.mu.Unlock()
	}

	return out
}

// ChildTasks returns copies of the matrix children of a master task.
func (s *Store) ChildTasks(masterTaskID string) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task

	for _, entry := range s.tasks {
		entry.mu.Lock()
		if entry.task.MasterTaskID == masterTaskID && !entry.task.IsMaster {
			out = append(out, cloneTask(entry.task))
		}
		entry.mu.Unlock()
	}

	return out
}

// ApplyStateDiff applies a field diff map to a run's state. The record applies
// all-or-nothing: every field operation is validated against the current state
// before any of them mutates it.
func (s *Store) ApplyStateDiff(diff models.StateDiff) error {
	err := s.applyStateDiff(diff)
	if err != nil {
		return err
	}

	s.notify(func(observer Observer) { observer.StateDiffApplied(diff) })

	return nil
}

func (s *Store) applyStateDiff(diff models.StateDiff) error {
	entry, err := s.runEntry(diff.WorkflowRunID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.run.State == nil {
		entry.run.State = make(map[string]any)
	}

	target := "run " + diff.WorkflowRunID + " state"

	for field, fieldDiff := range diff.Fields {
		if err := validateMapOp(entry.run.State, field, fieldDiff); err != nil {
			s.logger.Warn("Rejecting state diff record", "run_id", diff.WorkflowRunID, "field", field, "operation", fieldDiff.Operation, "error", err)

			return &DiffError{Target: target, Field: field, Operation: fieldDiff.Operation, Err: err}
		}
	}

	for field, fieldDiff := range diff.Fields {
		applyMapOp(entry.run.State, field, fieldDiff)
	}

	return nil
}

// ApplyRunDiff applies a field diff map to the run record itself. A status
// update must follow a legal lifecycle edge or the whole record is rejected.
func (s *Store) ApplyRunDiff(diff models.WorkflowRunDiff) error {
	err := s.applyRunDiff(diff)
	if err != nil {
		return err
	}

	s.notify(func(observer Observer) { observer.RunDiffApplied(diff) })

	return nil
}

func (s *Store) applyRunDiff(diff models.WorkflowRunDiff) error {
	entry, err := s.runEntry(diff.WorkflowRunID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	target := "run " + diff.WorkflowRunID

	for field, fieldDiff := range diff.Fields {
		if err := validateRunOp(entry.run, field, fieldDiff); err != nil {
			s.logger.Warn("Rejecting run diff record", "run_id", diff.WorkflowRunID, "field", field, "operation", fieldDiff.Operation, "error", err)

			return &DiffError{Target: target, Field: field, Operation: fieldDiff.Operation, Err: err}
		}
	}

	for field, fieldDiff := range diff.Fields {
		applyRunOp(entry.run, field, fieldDiff)
	}

	return nil
}

// ApplyTaskDiff applies a field diff map to a task record. A status update
// must follow a legal lifecycle edge or the whole record is rejected.
func (s *Store) ApplyTaskDiff(diff models.TaskDiff) error {
	err := s.applyTaskDiff(diff)
	if err != nil {
		return err
	}

	s.notify(func(observer Observer) { observer.TaskDiffApplied(diff) })

	return nil
}

func (s *Store) applyTaskDiff(diff models.TaskDiff) error {
	entry, err := s.taskEntry(diff.TaskID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	target := "task " + diff.TaskID

	for field, fieldDiff := range diff.Fields {
		if err := validateTaskOp(entry.task, field, fieldDiff); err != nil {
			s.logger.Warn("Rejecting task diff record", "task_id", diff.TaskID, "field", field, "operation", fieldDiff.Operation, "error", err)

			return &DiffError{Target: target, Field: field, Operation: fieldDiff.Operation, Err: err}
		}
	}

	for field, fieldDiff := range diff.Fields {
		applyTaskOp(entry.task, field, fieldDiff)
	}

	return nil
}

// StateValue reads a single key from the run's state.
func (s *Store) StateValue(runID, key string) (any, bool, error) {
	entry, err := s.runEntry(runID)
	if err != nil {
		return nil, false, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	value, ok := entry.run.State[key]

	return value, ok, nil
}

func (s *Store) runEntry(id string) (*runEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return entry, nil
}

func (s *Store) taskEntry(id string) (*taskEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	return entry, nil
}

// Generic map field operations (run state).

func validateMapOp(target map[string]any, field string, diff models.FieldDiff) error {
	_, exists := target[field]

	switch diff.Operation {
	case models.DiffOperationAdd:
		if exists {
			return fmt.Errorf("%w: add on existing field", ErrDiffConflict)
		}
	case models.DiffOperationUpdate:
		if !exists {
			return fmt.Errorf("%w: update on missing field", ErrDiffConflict)
		}
	case models.DiffOperationRemove:
	case models.DiffOperationAppend:
		if !exists {
			return fmt.Errorf("%w: append on missing field", ErrNotAppendable)
		}

		if reflect.ValueOf(target[field]).Kind() != reflect.Slice {
			return ErrNotAppendable
		}
	default:
		return fmt.Errorf("unsupported diff operation %q", diff.Operation)
	}

	return nil
}

func applyMapOp(target map[string]any, field string, diff models.FieldDiff) {
	switch diff.Operation {
	case models.DiffOperationAdd, models.DiffOperationUpdate:
		target[field] = diff.Value
	case models.DiffOperationRemove:
		delete(target, field)
	case models.DiffOperationAppend:
		target[field] = appendSlice(target[field], diff.Value)
	}
}

// appendSlice pushes value onto an existing slice of any element type,
// widening to []any when the element types differ.
func appendSlice(existing, value any) any {
	rv := reflect.ValueOf(existing)

	if typed, ok := existing.([]any); ok {
		return append(typed, value)
	}

	widened := make([]any, 0, rv.Len()+1)

	for i := range rv.Len() {
		widened = append(widened, rv.Index(i).Interface())
	}

	return append(widened, value)
}

// Run record field operations.

func validateRunOp(run *models.WorkflowRun, field string, diff models.FieldDiff) error {
	switch field {
	case "status":
		if diff.Operation == models.DiffOperationAppend {
			return ErrNotAppendable
		}

		return status.CheckWorkflow(run.Status, models.WorkflowStatus(asString(diff.Value)))
	case "ended_at", "error":
		if diff.Operation == models.DiffOperationAppend {
			return ErrNotAppendable
		}
	case "tasks":
		if diff.Operation != models.DiffOperationAppend {
			return fmt.Errorf("field %q only supports append", field)
		}
	default:
		return fmt.Errorf("%w: %q on workflow run", ErrUnknownField, field)
	}

	return nil
}

func applyRunOp(run *models.WorkflowRun, field string, diff models.FieldDiff) {
	switch field {
	case "status":
		run.Status = models.WorkflowStatus(asString(diff.Value))
	case "ended_at":
		run.EndedAt = asTime(diff.Value)
	case "error":
		run.Error = asString(diff.Value)
	case "tasks":
		run.Tasks = append(run.Tasks, asString(diff.Value))
	}
}

// Task record field operations.

func validateTaskOp(task *models.Task, field string, diff models.FieldDiff) error {
	switch field {
	case "status":
		if diff.Operation == models.DiffOperationAppend {
			return ErrNotAppendable
		}

		return status.CheckTask(task.Status, models.TaskStatus(asString(diff.Value)))
	case "started_at", "ended_at", "error":
		if diff.Operation == models.DiffOperationAppend {
			return ErrNotAppendable
		}
	case "logs":
		if diff.Operation != models.DiffOperationAppend {
			return fmt.Errorf("field %q only supports append", field)
		}
	default:
		return fmt.Errorf("%w: %q on task", ErrUnknownField, field)
	}

	return nil
}

func applyTaskOp(task *models.Task, field string, diff models.FieldDiff) {
	switch field {
	case "status":
		task.Status = models.TaskStatus(asString(diff.Value))
	case "started_at":
		task.StartedAt = asTime(diff.Value)
	case "ended_at":
		task.EndedAt = asTime(diff.Value)
	case "error":
		task.Error = asString(diff.Value)
	case "logs":
		task.Logs = append(task.Logs, asString(diff.Value))
	}
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case models.WorkflowStatus:
		return string(v)
	case models.TaskStatus:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asTime(value any) *time.Time {
	switch v := value.(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil
		}

		return &parsed
	default:
		return nil
	}
}

func cloneRun(run *models.WorkflowRun) *models.WorkflowRun {
	clone := *run
	clone.Params = cloneMap(run.Params)
	clone.State = cloneMap(run.State)
	clone.Tasks = append([]string(nil), run.Tasks...)

	return &clone
}

func cloneTask(task *models.Task) *models.Task {
	clone := *task
	clone.MatrixValues = cloneMap(task.MatrixValues)
	clone.Logs = append([]string(nil), task.Logs...)

	return &clone
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))

	for k, v := range in {
		out[k] = v
	}

	return out
}
