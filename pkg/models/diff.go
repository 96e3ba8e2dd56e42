package models

// DiffOperation enumerates the field-level mutation operations.
type DiffOperation string

const (
	DiffOperationAdd    DiffOperation = "add"
	DiffOperationUpdate DiffOperation = "update"
	DiffOperationRemove DiffOperation = "remove"
	DiffOperationAppend DiffOperation = "append"
)

// FieldDiff is one mutation request against a single field. Value is ignored
// for Remove; Append requires the target field to hold an array.
type FieldDiff struct {
	Operation DiffOperation `json:"operation"`
	Value     any           `json:"value,omitempty"`
}

// StateDiff mutates fields of a workflow run's state map.
type StateDiff struct {
	WorkflowRunID string               `json:"workflow_run_id"`
	Fields        map[string]FieldDiff `json:"fields"`
}

// TaskDiff mutates fields of a task record.
type TaskDiff struct {
	TaskID string               `json:"task_id"`
	Fields map[string]FieldDiff `json:"fields"`
}

// WorkflowRunDiff mutates top-level fields of a workflow run record.
type WorkflowRunDiff struct {
	WorkflowRunID string               `json:"workflow_run_id"`
	Fields        map[string]FieldDiff `json:"fields"`
}

// UpdateField is shorthand for a single-field Update diff map.
func UpdateField(field string, value any) map[string]FieldDiff {
	return map[string]FieldDiff{field: {Operation: DiffOperationUpdate, Value: value}}
}

// AppendField is shorthand for a single-field Append diff map.
func AppendField(field string, value any) map[string]FieldDiff {
	return map[string]FieldDiff{field: {Operation: DiffOperationAppend, Value: value}}
}
