package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/otelhelper"
	"github.com/flowmod/flowmod/pkg/protocol"
	"github.com/flowmod/flowmod/pkg/runtime"
	"github.com/flowmod/flowmod/pkg/state"
	"github.com/flowmod/flowmod/pkg/template"
)

// ErrUnknownTemplate is returned when a use step names a template the
// workflow does not declare.
var ErrUnknownTemplate = errors.New("unknown template")

// Executor runs a task's steps in order inside the node's resolved
// runtime, recording logs and outputs through the state store and
// ending with a terminal task diff.
type Executor struct {
	logger   *slog.Logger
	store    *state.Store
	runtimes *runtime.Registry
	search   protocol.SearchTransformer
	codemods protocol.CodemodRunner
	agent    protocol.Agent
}

// NewExecutor wires an executor with its collaborator set.
func NewExecutor(
	logger *slog.Logger,
	store *state.Store,
	runtimes *runtime.Registry,
	search protocol.SearchTransformer,
	codemods protocol.CodemodRunner,
	agent protocol.Agent,
) *Executor {
	return &Executor{
		logger:   logger.With("module", "task"),
		store:    store,
		runtimes: runtimes,
		search:   search,
		codemods: codemods,
		agent:    agent,
	}
}

// stepScope carries the values one step renders its templates against,
// plus the env and runtime it inherits.
type stepScope struct {
	data    map[string]any
	env     map[string]string
	runtime *models.Runtime
}

// Execute runs all steps of the node for the given task and returns the
// terminal status it recorded. Step failures end the task as Failed;
// the returned error is reserved for store failures.
func (e *Executor) Execute(ctx context.Context, run *models.WorkflowRun, node *models.Node, taskRecord *models.Task) (models.TaskStatus, error) {
	logger := e.logger.With("workflow_run_id", run.ID, "node_id", node.ID, "task_id", taskRecord.ID)

	ctx, span := otelhelper.StartSpan(ctx, otel.Tracer("flowmod/task"), "task.execute",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.TaskIDKey, taskRecord.ID),
	)
	defer span.End()

	err := e.store.ApplyTaskDiff(models.TaskDiff{
		TaskID: taskRecord.ID,
		Fields: map[string]models.FieldDiff{
			"status":     {Operation: models.DiffOperationUpdate, Value: models.TaskStatusRunning},
			"started_at": {Operation: models.DiffOperationUpdate, Value: time.Now().UTC()},
		},
	})
	if err != nil {
		return "", err
	}

	logger.InfoContext(ctx, "Task started", "steps", len(node.Steps))

	stepErr := e.runSteps(ctx, run, node, taskRecord)
	if stepErr != nil {
		logger.WarnContext(ctx, "Task failed", "error", stepErr)
		otelhelper.RecordFailure(span, stepErr, attribute.String(otelhelper.TaskIDKey, taskRecord.ID))

		return models.TaskStatusFailed, e.finish(taskRecord.ID, models.TaskStatusFailed, stepErr.Error())
	}

	logger.InfoContext(ctx, "Task completed")

	return models.TaskStatusCompleted, e.finish(taskRecord.ID, models.TaskStatusCompleted, "")
}

func (e *Executor) runSteps(ctx context.Context, run *models.WorkflowRun, node *models.Node, taskRecord *models.Task) error {
	rt := node.Runtime
	if rt == nil {
		rt = models.DirectRuntime()
	}

	for _, step := range node.Steps {
		snapshot, err := e.store.Snapshot(run.ID, taskRecord)
		if err != nil {
			return err
		}

		scope := stepScope{data: snapshot, env: node.Env, runtime: rt}

		err = e.runStep(ctx, run, node, taskRecord, step, scope)
		if err != nil {
			return &StepExecutionError{Node: node.ID, Step: step.Name, Err: err}
		}
	}

	return nil
}

func (e *Executor) runStep(ctx context.Context, run *models.WorkflowRun, node *models.Node, taskRecord *models.Task, step *models.Step, scope stepScope) error {
	proceed, err := e.evaluateCondition(step.If, scope.data)
	if err != nil {
		return err
	}

	if !proceed {
		e.appendLog(taskRecord.ID, fmt.Sprintf("step %q skipped: condition evaluated false", step.Name))

		return nil
	}

	env, err := e.resolveEnv(scope, step.Env)
	if err != nil {
		return err
	}

	switch step.Kind() {
	case models.StepKindUse:
		return e.runUse(ctx, run, node, taskRecord, step, scope)
	case models.StepKindRun:
		return e.runShell(ctx, run, taskRecord, step, scope, env)
	case models.StepKindAstGrep:
		return e.runSearchTransform(ctx, run, taskRecord, step, searchRequest(step.AstGrep, scope.runtime, env), scope.data)
	case models.StepKindJSAstGrep:
		return e.runSearchTransform(ctx, run, taskRecord, step, jsSearchRequest(step.JSAstGrep, scope.runtime, env), scope.data)
	case models.StepKindCodemod:
		return e.runCodemod(ctx, run, taskRecord, step, scope, env)
	case models.StepKindAI:
		return e.runAgent(ctx, run, taskRecord, step, scope, env)
	}

	return fmt.Errorf("step %q has no active variant", step.Name)
}

// runUse binds the template's inputs by name, executes its steps with
// the merged env and runtime, then applies its declared outputs as
// named step outputs.
func (e *Executor) runUse(ctx context.Context, run *models.WorkflowRun, node *models.Node, taskRecord *models.Task, step *models.Step, scope stepScope) error {
	tpl, ok := run.Workflow.TemplateByID(step.Use.Template)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, step.Use.Template)
	}

	inputs := make(map[string]any, len(step.Use.Inputs))

	for name, value := range step.Use.Inputs {
		if raw, isString := value.(string); isString {
			rendered, err := template.Render(raw, scope.data)
			if err != nil {
				return fmt.Errorf("failed to render input %q: %w", name, err)
			}

			inputs[name] = rendered

			continue
		}

		inputs[name] = value
	}

	for _, input := range tpl.Inputs {
		if _, bound := inputs[input.Name]; !bound && input.Default != nil {
			inputs[input.Name] = input.Default
		}

		if _, bound := inputs[input.Name]; !bound && input.Required {
			return fmt.Errorf("template %q requires input %q", tpl.ID, input.Name)
		}
	}

	templateRuntime := scope.runtime
	if tpl.Runtime != nil {
		templateRuntime = tpl.Runtime
	}

	for _, inner := range tpl.Steps {
		snapshot, err := e.store.Snapshot(run.ID, taskRecord)
		if err != nil {
			return err
		}

		snapshot["inputs"] = inputs

		innerScope := stepScope{
			data:    snapshot,
			env:     mergeEnv(scope.env, tpl.Env),
			runtime: templateRuntime,
		}

		err = e.runStep(ctx, run, node, taskRecord, inner, innerScope)
		if err != nil {
			return fmt.Errorf("template %q: %w", tpl.ID, err)
		}
	}

	snapshot, err := e.store.Snapshot(run.ID, taskRecord)
	if err != nil {
		return err
	}

	snapshot["inputs"] = inputs

	for _, output := range tpl.Outputs {
		value, err := template.Render(output.Value, snapshot)
		if err != nil {
			return fmt.Errorf("failed to render output %q of template %q: %w", output.Name, tpl.ID, err)
		}

		err = e.store.SetStepOutput(run.ID, output.Name, value)
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Executor) runShell(ctx context.Context, run *models.WorkflowRun, taskRecord *models.Task, step *models.Step, scope stepScope, env map[string]string) error {
	command, err := template.RenderString(step.Run.Command, scope.data)
	if err != nil {
		return fmt.Errorf("failed to render command: %w", err)
	}

	adapter, err := e.runtimes.ForRuntime(scope.runtime)
	if err != nil {
		return err
	}

	res, err := adapter.Execute(ctx, runtime.CommandSpec{
		Command:    command,
		Env:        env,
		WorkingDir: workingDir(scope.runtime),
	}, scope.runtime)
	if err != nil {
		return err
	}

	e.recordResult(run.ID, taskRecord.ID, step.Name, res.Stdout, res.Stderr, nil)

	if !res.Success() {
		return fmt.Errorf("command exited with status %d", res.ExitCode)
	}

	return nil
}

func (e *Executor) runSearchTransform(ctx context.Context, run *models.WorkflowRun, taskRecord *models.Task, step *models.Step, req protocol.SearchTransformRequest, data map[string]any) error {
	basePath, err := template.RenderString(req.BasePath, data)
	if err != nil {
		return fmt.Errorf("failed to render base path: %w", err)
	}

	req.BasePath = basePath

	res, err := e.search.Transform(ctx, req)
	if err != nil {
		return err
	}

	e.recordResult(run.ID, taskRecord.ID, step.Name, res.Stdout, res.Stderr, res.Output)

	if !res.Success() {
		return fmt.Errorf("search-transform exited with status %d", res.ExitCode)
	}

	return nil
}

func (e *Executor) runCodemod(ctx context.Context, run *models.WorkflowRun, taskRecord *models.Task, step *models.Step, scope stepScope, env map[string]string) error {
	source, err := template.RenderString(step.Codemod.Source, scope.data)
	if err != nil {
		return fmt.Errorf("failed to render codemod source: %w", err)
	}

	res, err := e.codemods.Run(ctx, protocol.CodemodRequest{
		Source:     source,
		Args:       step.Codemod.Args,
		WorkingDir: step.Codemod.WorkingDir,
		Runtime:    scope.runtime,
		Env:        mergeEnv(env, step.Codemod.Env),
	})
	if err != nil {
		return err
	}

	e.recordResult(run.ID, taskRecord.ID, step.Name, res.Stdout, res.Stderr, res.Output)

	if !res.Success() {
		return fmt.Errorf("codemod exited with status %d", res.ExitCode)
	}

	return nil
}

func (e *Executor) runAgent(ctx context.Context, run *models.WorkflowRun, taskRecord *models.Task, step *models.Step, scope stepScope, env map[string]string) error {
	prompt, err := template.RenderString(step.AI.Prompt, scope.data)
	if err != nil {
		return fmt.Errorf("failed to render prompt: %w", err)
	}

	res, err := e.agent.Complete(ctx, protocol.AgentRequest{
		Prompt:       prompt,
		SystemPrompt: step.AI.SystemPrompt,
		Model:        step.AI.Model,
		Tools:        step.AI.Tools,
		MaxSteps:     step.AI.MaxSteps,
		TimeoutMS:    step.AI.TimeoutMS,
		Endpoint:     step.AI.Endpoint,
		APIKey:       step.AI.APIKey,
		Runtime:      scope.runtime,
		Env:          env,
	})
	if err != nil {
		return err
	}

	e.recordResult(run.ID, taskRecord.ID, step.Name, res.Stdout, res.Stderr, res.Output)

	if !res.Success() {
		return fmt.Errorf("agent session exited with status %d", res.ExitCode)
	}

	return nil
}

func (e *Executor) evaluateCondition(condition string, data map[string]any) (bool, error) {
	if condition == "" {
		return true, nil
	}

	rendered, err := template.Render(condition, data)
	if err != nil {
		return false, fmt.Errorf("failed to render condition: %w", err)
	}

	proceed, err := models.Truthy(rendered)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", condition, err)
	}

	return proceed, nil
}

func (e *Executor) resolveEnv(scope stepScope, stepEnv map[string]string) (map[string]string, error) {
	return template.RenderMap(mergeEnv(scope.env, stepEnv), scope.data)
}

// recordResult appends captured output to the task log and, when the
// step is named, publishes its output for later steps and nodes.
func (e *Executor) recordResult(runID, taskID, stepName, stdout, stderr string, output map[string]any) {
	if stdout != "" {
		e.appendLog(taskID, stdout)
	}

	if stderr != "" {
		e.appendLog(taskID, stderr)
	}

	if stepName == "" {
		return
	}

	var value any = strings.TrimRight(stdout, "\n")
	if output != nil {
		value = output
	}

	err := e.store.SetStepOutput(runID, stepName, value)
	if err != nil {
		e.logger.Warn("Failed to record step output", "step", stepName, "error", err)
	}
}

func (e *Executor) appendLog(taskID, line string) {
	err := e.store.ApplyTaskDiff(models.TaskDiff{
		TaskID: taskID,
		Fields: models.AppendField("logs", strings.TrimRight(line, "\n")),
	})
	if err != nil {
		e.logger.Warn("Failed to append task log", "task_id", taskID, "error", err)
	}
}

func (e *Executor) finish(taskID string, status models.TaskStatus, errorMessage string) error {
	fields := map[string]models.FieldDiff{
		"status":   {Operation: models.DiffOperationUpdate, Value: status},
		"ended_at": {Operation: models.DiffOperationUpdate, Value: time.Now().UTC()},
	}

	if errorMessage != "" {
		fields["error"] = models.FieldDiff{Operation: models.DiffOperationUpdate, Value: errorMessage}
	}

	return e.store.ApplyTaskDiff(models.TaskDiff{TaskID: taskID, Fields: fields})
}

func searchRequest(opts *models.AstGrepOptions, rt *models.Runtime, env map[string]string) protocol.SearchTransformRequest {
	return protocol.SearchTransformRequest{
		ConfigFile: opts.ConfigFile,
		Include:    opts.Include,
		Exclude:    opts.Exclude,
		BasePath:   opts.BasePath,
		MaxThreads: opts.MaxThreads,
		DryRun:     opts.DryRun,
		Language:   opts.Language,
		Runtime:    rt,
		Env:        env,
	}
}

func jsSearchRequest(opts *models.JSAstGrepOptions, rt *models.Runtime, env map[string]string) protocol.SearchTransformRequest {
	return protocol.SearchTransformRequest{
		JSFile:     opts.JSFile,
		Include:    opts.Include,
		Exclude:    opts.Exclude,
		BasePath:   opts.BasePath,
		MaxThreads: opts.MaxThreads,
		DryRun:     opts.DryRun,
		Language:   opts.Language,
		Runtime:    rt,
		Env:        env,
	}
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))

	for k, v := range base {
		merged[k] = v
	}

	for k, v := range overlay {
		merged[k] = v
	}

	return merged
}

func workingDir(rt *models.Runtime) string {
	if rt == nil {
		return ""
	}

	return rt.WorkingDir
}
