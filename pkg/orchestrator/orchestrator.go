// Package orchestrator drives workflow runs: it schedules nodes as their
// dependencies complete, expands matrix strategies into child tasks,
// dispatches tasks with bounded concurrency and propagates failures to
// downstream nodes without ever running them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmod/flowmod/pkg/eventbus"
	"github.com/flowmod/flowmod/pkg/events"
	"github.com/flowmod/flowmod/pkg/expand"
	"github.com/flowmod/flowmod/pkg/graph"
	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/state"
	"github.com/flowmod/flowmod/pkg/status"
	"github.com/flowmod/flowmod/pkg/template"
)

const defaultMaxConcurrentTasks = 4

var (
	// ErrRunNotActive is returned when Cancel or Approve names a run this
	// orchestrator is not currently driving.
	ErrRunNotActive = errors.New("workflow run is not active")
	// ErrRunNotAwaiting is returned when Approve arrives while the run is
	// not suspended on a manual node.
	ErrRunNotAwaiting = errors.New("workflow run is not awaiting a trigger")
)

// TaskExecutor runs one task's steps to a terminal status.
type TaskExecutor interface {
	Execute(ctx context.Context, run *models.WorkflowRun, node *models.Node, task *models.Task) (models.TaskStatus, error)
}

// Config carries the orchestrator's tunables.
type Config struct {
	// MaxConcurrentTasks bounds how many tasks execute at once within a run.
	MaxConcurrentTasks int
}

type approval struct {
	approvedBy string
}

// runGate fans approvals out to the manual nodes of one run. Each approval
// releases exactly one waiting node.
type runGate struct {
	ch      chan approval
	waiters int
}

// Orchestrator executes workflow runs to a terminal status.
type Orchestrator struct {
	logger        *slog.Logger
	store         *state.Store
	executor      TaskExecutor
	expander      *expand.Expander
	bus           eventbus.EventPublisher
	workerID      string
	maxConcurrent int

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	approvals map[string]*runGate
}

// NewOrchestrator wires an orchestrator. The event publisher may be nil
// when no observer is attached, for example in the CLI's one-shot mode.
func NewOrchestrator(logger *slog.Logger, store *state.Store, executor TaskExecutor, bus eventbus.EventPublisher, cfg Config) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentTasks
	}

	o := &Orchestrator{
		logger:        logger.With("module", "orchestrator"),
		store:         store,
		executor:      executor,
		expander:      expand.NewExpander(store),
		bus:           bus,
		workerID:      "worker-" + uuid.New().String()[:8],
		maxConcurrent: maxConcurrent,
		cancels:       make(map[string]context.CancelFunc),
		approvals:     make(map[string]*runGate),
	}

	if bus != nil {
		store.Subscribe(diffEvents{orchestrator: o})
	}

	return o
}

// Run drives the given run to a terminal status and returns it. Structural
// errors (cycles, schema violations) are reported before any task is
// created; everything after that is absorbed into task and run records.
func (o *Orchestrator) Run(ctx context.Context, run *models.WorkflowRun) (models.WorkflowStatus, error) {
	logger := o.logger.With("workflow_run_id", run.ID, "workflow", run.Workflow.Name)

	resolver, err := graph.NewResolver(run.Workflow)
	if err != nil {
		return "", err
	}

	run.Params = run.Workflow.Params.ApplyDefaults(run.Params)

	err = run.Workflow.Params.Check(run.Params)
	if err != nil {
		return "", fmt.Errorf("invalid params: %w", err)
	}

	run.State = run.Workflow.State.ApplyDefaults(run.State)

	err = o.store.CreateRun(run)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.register(run.ID, cancel)
	defer o.unregister(run.ID)

	err = o.setRunStatus(run.ID, models.WorkflowStatusRunning)
	if err != nil {
		return "", err
	}

	o.publish(runCtx, run.ID, events.RunStarted{
		BaseEvent:    o.baseEvent(events.RunStartedEvent, run.ID),
		WorkflowName: run.Workflow.Name,
		Params:       run.Params,
	})

	logger.InfoContext(runCtx, "Workflow run started", "nodes", len(run.Workflow.Nodes))

	finalStatus, runErr := o.schedule(runCtx, run, resolver)

	err = o.finishRun(run, finalStatus, runErr)
	if err != nil {
		return finalStatus, err
	}

	logger.InfoContext(ctx, "Workflow run finished", "status", finalStatus)

	return finalStatus, nil
}

// Cancel stops an active run. In-flight commands receive their runtime's
// termination signal and are force-killed after the adapter's grace period.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}

	cancel()

	return nil
}

// Approve releases one manual node of a suspended run. When several manual
// nodes are waiting, each needs its own approval.
func (o *Orchestrator) Approve(runID, approvedBy string) error {
	o.mu.Lock()
	gate, ok := o.approvals[runID]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotAwaiting, runID)
	}

	select {
	case gate.ch <- approval{approvedBy: approvedBy}:
		return nil
	default:
		return fmt.Errorf("%w: approval already delivered", ErrRunNotAwaiting)
	}
}

type nodeOutcome struct {
	node     *models.Node
	terminal models.TaskStatus
	err      error
}

// schedule dispatches nodes as soon as their dependencies complete. Every
// ready node runs on its own goroutine, so a manual node waiting for an
// approval suspends only its own branch; task execution itself is bounded
// by the run's worker slots. The dependency maps are touched exclusively by
// this loop's goroutine.
func (o *Orchestrator) schedule(ctx context.Context, run *models.WorkflowRun, resolver *graph.Resolver) (models.WorkflowStatus, error) {
	completed := make(map[string]struct{})
	scheduled := make(map[string]struct{})
	slots := make(chan struct{}, o.maxConcurrent)
	outcomes := make(chan nodeOutcome)

	// A schedule error aborts the sibling branches, including manual nodes
	// still waiting on their gate.
	branchCtx, abort := context.WithCancel(ctx)
	defer abort()

	var (
		firstFailure error
		scheduleErr  error
		inFlight     int
	)

	for {
		if scheduleErr == nil && ctx.Err() == nil {
			for _, node := range resolver.ReadyNodes(completed, scheduled) {
				scheduled[node.ID] = struct{}{}
				inFlight++

				go func(node *models.Node) {
					terminal, err := o.scheduleNode(branchCtx, run, node, slots)
					outcomes <- nodeOutcome{node: node, terminal: terminal, err: err}
				}(node)
			}
		}

		if inFlight == 0 {
			break
		}

		outcome := <-outcomes
		inFlight--

		switch {
		case outcome.err != nil:
			if scheduleErr == nil {
				scheduleErr = outcome.err

				abort()
			}
		case outcome.terminal == models.TaskStatusCompleted:
			completed[outcome.node.ID] = struct{}{}
		case outcome.terminal == models.TaskStatusFailed:
			if firstFailure == nil {
				firstFailure = fmt.Errorf("node %q failed", outcome.node.ID)
			}

			o.cascade(ctx, run, resolver, outcome.node.ID, scheduled)
		}
	}

	if ctx.Err() != nil {
		return models.WorkflowStatusCanceled, nil
	}

	if scheduleErr != nil {
		return models.WorkflowStatusFailed, scheduleErr
	}

	if firstFailure != nil {
		return models.WorkflowStatusFailed, firstFailure
	}

	return models.WorkflowStatusCompleted, nil
}

// scheduleNode expands one ready node into its task set, dispatches the
// work and returns the node's terminal task status. A manual node parks its
// master task until an approval arrives.
func (o *Orchestrator) scheduleNode(ctx context.Context, run *models.WorkflowRun, node *models.Node, slots chan struct{}) (models.TaskStatus, error) {
	skip, err := o.nodeSkipped(run, node)
	if err != nil {
		return models.TaskStatusFailed, err
	}

	master, children, expandErr := o.expander.Expand(run, node)
	if expandErr != nil {
		o.logger.Warn("Node expansion failed", "node_id", node.ID, "error", expandErr)

		return o.createFailedMaster(ctx, run, node, expandErr)
	}

	err = o.persistTask(ctx, run, node, master)
	if err != nil {
		return "", err
	}

	if skip {
		err = o.finishTask(ctx, run, node, master.ID, models.TaskStatusWontDo, "node condition evaluated false")
		if err != nil {
			return "", err
		}

		// A skipped node does not hold its dependents back.
		return models.TaskStatusCompleted, nil
	}

	if node.IsManual() {
		err = o.awaitApproval(ctx, run, node, master.ID)
		if err != nil {
			finishErr := o.finishTask(ctx, run, node, master.ID, models.TaskStatusFailed, "run canceled while awaiting approval")
			if finishErr != nil {
				o.logger.Error("Failed to finish unapproved task", "task_id", master.ID, "error", finishErr)
			}

			return "", err
		}
	}

	if node.Strategy == nil {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return "", ctx.Err()
		}

		terminal, err := o.executor.Execute(ctx, run, node, master)

		<-slots

		if err != nil {
			return "", err
		}

		o.publishTaskFinished(ctx, run, node, master.ID, terminal)

		return terminal, nil
	}

	return o.dispatchMatrix(ctx, run, node, master, children, slots)
}

// dispatchMatrix runs matrix children through the run's worker slots and
// aggregates their terminal statuses onto the master task.
func (o *Orchestrator) dispatchMatrix(ctx context.Context, run *models.WorkflowRun, node *models.Node, master *models.Task, children []*models.Task, slots chan struct{}) (models.TaskStatus, error) {
	err := o.store.ApplyTaskDiff(models.TaskDiff{
		TaskID: master.ID,
		Fields: map[string]models.FieldDiff{
			"status":     {Operation: models.DiffOperationUpdate, Value: models.TaskStatusRunning},
			"started_at": {Operation: models.DiffOperationUpdate, Value: time.Now().UTC()},
		},
	})
	if err != nil {
		return "", err
	}

	for _, child := range children {
		err = o.persistTask(ctx, run, node, child)
		if err != nil {
			return "", err
		}
	}

	var wg sync.WaitGroup

	for _, child := range children {
		wg.Add(1)

		go func(child *models.Task) {
			defer wg.Done()

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-slots }()

			terminal, err := o.executor.Execute(ctx, run, node, child)
			if err != nil {
				o.logger.Error("Child task execution failed", "task_id", child.ID, "error", err)

				return
			}

			o.publishTaskFinished(ctx, run, node, child.ID, terminal)
		}(child)
	}

	wg.Wait()

	aggregate := status.AggregateChildren(o.store.ChildTasks(master.ID))
	if aggregate == models.TaskStatusRunning {
		// Children that never reached a terminal status count as failed.
		aggregate = models.TaskStatusFailed
	}

	err = o.finishTask(ctx, run, node, master.ID, aggregate, "")
	if err != nil {
		return "", err
	}

	return aggregate, nil
}

// cascade marks every node downstream of a failure as Blocked (direct
// dependents) or WontDo (everything further down) without running them.
func (o *Orchestrator) cascade(ctx context.Context, run *models.WorkflowRun, resolver *graph.Resolver, failedNodeID string, scheduled map[string]struct{}) {
	direct := make(map[string]struct{})
	for _, id := range resolver.Dependents(failedNodeID) {
		direct[id] = struct{}{}
	}

	for _, nodeID := range resolver.TransitiveDependents(failedNodeID) {
		if _, done := scheduled[nodeID]; done {
			continue
		}

		scheduled[nodeID] = struct{}{}

		downstream := models.TaskStatusWontDo
		if _, isDirect := direct[nodeID]; isDirect {
			downstream = models.TaskStatusBlocked
		}

		node := o.nodeByID(run, nodeID)
		if node == nil {
			continue
		}

		task := &models.Task{
			ID:            "task-" + uuid.New().String()[:8],
			WorkflowRunID: run.ID,
			NodeID:        nodeID,
			Status:        models.TaskStatusPending,
			IsMaster:      true,
		}

		err := o.persistTask(ctx, run, node, task)
		if err != nil {
			o.logger.Error("Failed to record downstream task", "node_id", nodeID, "error", err)

			continue
		}

		err = o.finishTask(ctx, run, node, task.ID, downstream, fmt.Sprintf("dependency %q failed", failedNodeID))
		if err != nil {
			o.logger.Error("Failed to finish downstream task", "task_id", task.ID, "error", err)
		}
	}
}

// awaitApproval parks a manual node's master task and suspends the run
// until an approval arrives or the run is canceled. The gate is registered
// before the awaiting statuses become visible, so an approval sent right
// after observing the status always finds it.
func (o *Orchestrator) awaitApproval(ctx context.Context, run *models.WorkflowRun, node *models.Node, taskID string) error {
	gate := o.acquireGate(run.ID)
	defer o.releaseGate(run.ID)

	err := o.store.ApplyTaskDiff(models.TaskDiff{
		TaskID: taskID,
		Fields: models.UpdateField("status", models.TaskStatusAwaitingTrigger),
	})
	if err != nil {
		return err
	}

	err = o.setRunStatus(run.ID, models.WorkflowStatusAwaitingTrigger)
	if err != nil {
		return err
	}

	o.publish(ctx, run.ID, events.RunAwaitingTrigger{
		BaseEvent: o.baseEvent(events.RunAwaitingTriggerEvent, run.ID),
		NodeID:    node.ID,
	})

	o.logger.InfoContext(ctx, "Run awaiting approval", "workflow_run_id", run.ID, "node_id", node.ID, "task_id", taskID)

	select {
	case granted := <-gate:
		err = o.setRunStatus(run.ID, models.WorkflowStatusRunning)
		if err != nil {
			return err
		}

		o.publish(ctx, run.ID, events.RunResumed{
			BaseEvent:  o.baseEvent(events.RunResumedEvent, run.ID),
			NodeID:     node.ID,
			ApprovedBy: granted.approvedBy,
		})

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) acquireGate(runID string) chan approval {
	o.mu.Lock()
	defer o.mu.Unlock()

	gate, ok := o.approvals[runID]
	if !ok {
		gate = &runGate{ch: make(chan approval, 1)}
		o.approvals[runID] = gate
	}

	gate.waiters++

	return gate.ch
}

func (o *Orchestrator) releaseGate(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	gate, ok := o.approvals[runID]
	if !ok {
		return
	}

	gate.waiters--
	if gate.waiters == 0 {
		delete(o.approvals, runID)
	}
}

func (o *Orchestrator) nodeSkipped(run *models.WorkflowRun, node *models.Node) (bool, error) {
	if node.If == "" {
		return false, nil
	}

	snapshot, err := o.store.Snapshot(run.ID, nil)
	if err != nil {
		return false, err
	}

	rendered, err := template.Render(node.If, snapshot)
	if err != nil {
		return false, fmt.Errorf("node %q: failed to render condition: %w", node.ID, err)
	}

	proceed, err := models.Truthy(rendered)
	if err != nil {
		return false, fmt.Errorf("node %q: %w", node.ID, err)
	}

	return !proceed, nil
}

func (o *Orchestrator) createFailedMaster(ctx context.Context, run *models.WorkflowRun, node *models.Node, expandErr error) (models.TaskStatus, error) {
	task := &models.Task{
		ID:            "task-" + uuid.New().String()[:8],
		WorkflowRunID: run.ID,
		NodeID:        node.ID,
		Status:        models.TaskStatusPending,
		IsMaster:      true,
	}

	err := o.persistTask(ctx, run, node, task)
	if err != nil {
		return "", err
	}

	err = o.finishTask(ctx, run, node, task.ID, models.TaskStatusFailed, expandErr.Error())
	if err != nil {
		return "", err
	}

	return models.TaskStatusFailed, nil
}

// persistTask stores a task record, links it to its run and announces it.
func (o *Orchestrator) persistTask(ctx context.Context, run *models.WorkflowRun, node *models.Node, task *models.Task) error {
	err := o.store.CreateTask(task)
	if err != nil {
		return err
	}

	err = o.store.ApplyRunDiff(models.WorkflowRunDiff{
		WorkflowRunID: run.ID,
		Fields:        models.AppendField("tasks", task.ID),
	})
	if err != nil {
		return err
	}

	o.publish(ctx, run.ID, events.TaskCreated{
		BaseEvent:    o.baseEvent(events.TaskCreatedEvent, run.ID),
		TaskID:       task.ID,
		NodeID:       node.ID,
		IsMaster:     task.IsMaster,
		MasterTaskID: task.MasterTaskID,
		MatrixValues: task.MatrixValues,
	})

	return nil
}

func (o *Orchestrator) finishTask(ctx context.Context, run *models.WorkflowRun, node *models.Node, taskID string, terminal models.TaskStatus, errorMessage string) error {
	fields := map[string]models.FieldDiff{
		"status":   {Operation: models.DiffOperationUpdate, Value: terminal},
		"ended_at": {Operation: models.DiffOperationUpdate, Value: time.Now().UTC()},
	}

	if errorMessage != "" {
		fields["error"] = models.FieldDiff{Operation: models.DiffOperationUpdate, Value: errorMessage}
	}

	err := o.store.ApplyTaskDiff(models.TaskDiff{TaskID: taskID, Fields: fields})
	if err != nil {
		return err
	}

	o.publishTaskFinished(ctx, run, node, taskID, terminal)

	return nil
}

func (o *Orchestrator) finishRun(run *models.WorkflowRun, terminal models.WorkflowStatus, runErr error) error {
	fields := map[string]models.FieldDiff{
		"status":   {Operation: models.DiffOperationUpdate, Value: terminal},
		"ended_at": {Operation: models.DiffOperationUpdate, Value: time.Now().UTC()},
	}

	if runErr != nil {
		fields["error"] = models.FieldDiff{Operation: models.DiffOperationUpdate, Value: runErr.Error()}
	}

	err := o.store.ApplyRunDiff(models.WorkflowRunDiff{WorkflowRunID: run.ID, Fields: fields})
	if err != nil {
		return err
	}

	errorMessage := ""
	if runErr != nil {
		errorMessage = runErr.Error()
	}

	o.publish(context.Background(), run.ID, events.RunFinished{
		BaseEvent: o.baseEvent(events.RunFinishedEvent, run.ID),
		Status:    terminal,
		Error:     errorMessage,
		Duration:  time.Since(run.StartedAt),
	})

	return nil
}

func (o *Orchestrator) publishTaskFinished(ctx context.Context, run *models.WorkflowRun, node *models.Node, taskID string, terminal models.TaskStatus) {
	record, err := o.store.Task(taskID)
	if err != nil {
		return
	}

	durationMs := int64(0)
	if record.StartedAt != nil && record.EndedAt != nil {
		durationMs = record.EndedAt.Sub(*record.StartedAt).Milliseconds()
	}

	o.publish(ctx, run.ID, events.TaskFinished{
		BaseEvent:  o.baseEvent(events.TaskFinishedEvent, run.ID),
		TaskID:     taskID,
		NodeID:     node.ID,
		Status:     terminal,
		Error:      record.Error,
		DurationMs: durationMs,
	})
}

func (o *Orchestrator) setRunStatus(runID string, next models.WorkflowStatus) error {
	return o.store.ApplyRunDiff(models.WorkflowRunDiff{
		WorkflowRunID: runID,
		Fields:        models.UpdateField("status", next),
	})
}

func (o *Orchestrator) baseEvent(eventType events.EventType, runID string) events.BaseEvent {
	return events.BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		WorkflowRunID: runID,
		WorkerID:      o.workerID,
	}
}

func (o *Orchestrator) publish(ctx context.Context, runID string, event eventbus.Event) {
	if o.bus == nil {
		return
	}

	err := o.bus.Publish(ctx, runID, event)
	if err != nil {
		o.logger.Warn("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (o *Orchestrator) nodeByID(run *models.WorkflowRun, nodeID string) *models.Node {
	for _, node := range run.Workflow.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

func (o *Orchestrator) register(runID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.cancels[runID] = cancel
}

func (o *Orchestrator) unregister(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.cancels, runID)
}
