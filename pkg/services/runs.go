package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/orchestrator"
	"github.com/flowmod/flowmod/pkg/otelhelper"
	"github.com/flowmod/flowmod/pkg/persistence"
	"github.com/flowmod/flowmod/pkg/state"
)

// ErrInvalidParams is returned when submitted params fail the workflow's
// params schema.
var ErrInvalidParams = errors.New("invalid params")

// Runs drives workflow runs submitted over the API. Live runs stay in the
// state store; once a run reaches a terminal status it is archived to the
// run repository and dropped from the live set.
type Runs struct {
	logger       *slog.Logger
	store        *state.Store
	orchestrator *orchestrator.Orchestrator
	persistence  persistence.Persistence
	tracer       trace.Tracer

	wg   sync.WaitGroup
	mu   sync.Mutex
	live map[string]struct{}
}

// NewRuns creates a new run service. The persistence layer may be nil, in
// which case finished runs are kept in the state store only.
func NewRuns(
	logger *slog.Logger,
	store *state.Store,
	orch *orchestrator.Orchestrator,
	persistence persistence.Persistence,
) *Runs {
	return &Runs{
		logger:       logger.With("module", "runs"),
		store:        store,
		orchestrator: orch,
		persistence:  persistence,
		tracer:       otel.Tracer("flowmod/runs"),
		live:         make(map[string]struct{}),
	}
}

// Submit validates params against the workflow's schema, creates a pending
// run and drives it in the background. The returned run carries the id the
// caller polls with.
func (r *Runs) Submit(ctx context.Context, workflow *models.Workflow, params map[string]any) (*models.WorkflowRun, error) {
	params = workflow.Params.ApplyDefaults(params)

	err := workflow.Params.Check(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	run := &models.WorkflowRun{
		ID:        "run-" + uuid.New().String()[:8],
		Workflow:  workflow,
		Status:    models.WorkflowStatusPending,
		Params:    params,
		State:     map[string]any{},
		StartedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.live[run.ID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)

	go r.drive(run)

	return run, nil
}

// Get returns a run and its tasks, checking the live state store first and
// falling back to the archive.
func (r *Runs) Get(ctx context.Context, id string) (*models.WorkflowRun, []*models.Task, error) {
	run, err := r.store.Run(id)
	if err == nil {
		return run, r.store.TasksByRun(id), nil
	}

	if !errors.Is(err, state.ErrRunNotFound) {
		return nil, nil, err
	}

	if r.persistence == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	record, err := r.persistence.RunRepository().ByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return record.Run, record.Tasks, nil
}

// All lists live runs followed by archived runs.
func (r *Runs) All(ctx context.Context) ([]*models.WorkflowRun, error) {
	r.mu.Lock()

	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}

	r.mu.Unlock()

	runs := make([]*models.WorkflowRun, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		run, err := r.store.Run(id)
		if err != nil {
			// A run submitted but not yet registered by the orchestrator.
			continue
		}

		runs = append(runs, run)
		seen[id] = struct{}{}
	}

	if r.persistence == nil {
		return runs, nil
	}

	archived, err := r.persistence.RunRepository().All(ctx)
	if err != nil {
		return nil, err
	}

	for _, record := range archived {
		if _, ok := seen[record.Run.ID]; ok {
			continue
		}

		runs = append(runs, record.Run)
	}

	return runs, nil
}

// Cancel stops a live run.
func (r *Runs) Cancel(id string) error {
	return r.orchestrator.Cancel(id)
}

// Approve releases a run suspended on a manual node.
func (r *Runs) Approve(id, approvedBy string) error {
	return r.orchestrator.Approve(id, approvedBy)
}

// Wait blocks until every submitted run has finished. Used on shutdown.
func (r *Runs) Wait() {
	r.wg.Wait()
}

func (r *Runs) drive(run *models.WorkflowRun) {
	defer r.wg.Done()

	logger := r.logger.With("workflow_run_id", run.ID, "workflow", run.Workflow.Name)

	ctx, span := otelhelper.StartSpan(context.Background(), r.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowNameKey, run.Workflow.Name),
		attribute.String(otelhelper.RunIDKey, run.ID),
	)
	defer span.End()

	final, err := r.orchestrator.Run(ctx, run)
	if err != nil {
		logger.Error("workflow run failed", "error", err)
		otelhelper.RecordFailure(span, err, attribute.String(otelhelper.RunIDKey, run.ID))
	}

	if final.IsTerminal() {
		r.archive(run.ID)
	}

	r.mu.Lock()
	delete(r.live, run.ID)
	r.mu.Unlock()
}

func (r *Runs) archive(id string) {
	if r.persistence == nil {
		return
	}

	run, err := r.store.Run(id)
	if err != nil {
		// The run failed structural validation before it was registered.
		return
	}

	record := &persistence.ArchivedRun{
		Run:   run,
		Tasks: r.store.TasksByRun(id),
	}

	err = r.persistence.RunRepository().Archive(context.Background(), record)
	if err != nil {
		r.logger.Error("failed to archive run", "workflow_run_id", id, "error", err)
	}
}
