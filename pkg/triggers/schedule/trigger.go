// Package schedule provides the cron trigger that submits workflow runs
// on a recurring schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmod/flowmod/pkg/protocol"
)

// Trigger submits a run of one workflow every time its cron expression
// fires.
type Trigger struct {
	Workflow string
	CronExpr string
	Params   map[string]any
	Enabled  bool

	cron     *cron.Cron
	callback protocol.TriggerCallback
	logger   *slog.Logger
}

// NewTrigger creates a schedule trigger from configuration.
func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	workflow, _ := config["workflow"].(string)
	cronExpr, _ := config["cron"].(string)
	params, _ := config["params"].(map[string]any)

	trigger := &Trigger{
		Workflow: workflow,
		CronExpr: cronExpr,
		Params:   params,
		Enabled:  true,
		logger: logger.With(
			"module", "schedule_trigger",
			"workflow", workflow,
			"cron", cronExpr,
		),
	}

	err := trigger.Validate()
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.Workflow == "" {
		return errors.New("schedule trigger workflow name is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	_, err := parser.Parse(t.CronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, err)
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "ScheduleTrigger is disabled.")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting ScheduleTrigger")
	t.callback = callback

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := t.cron.AddFunc(t.CronExpr, t.run)
	if err != nil {
		return fmt.Errorf("failed to add cron job for workflow %s: %w", t.Workflow, err)
	}

	t.logger.InfoContext(ctx, "Added cron job", "entry_id", id)
	t.cron.Start()

	return nil
}

func (t *Trigger) run() {
	t.logger.Info("Schedule fired")

	data := map[string]any{
		"workflow":  t.Workflow,
		"params":    t.Params,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	go func() {
		err := t.callback(context.Background(), data)
		if err != nil {
			t.logger.Error("Error submitting scheduled run", "error", err)
		}
	}()
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping ScheduleTrigger")

	if t.cron != nil {
		t.cron.Stop()
	}

	return nil
}
