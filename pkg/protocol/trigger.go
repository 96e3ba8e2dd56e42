package protocol

import (
	"context"
	"log/slog"
)

// TriggerCallback is called when a trigger fires. For approval triggers
// data carries the approval payload; for schedule triggers it carries
// the scheduled run parameters.
type TriggerCallback func(ctx context.Context, data map[string]any) error

// Trigger is a long-running process that resumes suspended runs or
// starts scheduled ones.
type Trigger interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
	Validate() error
}

// TriggerFactory creates trigger instances from configuration.
type TriggerFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Trigger, error)
	ID() string
}
