// Package approval provides the Redis-backed approval trigger: external
// reviewers push approval messages onto a queue, and the trigger resumes
// the suspended runs they name.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/flowmod/flowmod/pkg/protocol"
)

const defaultQueue = "flowmod.approvals"

// Trigger consumes approval messages from a Redis list. Each message is
// a JSON object carrying workflow_run_id and optionally approved_by.
type Trigger struct {
	Queue      string
	Connection map[string]string
	Enabled    bool

	client   redis.UniversalClient
	callback protocol.TriggerCallback
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewTrigger creates an approval trigger from configuration.
func NewTrigger(ctx context.Context, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	queue, _ := config["queue"].(string)
	if queue == "" {
		queue = defaultQueue
	}

	connectionConfig, _ := config["connection"].(map[string]any)

	connection := make(map[string]string)
	for k, v := range connectionConfig {
		if str, ok := v.(string); ok {
			connection[k] = str
		}
	}

	trigger := &Trigger{
		Queue:      queue,
		Connection: connection,
		Enabled:    true,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "approval_trigger",
			"queue", queue,
		),
	}

	err := trigger.Validate()
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.Queue == "" {
		return errors.New("approval trigger queue name is required")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "ApprovalTrigger is disabled.")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting ApprovalTrigger")
	t.callback = callback

	err := t.initializeClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize approval client: %w", err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) initializeClient(ctx context.Context) error {
	addr := t.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	password := t.Connection["password"]
	db := 0

	if dbStr := t.Connection["db"]; dbStr != "" {
		var err error
		if db, err = t.parseDB(dbStr); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := t.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return nil
}

func (t *Trigger) parseDB(dbStr string) (int, error) {
	var db int

	_, err := fmt.Sscanf(dbStr, "%d", &db)

	return db, err
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	t.logger.InfoContext(ctx, "Starting approval consumer", "queue", t.Queue)

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "Approval consumer stopped")

			return
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Context cancelled, stopping approval consumer")

			return
		default:
			err := t.processMessage(ctx)
			if err != nil {
				t.logger.ErrorContext(ctx, "Error processing approval", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, 1*time.Second, t.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop approval from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	var data map[string]any

	err = json.Unmarshal([]byte(message), &data)
	if err != nil {
		return fmt.Errorf("malformed approval message %q: %w", message, err)
	}

	runID, _ := data["workflow_run_id"].(string)
	if runID == "" {
		return fmt.Errorf("approval message missing workflow_run_id: %q", message)
	}

	t.logger.InfoContext(ctx, "Received approval", "workflow_run_id", runID)

	go func() {
		err := t.callback(ctx, data)
		if err != nil {
			t.logger.ErrorContext(ctx, "Error resuming run for approval", "error", err)
		}
	}()

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping ApprovalTrigger")

	close(t.stopCh)
	t.wg.Wait()

	if t.client != nil {
		err := t.client.Close()
		if err != nil {
			t.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
