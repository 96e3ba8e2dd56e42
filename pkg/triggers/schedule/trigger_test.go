package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmod/flowmod/pkg/testutil"
)

func TestNewTrigger_Validation(t *testing.T) {
	_, err := NewTrigger(map[string]any{"cron": "* * * * *"}, testutil.Logger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow name")

	_, err = NewTrigger(map[string]any{"workflow": "upgrade"}, testutil.Logger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cron expression")

	_, err = NewTrigger(map[string]any{"workflow": "upgrade", "cron": "not a cron"}, testutil.Logger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestNewTrigger_Valid(t *testing.T) {
	trigger, err := NewTrigger(map[string]any{
		"workflow": "upgrade",
		"cron":     "0 3 * * 1",
		"params":   map[string]any{"target": "react-19"},
	}, testutil.Logger())
	require.NoError(t, err)

	assert.Equal(t, "upgrade", trigger.Workflow)
	assert.Equal(t, "0 3 * * 1", trigger.CronExpr)
	assert.Equal(t, "react-19", trigger.Params["target"])
}

func TestTrigger_RunInvokesCallback(t *testing.T) {
	trigger, err := NewTrigger(map[string]any{
		"workflow": "upgrade",
		"cron":     "* * * * *",
	}, testutil.Logger())
	require.NoError(t, err)

	var calls atomic.Int32

	data := make(chan map[string]any, 1)
	trigger.callback = func(_ context.Context, payload map[string]any) error {
		calls.Add(1)
		data <- payload

		return nil
	}

	trigger.run()

	select {
	case payload := <-data:
		assert.Equal(t, "upgrade", payload["workflow"])
		assert.NotEmpty(t, payload["timestamp"])
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestTrigger_StopWithoutStart(t *testing.T) {
	trigger, err := NewTrigger(map[string]any{"workflow": "w", "cron": "* * * * *"}, testutil.Logger())
	require.NoError(t, err)

	require.NoError(t, trigger.Stop(context.Background()))
}
