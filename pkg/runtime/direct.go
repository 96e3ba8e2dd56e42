package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/flowmod/flowmod/pkg/models"
)

// forcedKillDelay bounds how long a canceled command may linger after SIGTERM
// before it is killed outright.
const forcedKillDelay = 10 * time.Second

// DirectAdapter spawns commands as host processes.
type DirectAdapter struct {
	logger *slog.Logger
}

// NewDirectAdapter creates the host-process adapter.
func NewDirectAdapter(logger *slog.Logger) *DirectAdapter {
	return &DirectAdapter{logger: logger.With("module", "runtime", "runtime_type", "direct")}
}

// Type implements Adapter.
func (a *DirectAdapter) Type() models.RuntimeType {
	return models.RuntimeTypeDirect
}

// Execute runs the command through the shell, inheriting the host environment
// with the spec's env merged on top. Context cancellation sends SIGTERM and
// escalates to SIGKILL after the forced kill delay.
func (a *DirectAdapter) Execute(ctx context.Context, spec CommandSpec, rt *models.Runtime) (*Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Command)
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	workingDir := spec.WorkingDir
	if workingDir == "" && rt != nil {
		workingDir = rt.WorkingDir
	}

	cmd.Dir = workingDir

	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = forcedKillDelay

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	a.logger.Debug("Executing command", "command", spec.Command, "working_dir", workingDir)

	err := cmd.Run()

	result := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is a result, not an invocation failure.
			return result, nil
		}

		if ctx.Err() != nil {
			return result, fmt.Errorf("command terminated: %w", ctx.Err())
		}

		return nil, fmt.Errorf("failed to spawn command: %w", err)
	}

	return result, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	merged := append([]string(nil), base...)

	for key, value := range extra {
		merged = append(merged, key+"="+value)
	}

	return merged
}
