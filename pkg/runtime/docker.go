package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/flowmod/flowmod/pkg/models"
)

// DockerAdapter runs commands inside short-lived docker containers. The
// task's working directory is bind-mounted into the container so file
// transforms land on the host tree.
type DockerAdapter struct {
	logger *slog.Logger

	once    sync.Once
	client  client.APIClient
	initErr error
}

// NewDockerAdapter creates the docker adapter. The daemon connection is
// established on first use.
func NewDockerAdapter(logger *slog.Logger) *DockerAdapter {
	return &DockerAdapter{logger: logger.With("module", "runtime", "runtime_type", "docker")}
}

// Type implements Adapter.
func (a *DockerAdapter) Type() models.RuntimeType {
	return models.RuntimeTypeDocker
}

func (a *DockerAdapter) apiClient() (client.APIClient, error) {
	a.once.Do(func() {
		a.client, a.initErr = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	})

	if a.initErr != nil {
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", a.initErr)
	}

	return a.client, nil
}

// Execute creates a container from the runtime's image, runs the command
// through the shell and waits for completion. Context cancellation kills the
// container.
func (a *DockerAdapter) Execute(ctx context.Context, spec CommandSpec, rt *models.Runtime) (*Result, error) {
	api, err := a.apiClient()
	if err != nil {
		return nil, err
	}

	workingDir := containerWorkingDir(spec, rt)

	config := &container.Config{
		Image:      rt.Image,
		Cmd:        []string{"sh", "-c", spec.Command},
		Env:        envList(spec.Env),
		WorkingDir: workingDir,
		User:       rt.User,
	}

	hostConfig := &container.HostConfig{}

	if workingDir != "" {
		hostConfig.Binds = []string{workingDir + ":" + workingDir}
	}

	if rt.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(rt.Network)
	}

	if err := applyContainerOptions(hostConfig, rt.Options); err != nil {
		return nil, fmt.Errorf("runtime options: %w", err)
	}

	created, err := api.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container from image %s: %w", rt.Image, err)
	}

	defer func() {
		removeErr := api.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		if removeErr != nil {
			a.logger.Warn("Failed to remove container", "container_id", created.ID, "error", removeErr)
		}
	}()

	if err := api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", created.ID, err)
	}

	a.logger.Debug("Container started", "container_id", created.ID, "image", rt.Image)

	statusCh, errCh := api.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)

	var exitCode int

	select {
	case <-ctx.Done():
		killErr := api.ContainerKill(context.Background(), created.ID, "SIGKILL")
		if killErr != nil {
			a.logger.Warn("Failed to kill container", "container_id", created.ID, "error", killErr)
		}

		return nil, fmt.Errorf("container execution canceled: %w", ctx.Err())
	case waitErr := <-errCh:
		return nil, fmt.Errorf("failed to wait for container %s: %w", created.ID, waitErr)
	case waitStatus := <-statusCh:
		exitCode = int(waitStatus.StatusCode)
	}

	stdout, stderr, err := a.collectLogs(ctx, api, created.ID)
	if err != nil {
		return nil, err
	}

	return &Result{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

func (a *DockerAdapter) collectLogs(ctx context.Context, api client.APIClient, containerID string) (string, string, error) {
	logs, err := api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr strings.Builder

	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}

	return stdout.String(), stderr.String(), nil
}

// applyContainerOptions maps CLI-style runtime options onto the container's
// host config. Podman passes options straight through to its command line;
// the docker API has no such escape hatch, so anything outside the supported
// set is rejected rather than silently dropped.
func applyContainerOptions(hostConfig *container.HostConfig, options []string) error {
	for i := 0; i < len(options); i++ {
		flag := options[i]
		value := ""
		hasValue := false

		if eq := strings.IndexByte(flag, '='); eq >= 0 {
			flag, value = flag[:eq], flag[eq+1:]
			hasValue = true
		}

		takeValue := func() (string, error) {
			if hasValue {
				return value, nil
			}

			if i+1 >= len(options) {
				return "", fmt.Errorf("option %q requires a value", flag)
			}

			i++

			return options[i], nil
		}

		switch flag {
		case "--privileged":
			hostConfig.Privileged = true
		case "--read-only":
			hostConfig.ReadonlyRootfs = true
		case "--cap-add":
			v, err := takeValue()
			if err != nil {
				return err
			}

			hostConfig.CapAdd = append(hostConfig.CapAdd, v)
		case "--cap-drop":
			v, err := takeValue()
			if err != nil {
				return err
			}

			hostConfig.CapDrop = append(hostConfig.CapDrop, v)
		case "-v", "--volume":
			v, err := takeValue()
			if err != nil {
				return err
			}

			hostConfig.Binds = append(hostConfig.Binds, v)
		case "--pid":
			v, err := takeValue()
			if err != nil {
				return err
			}

			hostConfig.PidMode = container.PidMode(v)
		case "--ipc":
			v, err := takeValue()
			if err != nil {
				return err
			}

			hostConfig.IpcMode = container.IpcMode(v)
		default:
			return fmt.Errorf("unsupported container option %q", options[i])
		}
	}

	return nil
}

func containerWorkingDir(spec CommandSpec, rt *models.Runtime) string {
	if spec.WorkingDir != "" {
		return spec.WorkingDir
	}

	return rt.WorkingDir
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))

	for key, value := range env {
		out = append(out, key+"="+value)
	}

	return out
}
