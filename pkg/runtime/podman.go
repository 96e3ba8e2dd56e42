package runtime

import (
	"context"
	"log/slog"

	"github.com/flowmod/flowmod/pkg/models"
)

// PodmanAdapter runs commands inside podman containers by shelling out to the
// podman CLI. Podman is daemonless, so unlike docker there is no API socket to
// assume; the CLI mirrors docker's run semantics closely enough to share the
// result contract.
type PodmanAdapter struct {
	logger *slog.Logger
	direct *DirectAdapter
	binary string
}

// NewPodmanAdapter creates the podman adapter.
func NewPodmanAdapter(logger *slog.Logger) *PodmanAdapter {
	return &PodmanAdapter{
		logger: logger.With("module", "runtime", "runtime_type", "podman"),
		direct: NewDirectAdapter(logger),
		binary: "podman",
	}
}

// Type implements Adapter.
func (a *PodmanAdapter) Type() models.RuntimeType {
	return models.RuntimeTypePodman
}

// Execute builds a `podman run` invocation mirroring the docker adapter's
// container setup and delegates to the direct adapter, which already handles
// cancellation and output capture.
func (a *PodmanAdapter) Execute(ctx context.Context, spec CommandSpec, rt *models.Runtime) (*Result, error) {
	command := buildPodmanCommand(a.binary, spec, rt)

	a.logger.Debug("Executing podman command", "command", command)

	// Env travels via --env flags, not the podman process environment.
	return a.direct.Execute(ctx, CommandSpec{Command: command}, nil)
}

func buildPodmanCommand(binary string, spec CommandSpec, rt *models.Runtime) string {
	args := []string{binary, "run", "--rm"}

	workingDir := containerWorkingDir(spec, rt)
	if workingDir != "" {
		args = append(args, "-v", shellQuote(workingDir+":"+workingDir), "-w", shellQuote(workingDir))
	}

	if rt.User != "" {
		args = append(args, "-u", shellQuote(rt.User))
	}

	if rt.Network != "" {
		args = append(args, "--network", shellQuote(rt.Network))
	}

	for key, value := range spec.Env {
		args = append(args, "--env", shellQuote(key+"="+value))
	}

	for _, option := range rt.Options {
		args = append(args, option)
	}

	args = append(args, shellQuote(rt.Image), "sh", "-c", shellQuote(spec.Command))

	command := args[0]
	for _, arg := range args[1:] {
		command += " " + arg
	}

	return command
}

func shellQuote(s string) string {
	quoted := "'"

	for _, r := range s {
		if r == '\'' {
			quoted += `'\''`

			continue
		}

		quoted += string(r)
	}

	return quoted + "'"
}
