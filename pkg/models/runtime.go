package models

import "fmt"

// RuntimeType selects the execution environment for a node's steps.
type RuntimeType string

const (
	RuntimeTypeDirect RuntimeType = "direct"
	RuntimeTypeDocker RuntimeType = "docker"
	RuntimeTypePodman RuntimeType = "podman"
)

// Runtime describes the execution environment a task's steps run inside.
type Runtime struct {
	Type       RuntimeType `json:"type"                  yaml:"type"                  validate:"required,oneof=direct docker podman"`
	Image      string      `json:"image,omitempty"       yaml:"image,omitempty"`
	WorkingDir string      `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	User       string      `json:"user,omitempty"        yaml:"user,omitempty"`
	Network    string      `json:"network,omitempty"     yaml:"network,omitempty"`
	Options    []string    `json:"options,omitempty"     yaml:"options,omitempty"`
}

// DirectRuntime is the default environment when a node declares none.
func DirectRuntime() *Runtime {
	return &Runtime{Type: RuntimeTypeDirect}
}

// Validate enforces the image requirement for containerized runtimes.
func (r *Runtime) Validate() error {
	if r.Type != RuntimeTypeDirect && r.Image == "" {
		return fmt.Errorf("runtime type %q requires an image", r.Type)
	}

	return nil
}
