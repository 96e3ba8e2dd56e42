package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmod/flowmod/pkg/graph"
	"github.com/flowmod/flowmod/pkg/models"
)

const sampleWorkflow = `
version: "1"
name: react-upgrade
params:
  schema:
    - name: target
      type: string
      required: true
state:
  schema:
    - name: repos
      type: array
      default: []
templates:
  - id: announce
    inputs:
      - name: subject
        required: true
    steps:
      - name: say
        run: echo {{.inputs.subject}}
    outputs:
      - name: said
        value: "{{.outputs.say}}"
nodes:
  - id: discover
    steps:
      - name: list
        run: echo listing
  - id: migrate
    depends_on: [discover]
    strategy:
      type: matrix
      from_state: repos
    runtime:
      type: docker
      image: node:22
      working_dir: /repo
    steps:
      - name: rules
        ast-grep:
          config_file: rules/sgconfig.yml
          base_path: /repo
  - id: review
    type: manual
    depends_on: [migrate]
    trigger:
      type: manual
    steps:
      - name: done
        use:
          template: announce
          inputs:
            subject: reviewed
`

func TestParse_FullWorkflow(t *testing.T) {
	workflow, err := Parse([]byte(sampleWorkflow), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "1", workflow.Version)
	assert.Equal(t, "react-upgrade", workflow.Name)
	require.Len(t, workflow.Nodes, 3)
	require.Len(t, workflow.Templates, 1)

	migrate := workflow.Nodes[1]
	assert.Equal(t, []string{"discover"}, migrate.DependsOn)
	require.NotNil(t, migrate.Strategy)
	assert.Equal(t, "repos", migrate.Strategy.FromState)
	require.NotNil(t, migrate.Runtime)
	assert.Equal(t, models.RuntimeTypeDocker, migrate.Runtime.Type)
	assert.Equal(t, models.StepKindAstGrep, migrate.Steps[0].Kind())

	review := workflow.Nodes[2]
	assert.True(t, review.IsManual())
	assert.Equal(t, models.StepKindUse, review.Steps[0].Kind())

	require.NotNil(t, workflow.Params)
	assert.Equal(t, "target", workflow.Params.Schema[0].Name)
}

func TestParse_ScalarRunForm(t *testing.T) {
	workflow, err := Parse([]byte(`
version: "1"
nodes:
  - id: only
    steps:
      - name: short
        run: echo hi
`), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "echo hi", workflow.Nodes[0].Steps[0].Run.Command)
}

func TestParse_JSON(t *testing.T) {
	workflow, err := Parse([]byte(`{
		"version": "1",
		"nodes": [
			{"id": "only", "steps": [{"name": "short", "run": "echo hi"}]}
		]
	}`), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "echo hi", workflow.Nodes[0].Steps[0].Run.Command)
}

func TestParse_MissingVersionRejected(t *testing.T) {
	_, err := Parse([]byte(`
nodes:
  - id: only
    steps:
      - run: echo hi
`), FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestParse_CycleRejected(t *testing.T) {
	_, err := Parse([]byte(`
version: "1"
nodes:
  - id: a
    depends_on: [b]
    steps:
      - run: "true"
  - id: b
    depends_on: [a]
    steps:
      - run: "true"
`), FormatYAML)
	require.Error(t, err)

	var cycleErr *graph.CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestParse_TwoVariantsInOneStepRejected(t *testing.T) {
	_, err := Parse([]byte(`
version: "1"
nodes:
  - id: a
    steps:
      - name: both
        run: echo hi
        codemod:
          source: react/19
`), FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestParse_UnknownDependencyRejected(t *testing.T) {
	_, err := Parse([]byte(`
version: "1"
nodes:
  - id: a
    depends_on: [ghost]
    steps:
      - run: "true"
`), FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestLoad_ByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkflow), 0o600))

	workflow, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "react-upgrade", workflow.Name)

	_, err = Load(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
}
