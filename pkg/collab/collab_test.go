package collab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmod/flowmod/pkg/models"
	"github.com/flowmod/flowmod/pkg/protocol"
	"github.com/flowmod/flowmod/pkg/runtime"
	"github.com/flowmod/flowmod/pkg/testutil"
)

// stubAdapter records the spec it receives and returns a canned result.
type stubAdapter struct {
	lastSpec runtime.CommandSpec
	result   runtime.Result
}

func (s *stubAdapter) Type() models.RuntimeType {
	return models.RuntimeTypeDirect
}

func (s *stubAdapter) Execute(_ context.Context, spec runtime.CommandSpec, _ *models.Runtime) (*runtime.Result, error) {
	s.lastSpec = spec
	result := s.result

	return &result, nil
}

func stubRegistry(t *testing.T, result runtime.Result) (*runtime.Registry, *stubAdapter) {
	t.Helper()

	stub := &stubAdapter{result: result}
	registry := runtime.NewRegistry(testutil.Logger())
	registry.Register(stub)

	return registry, stub
}

func TestAstGrep_Transform(t *testing.T) {
	registry, stub := stubRegistry(t, runtime.Result{ExitCode: 0, Stdout: "2 files rewritten"})
	collaborator := NewAstGrep(testutil.Logger(), registry)

	res, err := collaborator.Transform(context.Background(), protocol.SearchTransformRequest{
		ConfigFile: "rules/sgconfig.yml",
		Include:    []string{"src/**/*.ts"},
		Exclude:    []string{"**/*.test.ts"},
		BasePath:   "/repo",
		MaxThreads: 4,
	})
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, "2 files rewritten", res.Stdout)
	assert.Equal(t, "/repo", stub.lastSpec.WorkingDir)
	assert.Equal(t,
		"ast-grep scan --config 'rules/sgconfig.yml' --update-all --globs 'src/**/*.ts' --globs '!**/*.test.ts' --threads 4 .",
		stub.lastSpec.Command)
}

func TestAstGrep_Transform_DryRunOmitsUpdateAll(t *testing.T) {
	registry, stub := stubRegistry(t, runtime.Result{})
	collaborator := NewAstGrep(testutil.Logger(), registry)

	_, err := collaborator.Transform(context.Background(), protocol.SearchTransformRequest{
		ConfigFile: "rules.yml",
		DryRun:     true,
	})
	require.NoError(t, err)

	assert.NotContains(t, stub.lastSpec.Command, "--update-all")
}

func TestAstGrep_Transform_JSRuleModule(t *testing.T) {
	registry, stub := stubRegistry(t, runtime.Result{})
	collaborator := NewAstGrep(testutil.Logger(), registry)

	_, err := collaborator.Transform(context.Background(), protocol.SearchTransformRequest{
		JSFile:   "rules/rename.js",
		Language: "typescript",
		DryRun:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, "node 'rules/rename.js' --lang 'typescript' --dry-run .", stub.lastSpec.Command)
}

func TestAstGrep_Transform_RequiresRuleSource(t *testing.T) {
	registry, _ := stubRegistry(t, runtime.Result{})
	collaborator := NewAstGrep(testutil.Logger(), registry)

	_, err := collaborator.Transform(context.Background(), protocol.SearchTransformRequest{})
	require.ErrorIs(t, err, ErrNoRuleSource)
}

func TestCodemod_Run(t *testing.T) {
	registry, stub := stubRegistry(t, runtime.Result{ExitCode: 2, Stderr: "parse error"})
	collaborator := NewCodemod(testutil.Logger(), registry)

	res, err := collaborator.Run(context.Background(), protocol.CodemodRequest{
		Source:     "react/19/migration-recipe",
		Args:       []string{"--target", "src"},
		WorkingDir: "/repo",
		Env:        map[string]string{"NODE_ENV": "production"},
	})
	require.NoError(t, err)

	assert.False(t, res.Success())
	assert.Equal(t, "parse error", res.Stderr)
	assert.Equal(t, "codemod run 'react/19/migration-recipe' '--target' 'src'", stub.lastSpec.Command)
	assert.Equal(t, "production", stub.lastSpec.Env["NODE_ENV"])
}

func TestCodemod_Run_RequiresSource(t *testing.T) {
	registry, _ := stubRegistry(t, runtime.Result{})
	collaborator := NewCodemod(testutil.Logger(), registry)

	_, err := collaborator.Run(context.Background(), protocol.CodemodRequest{})
	require.ErrorIs(t, err, ErrNoCodemodSource)
}

func TestHTTPAgent_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"exit_code":0,"logs":["reading files","done"],"output":{"files_changed":3}}`))
	}))
	defer server.Close()

	agent := NewHTTPAgent(testutil.Logger())

	res, err := agent.Complete(context.Background(), protocol.AgentRequest{
		Prompt:   "migrate the config loader",
		Model:    "large",
		Endpoint: server.URL,
		APIKey:   "secret",
	})
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, "reading files\ndone", res.Stdout)
	assert.Equal(t, float64(3), res.Output["files_changed"])
}

func TestHTTPAgent_Complete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	agent := NewHTTPAgent(testutil.Logger())

	_, err := agent.Complete(context.Background(), protocol.AgentRequest{
		Prompt:    "slow session",
		Endpoint:  server.URL,
		TimeoutMS: 50,
	})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
}

func TestHTTPAgent_Complete_ServiceErrorIsFailureNotCrash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	agent := NewHTTPAgent(testutil.Logger())

	res, err := agent.Complete(context.Background(), protocol.AgentRequest{
		Prompt:   "anything",
		Endpoint: server.URL,
	})
	require.NoError(t, err)

	assert.False(t, res.Success())
	assert.Contains(t, res.Stderr, "503")
}

func TestHTTPAgent_Complete_Validation(t *testing.T) {
	agent := NewHTTPAgent(testutil.Logger())

	_, err := agent.Complete(context.Background(), protocol.AgentRequest{Endpoint: "http://localhost"})
	require.ErrorIs(t, err, ErrNoPrompt)

	_, err = agent.Complete(context.Background(), protocol.AgentRequest{Prompt: "hi"})
	require.ErrorIs(t, err, ErrNoEndpoint)
}
