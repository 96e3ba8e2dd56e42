package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowmod/flowmod/pkg/protocol"
)

const defaultAgentTimeout = 10 * time.Minute

// HTTPAgent implements protocol.Agent against an agent service that
// accepts a session request over HTTP and drives it to completion
// before responding.
type HTTPAgent struct {
	logger *slog.Logger
	client *http.Client
}

// NewHTTPAgent creates the default AI agent collaborator. The per-call
// deadline comes from each request's TimeoutMS, so the shared client
// itself carries no timeout.
func NewHTTPAgent(logger *slog.Logger) *HTTPAgent {
	return &HTTPAgent{
		logger: logger.With("module", "collab.agent"),
		client: &http.Client{},
	}
}

type agentPayload struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	MaxSteps     int      `json:"max_steps,omitempty"`
}

type agentResponse struct {
	ExitCode int            `json:"exit_code"`
	Logs     []string       `json:"logs"`
	Output   map[string]any `json:"output"`
}

// Complete runs one agent session. Exceeding the configured timeout
// returns a TimeoutError so callers can fail the step rather than
// crash.
func (a *HTTPAgent) Complete(ctx context.Context, req protocol.AgentRequest) (*protocol.CollaboratorResult, error) {
	if req.Prompt == "" {
		return nil, ErrNoPrompt
	}

	if req.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	timeout := defaultAgentTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(agentPayload{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		Tools:        req.Tools,
		MaxSteps:     req.MaxSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create agent request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	a.logger.InfoContext(ctx, "Starting agent session",
		"model", req.Model,
		"max_steps", req.MaxSteps,
		"timeout", timeout)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Model: req.Model, Timeout: timeout}
		}

		return nil, fmt.Errorf("agent request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &protocol.CollaboratorResult{
			ExitCode: 1,
			Stderr:   fmt.Sprintf("agent service returned status %d: %s", resp.StatusCode, respBody),
		}, nil
	}

	var parsed agentResponse

	err = json.Unmarshal(respBody, &parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to parse agent response: %w", err)
	}

	return &protocol.CollaboratorResult{
		ExitCode: parsed.ExitCode,
		Stdout:   strings.Join(parsed.Logs, "\n"),
		Output:   parsed.Output,
	}, nil
}
