// Package collab provides the default collaborator implementations the
// task executor delegates structural search, codemod execution and AI
// agent sessions to.
package collab

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoRuleSource is returned when a search-transform request names
	// neither a config file nor a JS rule module.
	ErrNoRuleSource = errors.New("search-transform request requires a config file or a js rule module")
	// ErrNoCodemodSource is returned when a codemod request has no source.
	ErrNoCodemodSource = errors.New("codemod request requires a source")
	// ErrNoPrompt is returned when an agent request has no prompt.
	ErrNoPrompt = errors.New("agent request requires a prompt")
	// ErrNoEndpoint is returned when an agent request has no endpoint.
	ErrNoEndpoint = errors.New("agent request requires an endpoint")
)

// TimeoutError reports that an agent session exceeded its configured
// deadline. Callers treat it as a step failure, not a crash.
type TimeoutError struct {
	Model   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent session (model %q) exceeded %s", e.Model, e.Timeout)
}

// IsTimeout reports whether err is an agent timeout.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError

	return errors.As(err, &timeoutErr)
}
