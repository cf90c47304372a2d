package tools

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This is a capability mismatch, not a
// transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

var (
	// ErrConfirmationNotFound means no pending confirmation matches the
	// tool id and session.
	ErrConfirmationNotFound = errors.New("no pending tool confirmation")

	// ErrNoConfirmationChannel means the request cannot surface a
	// confirmation prompt to the user.
	ErrNoConfirmationChannel = errors.New("tool confirmation needs an event stream")

	// ErrConfirmationTimeout means the user did not answer in time.
	ErrConfirmationTimeout = errors.New("tool confirmation timed out")
)
