// Package tools defines the tools available to the chat agent and the
// registry that executes them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	// RequiresConfirmation holds each call until the user approves it
	// through the registry's Gate.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`

	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	gate   *Gate
	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil gate declines every
// tool that requires confirmation.
func NewRegistry(gate *Gate, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		gate:   gate,
		logger: logger,
	}
}

// Register adds a tool to the registry, replacing any tool of the same
// name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Gate returns the confirmation gate, which may be nil.
func (r *Registry) Gate() *Gate {
	return r.gate
}

// List returns all tools in OpenAI function format, sorted by name.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.Get(name)
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with JSON arguments. Start and completion
// are reported to the context's event sink. Tools that require
// confirmation wait on the gate first; a declined call returns a
// message for the model rather than an error.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.Get(name)
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	call := Event{
		Kind:      EventToolStarted,
		CallID:    uuid.NewString(),
		ToolName:  name,
		Arguments: args,
	}
	emit(ctx, call)

	if tool.RequiresConfirmation {
		if msg, ok := r.confirm(ctx, name, args); !ok {
			call.Kind = EventToolCompleted
			call.Result = msg
			emit(ctx, call)
			return msg, nil
		}
	}

	start := time.Now()
	result, err := tool.Handler(ctx, args)
	r.logger.Debug("tool executed",
		"tool", name,
		"session_id", SessionIDFromContext(ctx),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"error", err,
	)

	call.Kind = EventToolCompleted
	call.Result = result
	if err != nil {
		call.Error = err.Error()
	}
	emit(ctx, call)
	return result, err
}

// confirm waits for the user's decision. It returns a message for the
// model and false when the call must not run.
func (r *Registry) confirm(ctx context.Context, name string, args map[string]any) (string, bool) {
	if r.gate == nil {
		return fmt.Sprintf("Tool %s requires user confirmation, which is not available.", name), false
	}
	ok, err := r.gate.Await(ctx, SessionIDFromContext(ctx), name, args)
	switch {
	case errors.Is(err, ErrNoConfirmationChannel):
		return fmt.Sprintf("Tool %s requires user confirmation, which is only possible in a streaming chat.", name), false
	case errors.Is(err, ErrConfirmationTimeout):
		return fmt.Sprintf("The user did not confirm %s in time. Do not retry it unless asked.", name), false
	case err != nil:
		return fmt.Sprintf("Tool %s was not confirmed: %v", name, err), false
	case !ok:
		return fmt.Sprintf("The user declined to run %s. Answer without it.", name), false
	}
	return "", true
}

// argString returns a string argument, or def when absent or empty.
func argString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// argInt returns a numeric argument as int, or def when absent.
func argInt(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

// argBool returns a boolean argument, or def when absent.
func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// marshalResult renders v as indented JSON for the model.
func marshalResult(v any) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(out), nil
}
