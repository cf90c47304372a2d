package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/sagaforge/internal/terminal"
)

// Terminal is the session manager the terminal tools drive.
type Terminal interface {
	Dispatch(ctx context.Context, req terminal.DispatchRequest) (*terminal.Result, error)
	Send(ctx context.Context, id, text string, delay time.Duration) (*terminal.Result, error)
	Read(ctx context.Context, id string, delay time.Duration) (*terminal.Result, error)
	Stop(id string) (*terminal.Result, error)
}

// maxCommandTimeout caps the wait an agent may ask for.
const maxCommandTimeout = 5 * time.Minute

// CommandPolicy screens agent-issued terminal input.
type CommandPolicy struct {
	// Denied substrings, matched case-insensitively.
	Denied []string
}

// Check returns an error when command matches a denied pattern.
func (p CommandPolicy) Check(command string) error {
	lower := strings.ToLower(command)
	for _, denied := range p.Denied {
		if denied != "" && strings.Contains(lower, strings.ToLower(denied)) {
			return fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}
	return nil
}

// RegisterTerminalTools adds tools that run commands in a persistent
// shell session. Each chat session gets its own terminal session unless
// the model names one. run_command and write_terminal require
// confirmation when confirm is set.
func RegisterTerminalTools(r *Registry, term Terminal, policy CommandPolicy, confirm bool) {
	tt := &terminalTools{term: term, policy: policy}

	sessionParam := map[string]any{
		"type":        "string",
		"description": "Terminal session id. Defaults to one session per chat.",
	}

	r.Register(&Tool{
		Name: "run_command",
		Description: "Run a shell command in a persistent terminal session (state such as the working " +
			"directory and variables carries over). Waits up to timeout_sec for output unless async is set; " +
			"long-running commands should be started async and checked with read_terminal.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Command line to run. {enter}, {tab} and {backspace} send those keys.",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Short description of what the command does",
				},
				"async": map[string]any{
					"type":        "boolean",
					"description": "Return immediately without waiting for output",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Seconds to wait for output (max 300)",
				},
				"session_id": sessionParam,
			},
			"required": []string{"command"},
		},
		RequiresConfirmation: confirm,
		Handler:              tt.run,
	})

	r.Register(&Tool{
		Name:        "write_terminal",
		Description: "Send input to a running terminal session, for example an answer to a prompt, then return the output that follows.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "Input to send. A newline is added.",
				},
				"delay_ms": map[string]any{
					"type":        "integer",
					"description": "Milliseconds to wait before collecting output",
				},
				"session_id": sessionParam,
			},
			"required": []string{"text"},
		},
		RequiresConfirmation: confirm,
		Handler:              tt.send,
	})

	r.Register(&Tool{
		Name:        "read_terminal",
		Description: "Read output produced by a terminal session since the last read.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"delay_ms": map[string]any{
					"type":        "integer",
					"description": "Milliseconds to wait before collecting output",
				},
				"session_id": sessionParam,
			},
		},
		Handler: tt.read,
	})

	r.Register(&Tool{
		Name:        "stop_terminal",
		Description: "Terminate a terminal session and its process.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": sessionParam,
			},
		},
		Handler: tt.stop,
	})
}

type terminalTools struct {
	term   Terminal
	policy CommandPolicy
}

func (tt *terminalTools) sessionID(ctx context.Context, args map[string]any) string {
	return argString(args, "session_id", "chat-"+SessionIDFromContext(ctx))
}

func (tt *terminalTools) run(ctx context.Context, args map[string]any) (string, error) {
	command := argString(args, "command", "")
	if command == "" {
		return "", fmt.Errorf("command is required")
	}
	if err := tt.policy.Check(command); err != nil {
		return "", err
	}

	timeout := time.Duration(argInt(args, "timeout_sec", 0)) * time.Second
	timeout = min(timeout, maxCommandTimeout)

	res, err := tt.term.Dispatch(ctx, terminal.DispatchRequest{
		SessionID:   tt.sessionID(ctx, args),
		Command:     command,
		Description: argString(args, "description", ""),
		Async:       argBool(args, "async", false),
		Timeout:     timeout,
	})
	if err != nil {
		return "", err
	}
	return marshalResult(res)
}

func (tt *terminalTools) send(ctx context.Context, args map[string]any) (string, error) {
	text, ok := args["text"].(string)
	if !ok {
		return "", fmt.Errorf("text is required")
	}
	if err := tt.policy.Check(text); err != nil {
		return "", err
	}
	delay := time.Duration(argInt(args, "delay_ms", 0)) * time.Millisecond

	res, err := tt.term.Send(ctx, tt.sessionID(ctx, args), text, delay)
	if err != nil {
		return "", err
	}
	return marshalResult(res)
}

func (tt *terminalTools) read(ctx context.Context, args map[string]any) (string, error) {
	delay := time.Duration(argInt(args, "delay_ms", 0)) * time.Millisecond
	res, err := tt.term.Read(ctx, tt.sessionID(ctx, args), delay)
	if err != nil {
		return "", err
	}
	return marshalResult(res)
}

func (tt *terminalTools) stop(ctx context.Context, args map[string]any) (string, error) {
	res, err := tt.term.Stop(tt.sessionID(ctx, args))
	if err != nil {
		return "", err
	}
	return marshalResult(res)
}
