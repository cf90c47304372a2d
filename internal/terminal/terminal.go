// Package terminal runs persistent interactive shell sessions keyed by an
// opaque session id.
//
// Each session owns one child process whose stdout and stderr are merged
// into a single ordered queue of lines. A producer goroutine fills the
// queue and a consumer goroutine feeds queued input to the process, so
// callers never block on the child directly. Reads are bounded waits:
// they return whatever output arrived within a time budget, or earlier
// once output has arrived and then stopped for a quiet period.
//
// There is no correlation between a command and the output returned for
// it. Output still being produced by an earlier command appears in the
// next read. Callers that need exact attribution must add their own
// markers to the commands they send.
package terminal

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

// levelTrace matches config.LevelTrace.
const levelTrace = slog.Level(-8)

// ErrSessionNotFound is returned for operations on an id with no live
// session. Errors returned by the Manager wrap it with the id.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExited is returned when input is sent to a session whose
// process has already exited. Stop the session to start a fresh one.
var ErrSessionExited = errors.New("session process has exited")

// ErrInputQueueFull is returned when a session's pending input exceeds
// its capacity.
var ErrInputQueueFull = errors.New("session input queue is full")

// Config controls how sessions are spawned and how long reads wait.
type Config struct {
	// Shell and Args start the interactive process.
	Shell string
	Args  []string
	// Env entries (KEY=VALUE) are appended to the process environment.
	Env []string
	// Dir returns the working directory for new sessions. Nil or an
	// empty result uses the server's working directory.
	Dir func() string

	// StopGrace is how long Stop waits after a graceful terminate before
	// killing the process.
	StopGrace time.Duration
	// IdleTimeout is used by Reap. Zero disables idle reaping.
	IdleTimeout time.Duration
	// DefaultTimeout is the synchronous Dispatch wait when the request
	// does not set one.
	DefaultTimeout time.Duration
	// ReadWindow bounds the collection phase of Read.
	ReadWindow time.Duration
	// SettleWindow bounds the collection phase of Send.
	SettleWindow time.Duration
	// QuietPeriod ends a collection early once output has arrived and
	// then stayed quiet this long. Zero always waits the full window.
	QuietPeriod time.Duration

	// InputQueue is the number of pending inputs a session buffers.
	InputQueue int
	// MaxBufferedLines caps unread output per session; the oldest lines
	// are dropped beyond it.
	MaxBufferedLines int
}

func (c Config) withDefaults() Config {
	if c.Shell == "" {
		c.Shell = "sh"
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.ReadWindow <= 0 {
		c.ReadWindow = 2 * time.Second
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = time.Second
	}
	if c.InputQueue <= 0 {
		c.InputQueue = 64
	}
	if c.MaxBufferedLines <= 0 {
		c.MaxBufferedLines = 10000
	}
	return c
}

// State is a session lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited" // process ended on its own; still registered
	StateStopped  State = "stopped"
)

// Status is the outcome reported in a Result.
type Status string

const (
	// StatusRunning means the command was queued without waiting.
	StatusRunning Status = "running"
	// StatusCompleted means the bounded wait finished. It says nothing
	// about whether the command itself finished.
	StatusCompleted Status = "completed"
)

// Result is returned by the session operations.
type Result struct {
	Status      Status `json:"status"`
	SessionID   string `json:"session_id"`
	Output      string `json:"output"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	InputSent   string `json:"input_sent,omitempty"`
	Message     string `json:"message,omitempty"`
}

// DispatchRequest describes one command for Dispatch.
type DispatchRequest struct {
	SessionID   string
	Command     string
	Description string
	// Async queues the command and returns without waiting for output.
	Async bool
	// Timeout bounds the synchronous wait. Zero uses the configured
	// default.
	Timeout time.Duration
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID           string    `json:"id"`
	State        State     `json:"state"`
	PID          int       `json:"pid,omitempty"`
	Started      time.Time `json:"started"`
	LastActivity time.Time `json:"last_activity"`
	PendingLines int       `json:"pending_lines"`
	DroppedLines int       `json:"dropped_lines,omitempty"`
}

var keyReplacer = strings.NewReplacer(
	"{enter}", "\n",
	"{backspace}", "\b",
	"{tab}", "\t",
)

// ExpandKeys replaces the {enter}, {backspace} and {tab} markers with
// their control characters.
func ExpandKeys(text string) string {
	return keyReplacer.Replace(text)
}
