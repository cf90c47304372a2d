package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds reported to an EventSink.
const (
	EventToolStarted      = "tool_call_started"
	EventToolCompleted    = "tool_call_completed"
	EventNeedConfirmation = "tool_requiring_confirmation"
)

// Event describes tool activity during a chat request.
type Event struct {
	Kind      string         `json:"-"`
	CallID    string         `json:"tool_call_id,omitempty"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"tool_args,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"tool_call_error,omitempty"`

	// Confirmation is set for EventNeedConfirmation.
	Confirmation *Confirmation `json:"-"`
}

// Confirmation is a tool call waiting for the user.
type Confirmation struct {
	ToolID    string         `json:"tool_id"`
	ToolName  string         `json:"tool_name"`
	SessionID string         `json:"session_id"`
	Arguments map[string]any `json:"tool_args,omitempty"`
	Confirmed bool           `json:"confirmed"`
	Created   time.Time      `json:"created"`
}

// DefaultConfirmTimeout bounds how long a call waits for the user.
const DefaultConfirmTimeout = 5 * time.Minute

type pendingCall struct {
	Confirmation
	decision chan bool
}

// Gate parks tool calls until the user confirms or declines them.
type Gate struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// NewGate creates a Gate. A non-positive timeout uses
// DefaultConfirmTimeout.
func NewGate(timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*pendingCall),
	}
}

// Await registers a pending call, announces it on the context's event
// sink and blocks until Resolve, the timeout, or ctx. It reports
// whether the user confirmed.
func (g *Gate) Await(ctx context.Context, sessionID, toolName string, args map[string]any) (bool, error) {
	sink := EventSinkFromContext(ctx)
	if sink == nil {
		return false, ErrNoConfirmationChannel
	}

	p := &pendingCall{
		Confirmation: Confirmation{
			ToolID:    uuid.NewString(),
			ToolName:  toolName,
			SessionID: sessionID,
			Arguments: args,
			Created:   time.Now(),
		},
		decision: make(chan bool, 1),
	}
	g.mu.Lock()
	g.pending[p.ToolID] = p
	g.mu.Unlock()
	defer g.remove(p.ToolID)

	g.logger.Info("tool awaiting confirmation", "tool", toolName, "tool_id", p.ToolID, "session_id", sessionID)
	c := p.Confirmation
	sink(Event{Kind: EventNeedConfirmation, ToolName: toolName, Arguments: args, Confirmation: &c})

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()
	select {
	case ok := <-p.decision:
		g.logger.Info("tool confirmation resolved", "tool", toolName, "tool_id", p.ToolID, "confirmed", ok)
		return ok, nil
	case <-timer.C:
		g.logger.Warn("tool confirmation timed out", "tool", toolName, "tool_id", p.ToolID)
		return false, ErrConfirmationTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve delivers the user's decision for a pending call. The session
// must match the one the call was raised in.
func (g *Gate) Resolve(toolID, sessionID string, confirmed bool) error {
	g.mu.Lock()
	p, ok := g.pending[toolID]
	if ok && p.SessionID == sessionID {
		delete(g.pending, toolID)
	}
	g.mu.Unlock()

	if !ok || p.SessionID != sessionID {
		return fmt.Errorf("%w: %s", ErrConfirmationNotFound, toolID)
	}
	p.decision <- confirmed
	return nil
}

// Pending lists calls waiting in a session, oldest first. An empty
// sessionID lists every session.
func (g *Gate) Pending(sessionID string) []Confirmation {
	g.mu.Lock()
	var out []Confirmation
	for _, p := range g.pending {
		if sessionID == "" || p.SessionID == sessionID {
			out = append(out, p.Confirmation)
		}
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (g *Gate) remove(toolID string) {
	g.mu.Lock()
	delete(g.pending, toolID)
	g.mu.Unlock()
}
