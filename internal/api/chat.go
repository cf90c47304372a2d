package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/sagaforge/internal/agent"
	"github.com/nugget/sagaforge/internal/tools"
)

// ChatRequest is the body of POST /api/chat/.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// Chat stream event types.
const (
	chatEventContent   = "content"
	chatEventCompleted = "completed"
)

// ChatEvent is one SSE payload of a streaming chat.
type ChatEvent struct {
	Content                   string              `json:"content"`
	Type                      string              `json:"type"`
	ToolCalls                 []tools.Event       `json:"tool_calls"`
	SessionID                 string              `json:"session_id"`
	ToolRequiringConfirmation *tools.Confirmation `json:"tool_requiring_confirmation"`
	Model                     string              `json:"model,omitempty"`
	InputTokens               int                 `json:"input_tokens,omitempty"`
	OutputTokens              int                 `json:"output_tokens,omitempty"`
}

// ConfirmToolRequest is the body of POST /api/chat/confirm-tool.
type ConfirmToolRequest struct {
	ToolID    string `json:"tool_id"`
	SessionID string `json:"session_id"`
	Confirmed bool   `json:"confirmed"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}

	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "session_" + uuid.NewString()
	}

	if s.deps.Models != nil && !s.deps.Models.Alive(r.Context()) {
		s.errorResponse(w, http.StatusServiceUnavailable, ollamaDownMessage)
		return
	}

	agentReq := agent.Request{SessionID: sessionID, Message: req.Message}
	if req.Stream {
		s.handleChatStream(w, r, agentReq)
		return
	}

	resp, err := s.deps.Chat.Chat(r.Context(), agentReq)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, req agent.Request) {
	sse := s.startSSE(w)

	resp, err := s.deps.Chat.ChatStream(r.Context(), req, func(c agent.Chunk) {
		ev := ChatEvent{
			Type:      chatEventContent,
			ToolCalls: []tools.Event{},
			SessionID: req.SessionID,
		}
		switch {
		case c.Confirmation != nil:
			ev.Type = tools.EventNeedConfirmation
			ev.ToolRequiringConfirmation = c.Confirmation
		case c.ToolCall != nil:
			ev.Type = c.ToolCall.Kind
			ev.ToolCalls = []tools.Event{*c.ToolCall}
		default:
			ev.Content = c.Content
		}
		sse.send(ev)
	})
	if err != nil {
		// Status is already sent; report in-band and end without [DONE].
		_, msg := errorStatus(err)
		s.logger.Error("chat stream failed", "session_id", req.SessionID, "error", err)
		sse.send(map[string]string{"error": msg, "session_id": req.SessionID})
		return
	}

	sse.send(ChatEvent{
		Type:         chatEventCompleted,
		ToolCalls:    []tools.Event{},
		SessionID:    req.SessionID,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	sse.done()
}

func (s *Server) handleConfirmTool(w http.ResponseWriter, r *http.Request) {
	gate := s.gate()
	if gate == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tool confirmation not configured")
		return
	}

	var req ConfirmToolRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToolID == "" || req.SessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "tool_id and session_id are required")
		return
	}

	if err := gate.Resolve(req.ToolID, req.SessionID, req.Confirmed); err != nil {
		s.serviceError(w, err)
		return
	}

	msg := "Tool call declined"
	if req.Confirmed {
		msg = "Tool call confirmed"
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"message":   msg,
		"tool_id":   req.ToolID,
		"confirmed": req.Confirmed,
	}, s.logger)
}

func (s *Server) handlePendingTools(w http.ResponseWriter, r *http.Request) {
	gate := s.gate()
	if gate == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tool confirmation not configured")
		return
	}
	pending := gate.Pending(r.URL.Query().Get("session_id"))
	if pending == nil {
		pending = []tools.Confirmation{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"pending": pending}, s.logger)
}

func (s *Server) gate() *tools.Gate {
	if s.deps.Tools == nil {
		return nil
	}
	return s.deps.Tools.Gate()
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	sessions, err := s.deps.History.Sessions(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}

	limit := parseIntParam(r, "limit", 0)
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}, s.logger)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	id := r.PathValue("id")
	msgs, err := s.deps.History.Messages(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   msgs,
	}, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	id := r.PathValue("id")
	if err := s.deps.History.Delete(r.Context(), id); err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": "Session deleted", "session_id": id}, s.logger)
}
