package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/sagaforge/internal/terminal"
)

// TerminalRunRequest is the body of POST /api/terminal/run.
type TerminalRunRequest struct {
	SessionID   string  `json:"session_id,omitempty"`
	Command     string  `json:"command"`
	Description string  `json:"description,omitempty"`
	Async       bool    `json:"async,omitempty"`
	TimeoutSec  float64 `json:"timeout_sec,omitempty"`
}

// TerminalSendRequest is the body of POST /api/terminal/{id}/send.
type TerminalSendRequest struct {
	Text     string  `json:"text"`
	DelaySec float64 `json:"delay_sec,omitempty"`
}

// Live terminal websocket messages.
const (
	wsTypeOutput = "output"
	wsTypeInput  = "input"
	wsTypeError  = "error"
	wsTypeClosed = "closed"
)

// TerminalMessage is exchanged over /api/terminal/{id}/ws. The server
// sends output, error and closed; the client sends input.
type TerminalMessage struct {
	Type  string   `json:"type"`
	Data  string   `json:"data,omitempty"`
	Lines []string `json:"lines,omitempty"`
}

// wsPollWindow bounds each wait for output on the live view.
const wsPollWindow = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func (s *Server) handleTerminalList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terminals == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "terminal not configured")
		return
	}
	sessions := s.deps.Terminals.Sessions()
	if sessions == nil {
		sessions = []terminal.SessionInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"sessions": sessions}, s.logger)
}

func (s *Server) handleTerminalRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terminals == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "terminal not configured")
		return
	}
	var req TerminalRunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		s.errorResponse(w, http.StatusBadRequest, "command is required")
		return
	}
	if req.TimeoutSec < 0 {
		s.errorResponse(w, http.StatusBadRequest, "timeout_sec must not be negative")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "term_" + uuid.NewString()
	}

	res, err := s.deps.Terminals.Dispatch(r.Context(), terminal.DispatchRequest{
		SessionID:   req.SessionID,
		Command:     req.Command,
		Description: req.Description,
		Async:       req.Async,
		Timeout:     seconds(req.TimeoutSec),
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

func (s *Server) handleTerminalSend(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terminals == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "terminal not configured")
		return
	}
	var req TerminalSendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.deps.Terminals.Send(r.Context(), r.PathValue("id"), req.Text, seconds(req.DelaySec))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

func (s *Server) handleTerminalRead(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terminals == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "terminal not configured")
		return
	}
	delay := parseSecondsParam(r, "delay", 0)
	res, err := s.deps.Terminals.Read(r.Context(), r.PathValue("id"), delay)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

func (s *Server) handleTerminalStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terminals == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "terminal not configured")
		return
	}
	res, err := s.deps.Terminals.Stop(r.PathValue("id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

// handleTerminalWS streams a session's output live and forwards input
// sent by the client. Output read here is consumed; it is not returned
// by later read calls.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Terminals == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "terminal not configured")
		return
	}
	id := r.PathValue("id")
	if !s.deps.Terminals.Exists(id) {
		s.errorResponse(w, http.StatusNotFound, "session not found: "+id)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		s.logger.Debug("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()
	s.logger.Info("terminal viewer connected", "session_id", id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inputErrs := make(chan string, 8)
	go s.readTerminalInput(cancel, conn, id, inputErrs)

	for ctx.Err() == nil {
		select {
		case msg := <-inputErrs:
			if err := conn.WriteJSON(TerminalMessage{Type: wsTypeError, Data: msg}); err != nil {
				return
			}
			continue
		default:
		}

		lines, err := s.deps.Terminals.Collect(ctx, id, wsPollWindow)
		if errors.Is(err, terminal.ErrSessionNotFound) {
			_ = conn.WriteJSON(TerminalMessage{Type: wsTypeClosed})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			s.logger.Info("terminal viewer closed", "session_id", id, "reason", "session ended")
			return
		}
		if err != nil || len(lines) == 0 {
			continue
		}
		if err := conn.WriteJSON(TerminalMessage{Type: wsTypeOutput, Lines: lines}); err != nil {
			s.logger.Debug("terminal viewer write failed", "session_id", id, "error", err)
			return
		}
	}
	s.logger.Info("terminal viewer disconnected", "session_id", id)
}

// readTerminalInput forwards client input to the session until the
// connection closes.
func (s *Server) readTerminalInput(cancel context.CancelFunc, conn *websocket.Conn, id string, errs chan<- string) {
	defer cancel()
	for {
		var msg TerminalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("terminal viewer read failed", "session_id", id, "error", err)
			}
			return
		}
		if msg.Type != wsTypeInput {
			continue
		}
		err := s.deps.Terminals.Write(id, msg.Data)
		if errors.Is(err, terminal.ErrSessionNotFound) {
			return
		}
		if err != nil {
			select {
			case errs <- err.Error():
			default:
			}
		}
	}
}
