// Package api implements the Sagaforge HTTP API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nugget/sagaforge/internal/agent"
	"github.com/nugget/sagaforge/internal/buildinfo"
	"github.com/nugget/sagaforge/internal/health"
	"github.com/nugget/sagaforge/internal/history"
	"github.com/nugget/sagaforge/internal/llm"
	"github.com/nugget/sagaforge/internal/models"
	"github.com/nugget/sagaforge/internal/sandbox"
	"github.com/nugget/sagaforge/internal/terminal"
	"github.com/nugget/sagaforge/internal/tools"
)

// ollamaDownMessage is the error text for an unreachable Ollama.
const ollamaDownMessage = "Ollama either not installed or not running."

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Chatter answers chat requests.
type Chatter interface {
	Chat(ctx context.Context, req agent.Request) (*agent.Response, error)
	ChatStream(ctx context.Context, req agent.Request, fn func(agent.Chunk)) (*agent.Response, error)
}

// ModelService manages the installed and current model.
type ModelService interface {
	Current() string
	List(ctx context.Context) ([]llm.Model, error)
	Alive(ctx context.Context) bool
	Change(ctx context.Context, name string) error
	Pull(ctx context.Context, name string, fn func(llm.PullProgress) error) error
}

// HistoryStore exposes stored chat sessions.
type HistoryStore interface {
	Sessions(ctx context.Context) ([]history.Session, error)
	Messages(ctx context.Context, sessionID string) ([]history.Message, error)
	Delete(ctx context.Context, sessionID string) error
}

// Workspace is the sandboxed file system.
type Workspace interface {
	Root() string
	SetRoot(dir string) error
	Read(path string, binary bool) ([]byte, error)
	Write(path string, content []byte, mode sandbox.WriteMode) error
	List(dir string) ([]string, error)
}

// Terminals is the interactive session manager.
type Terminals interface {
	Dispatch(ctx context.Context, req terminal.DispatchRequest) (*terminal.Result, error)
	Send(ctx context.Context, id, text string, delay time.Duration) (*terminal.Result, error)
	Write(id, text string) error
	Read(ctx context.Context, id string, delay time.Duration) (*terminal.Result, error)
	Collect(ctx context.Context, id string, window time.Duration) ([]string, error)
	Stop(id string) (*terminal.Result, error)
	Exists(id string) bool
	Sessions() []terminal.SessionInfo
}

// Deps are the services the server exposes. Nil members disable their
// endpoints, which then answer 503.
type Deps struct {
	Chat      Chatter
	Models    ModelService
	History   HistoryStore
	Workspace Workspace
	Terminals Terminals
	Tools     *tools.Registry
	// Health reports dependency reachability on /health. Optional.
	Health HealthReporter
}

// HealthReporter is the dependency monitor.
type HealthReporter interface {
	Status() []health.Status
	Healthy() bool
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	deps    Deps
	logger  *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		deps:    deps,
		logger:  logger,
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/{$}", s.handleChat)
	mux.HandleFunc("POST /api/chat/confirm-tool", s.handleConfirmTool)
	mux.HandleFunc("GET /api/chat/pending", s.handlePendingTools)
	mux.HandleFunc("GET /api/chat/sessions", s.handleSessionList)
	mux.HandleFunc("GET /api/chat/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /api/chat/sessions/{id}", s.handleSessionDelete)

	// Models
	mux.HandleFunc("GET /api/models/all", s.handleModelsAll)
	mux.HandleFunc("GET /api/models/current", s.handleModelsCurrent)
	mux.HandleFunc("GET /api/models/alive", s.handleModelsAlive)
	mux.HandleFunc("POST /api/models/change", s.handleModelsChange)
	mux.HandleFunc("POST /api/models/download/{model_name...}", s.handleModelsDownload)

	// Workspace
	mux.HandleFunc("GET /api/utils/getcwd", s.handleGetCwd)
	mux.HandleFunc("POST /api/utils/change_cwd/{dir...}", s.handleChangeCwd)
	mux.HandleFunc("GET /api/files/read", s.handleFileRead)
	mux.HandleFunc("POST /api/files/write", s.handleFileWrite)
	mux.HandleFunc("GET /api/files/list", s.handleFileList)

	// Terminal sessions
	mux.HandleFunc("GET /api/terminal", s.handleTerminalList)
	mux.HandleFunc("POST /api/terminal/run", s.handleTerminalRun)
	mux.HandleFunc("POST /api/terminal/{id}/send", s.handleTerminalSend)
	mux.HandleFunc("GET /api/terminal/{id}/read", s.handleTerminalRead)
	mux.HandleFunc("GET /api/terminal/{id}/ws", s.handleTerminalWS)
	mux.HandleFunc("DELETE /api/terminal/{id}", s.handleTerminalStop)

	// Introspection
	mux.HandleFunc("GET /api/tools", s.handleTools)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
		ReadTimeout: 30 * time.Second,
		// Streaming handlers extend their own write deadline.
		WriteTimeout: 120 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Sagaforge",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// handleHealth always answers 200 while the server runs. A down
// dependency degrades the status rather than failing the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.deps.Health == nil {
		writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
		return
	}
	status := "healthy"
	if !s.deps.Health.Healthy() {
		status = "degraded"
	}
	writeJSON(w, map[string]any{
		"status":       status,
		"dependencies": s.deps.Health.Status(),
	}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tools == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": s.deps.Tools.List()}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(code),
			"code":    code,
		},
	}, s.logger)
}

func errorType(code int) string {
	switch {
	case code == http.StatusServiceUnavailable:
		return "service_unavailable"
	case code >= 500:
		return "server_error"
	case code == http.StatusNotFound:
		return "not_found"
	case code == http.StatusForbidden:
		return "permission_denied"
	case code == http.StatusConflict:
		return "conflict"
	}
	return "invalid_request_error"
}

// errorStatus maps a service error to its HTTP status and message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sandbox.ErrSandboxViolation):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, sandbox.ErrNotAFile),
		errors.Is(err, terminal.ErrSessionNotFound),
		errors.Is(err, history.ErrSessionNotFound),
		errors.Is(err, tools.ErrConfirmationNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrModelNotInstalled):
		return http.StatusNotFound, "The model you are trying to set as default was not found installed. Maybe pull it from ollama?"
	case errors.Is(err, sandbox.ErrAlreadyExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, sandbox.ErrInvalidRoot):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, terminal.ErrSessionExited):
		return http.StatusGone, err.Error()
	case errors.Is(err, terminal.ErrInputQueueFull):
		return http.StatusTooManyRequests, err.Error()
	case llm.IsUnavailable(err):
		return http.StatusServiceUnavailable, ollamaDownMessage
	}
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return http.StatusNotFound, apiErr.Message
	}
	return http.StatusInternalServerError, err.Error()
}

// serviceError writes the mapped error response for err.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	code, msg := errorStatus(err)
	if code >= 500 {
		s.logger.Error("request failed", "error", err)
	}
	s.errorResponse(w, code, msg)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 10<<20))
	return dec.Decode(v)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// parseSecondsParam reads a duration given in (possibly fractional)
// seconds.
func parseSecondsParam(r *http.Request, name string, defaultVal time.Duration) time.Duration {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return defaultVal
	}
	return time.Duration(f * float64(time.Second))
}

// sseWriter streams server-sent events.
type sseWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
}

// startSSE writes the event-stream headers.
func (s *Server) startSSE(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, rc: http.NewResponseController(w), logger: s.logger}
}

// send writes one data event and flushes it. The write deadline is
// pushed out after every event so long tool runs do not time out.
func (e *sseWriter) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.Debug("failed to marshal SSE event", "error", err)
		return
	}
	e.raw(fmt.Sprintf("data: %s\n\n", data))
}

// done writes the terminating [DONE] marker.
func (e *sseWriter) done() {
	e.raw("data: [DONE]\n\n")
}

func (e *sseWriter) raw(s string) {
	if _, err := fmt.Fprint(e.w, s); err != nil {
		e.logger.Debug("failed to write SSE event", "error", err)
		return
	}
	if err := e.rc.Flush(); err != nil {
		e.logger.Debug("failed to flush SSE event", "error", err)
	}
	if err := e.rc.SetWriteDeadline(time.Now().Add(120 * time.Second)); err != nil {
		e.logger.Log(context.Background(), llm.LevelTrace, "failed to reset write deadline", "error", err)
	}
}
