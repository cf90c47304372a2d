package api

import (
	"encoding/base64"
	"net/http"
	"sort"

	"github.com/nugget/sagaforge/internal/sandbox"
)

// FileWriteRequest is the body of POST /api/files/write.
type FileWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	// Mode is w (truncate, default), a (append) or x (exclusive create).
	Mode string `json:"mode,omitempty"`
	// Encoding is "base64" for binary content; anything else is text.
	Encoding string `json:"encoding,omitempty"`
}

// FileContent is the response of GET /api/files/read.
type FileContent struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
}

func (s *Server) handleGetCwd(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workspace == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "workspace not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"dir": s.deps.Workspace.Root()}, s.logger)
}

// handleChangeCwd moves the allowed root. The router strips the leading
// slash of an absolute path given in the URL, so absolute paths must be
// escaped (%2F) or passed as ?dir= instead.
func (s *Server) handleChangeCwd(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workspace == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "workspace not configured")
		return
	}
	dir := r.PathValue("dir")
	if q := r.URL.Query().Get("dir"); q != "" {
		dir = q
	}
	if dir == "" {
		s.errorResponse(w, http.StatusBadRequest, "directory is required")
		return
	}

	if err := s.deps.Workspace.SetRoot(dir); err != nil {
		s.serviceError(w, err)
		return
	}
	root := s.deps.Workspace.Root()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"message": "Changed to " + root,
		"dir":     root,
	}, s.logger)
}

func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workspace == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "workspace not configured")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.errorResponse(w, http.StatusBadRequest, "path is required")
		return
	}

	var binary bool
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "text", "r":
	case "binary", "rb":
		binary = true
	default:
		s.errorResponse(w, http.StatusBadRequest, "mode must be text or binary")
		return
	}

	data, err := s.deps.Workspace.Read(path, binary)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	resp := FileContent{Path: path, Size: len(data), Encoding: "utf-8", Content: string(data)}
	if binary {
		resp.Encoding = "base64"
		resp.Content = base64.StdEncoding.EncodeToString(data)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleFileWrite(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workspace == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "workspace not configured")
		return
	}
	var req FileWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.errorResponse(w, http.StatusBadRequest, "path is required")
		return
	}
	mode, err := sandbox.ParseWriteMode(req.Mode)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	content := []byte(req.Content)
	if req.Encoding == "base64" {
		content, err = base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "content is not valid base64")
			return
		}
	}

	if err := s.deps.Workspace.Write(req.Path, content, mode); err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"message": "File written",
		"path":    req.Path,
		"mode":    mode.String(),
		"bytes":   len(content),
	}, s.logger)
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workspace == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "workspace not configured")
		return
	}
	dir := r.URL.Query().Get("path")
	if dir == "" {
		dir = "."
	}
	entries, err := s.deps.Workspace.List(dir)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	sort.Strings(entries)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"path":    dir,
		"entries": entries,
	}, s.logger)
}
