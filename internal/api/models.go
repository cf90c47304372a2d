package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nugget/sagaforge/internal/llm"
)

// ChangeModelRequest is the body of POST /api/models/change.
type ChangeModelRequest struct {
	ModelName string `json:"model_name"`
}

// PullEvent is one SSE payload of a model download.
type PullEvent struct {
	Status    string `json:"status,omitempty"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

func (s *Server) handleModelsAll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Models == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "models not configured")
		return
	}
	list, err := s.deps.Models.List(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if list == nil {
		list = []llm.Model{}
	}
	s.logger.Debug("listed models", "count", len(list))
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, list, s.logger)
}

func (s *Server) handleModelsCurrent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Models == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "models not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"name": s.deps.Models.Current()}, s.logger)
}

func (s *Server) handleModelsAlive(w http.ResponseWriter, r *http.Request) {
	alive := s.deps.Models != nil && s.deps.Models.Alive(r.Context())
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, alive, s.logger)
}

func (s *Server) handleModelsChange(w http.ResponseWriter, r *http.Request) {
	if s.deps.Models == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "models not configured")
		return
	}
	var req ChangeModelRequest
	if err := decodeJSON(r, &req); err != nil || req.ModelName == "" {
		s.errorResponse(w, http.StatusBadRequest, "model_name is required")
		return
	}
	if err := s.deps.Models.Change(r.Context(), req.ModelName); err != nil {
		s.serviceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"message": fmt.Sprintf("Success! model set to %s", req.ModelName),
	}, s.logger)
}

// handleModelsDownload streams pull progress. Failures before the first
// progress update get a normal error response; later ones are reported
// in-band.
func (s *Server) handleModelsDownload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Models == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "models not configured")
		return
	}
	name := r.PathValue("model_name")
	if name == "" {
		s.errorResponse(w, http.StatusBadRequest, "model name is required")
		return
	}
	s.logger.Info("downloading model", "model", name)

	var sse *sseWriter
	err := s.deps.Models.Pull(r.Context(), name, func(p llm.PullProgress) error {
		if sse == nil {
			sse = s.startSSE(w)
		}
		sse.send(PullEvent{Status: p.Status, Completed: p.Completed, Total: p.Total})
		return r.Context().Err()
	})

	switch {
	case err == nil && sse == nil:
		s.startSSE(w).done()
	case err == nil:
		sse.done()
	case sse == nil:
		s.serviceError(w, describePullError(err))
	default:
		_, msg := errorStatus(describePullError(err))
		sse.send(map[string]string{"error": msg})
	}
}

// describePullError rewords Ollama's manifest error for an unknown model.
func describePullError(err error) error {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return &llm.APIError{StatusCode: http.StatusNotFound, Message: "The model you tried to download does not exist."}
	}
	return err
}
