// Package models tracks which installed Ollama model the chat agent uses
// and wraps model listing and downloads.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nugget/sagaforge/internal/llm"
)

// ErrModelNotInstalled is returned when changing to a model Ollama does
// not have.
var ErrModelNotInstalled = errors.New("model not installed")

// Backend is the subset of the Ollama client the service needs.
type Backend interface {
	Ping(ctx context.Context) error
	ListModels(ctx context.Context) ([]llm.Model, error)
	Pull(ctx context.Context, name string, fn func(llm.PullProgress) error) error
}

// Service holds the current model. Safe for concurrent use.
type Service struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.RWMutex
	current string
}

// NewService creates a Service starting on the given model. The model
// is not checked against the installed list until Change is called.
func NewService(backend Backend, current string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, current: current, logger: logger}
}

// Current returns the model in use.
func (s *Service) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// List returns the installed models.
func (s *Service) List(ctx context.Context) ([]llm.Model, error) {
	return s.backend.ListModels(ctx)
}

// Alive reports whether Ollama answers at all.
func (s *Service) Alive(ctx context.Context) bool {
	return s.backend.Ping(ctx) == nil
}

// Change switches to name, which must be installed.
func (s *Service) Change(ctx context.Context, name string) error {
	installed, err := s.backend.ListModels(ctx)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(installed, func(m llm.Model) bool { return m.Name == name }) {
		return fmt.Errorf("%w: %s", ErrModelNotInstalled, name)
	}

	s.mu.Lock()
	prev := s.current
	s.current = name
	s.mu.Unlock()

	s.logger.Info("model changed", "from", prev, "to", name)
	return nil
}

// Pull downloads name, reporting progress through fn.
func (s *Service) Pull(ctx context.Context, name string, fn func(llm.PullProgress) error) error {
	if err := s.backend.Pull(ctx, name, fn); err != nil {
		s.logger.Warn("model pull failed", "model", name, "error", err)
		return err
	}
	return nil
}
