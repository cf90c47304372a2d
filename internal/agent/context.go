package agent

import (
	"context"
	"log/slog"
	"strings"
)

// ContextProvider contributes a block of text to the system prompt for
// one request.
type ContextProvider interface {
	GetContext(ctx context.Context, userMessage string) (string, error)
}

// CompositeContextProvider combines multiple context providers.
// Each provider's output is concatenated with blank lines.
type CompositeContextProvider struct {
	providers []ContextProvider
	logger    *slog.Logger
}

// NewCompositeContextProvider creates a composite from multiple providers.
func NewCompositeContextProvider(logger *slog.Logger, providers ...ContextProvider) *CompositeContextProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompositeContextProvider{providers: providers, logger: logger}
}

// Add appends a provider to the composite.
func (c *CompositeContextProvider) Add(provider ContextProvider) {
	if provider != nil {
		c.providers = append(c.providers, provider)
	}
}

// GetContext calls all providers and combines their output. A failing
// provider is logged and skipped.
func (c *CompositeContextProvider) GetContext(ctx context.Context, userMessage string) (string, error) {
	var parts []string
	for _, p := range c.providers {
		content, err := p.GetContext(ctx, userMessage)
		if err != nil {
			c.logger.Warn("context provider failed", "error", err)
			continue
		}
		if content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// WorkspaceProvider tells the model which directory its file tools are
// confined to.
type WorkspaceProvider struct {
	root func() string
}

// NewWorkspaceProvider creates a provider reporting root().
func NewWorkspaceProvider(root func() string) *WorkspaceProvider {
	return &WorkspaceProvider{root: root}
}

// GetContext returns the current directory note.
func (p *WorkspaceProvider) GetContext(context.Context, string) (string, error) {
	dir := p.root()
	if dir == "" {
		return "", nil
	}
	return "[Current directory: " + dir + ". File tools only work inside it; " +
		"relative paths are resolved against it.]", nil
}
