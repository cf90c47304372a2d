// Package search answers the agent's web search tool. Backends implement
// [Provider]; a [Manager] tries them in registration order so a second
// provider can cover for a failing first one.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"content,omitempty"`
	Score   float64 `json:"score,omitempty"`
	// RawContent is the scraped page text, when the provider returns it.
	RawContent string `json:"raw_content,omitempty"`
}

// Response is what the agent sees for one query.
type Response struct {
	Query    string   `json:"query"`
	Provider string   `json:"provider"`
	Results  []Result `json:"results"`
}

// Options tune a query. Zero values leave the choice to the provider.
type Options struct {
	Count      int
	RawContent bool
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// ErrNoProviders is returned by Search on an empty Manager.
var ErrNoProviders = errors.New("no search provider configured")

// Manager routes queries to its providers. It is not safe to Register
// concurrently with Search; register everything at startup.
type Manager struct {
	providers []Provider
}

// NewManager creates a Manager over providers, tried in order.
func NewManager(providers ...Provider) *Manager {
	m := &Manager{}
	for _, p := range providers {
		m.Register(p)
	}
	return m
}

// Register appends a provider. Registering a name twice replaces the
// earlier provider in place.
func (m *Manager) Register(p Provider) {
	for i, existing := range m.providers {
		if existing.Name() == p.Name() {
			m.providers[i] = p
			return
		}
	}
	m.providers = append(m.providers, p)
}

// Providers returns provider names in the order they are tried.
func (m *Manager) Providers() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}

// Search runs query against each provider until one succeeds. The
// returned Response names the provider that answered. When every
// provider fails the errors are joined.
func (m *Manager) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty search query")
	}
	if len(m.providers) == 0 {
		return nil, ErrNoProviders
	}

	var errs []error
	for _, p := range m.providers {
		results, err := p.Search(ctx, query, opts)
		if err == nil {
			if opts.Count > 0 && len(results) > opts.Count {
				results = results[:opts.Count]
			}
			return &Response{Query: query, Provider: p.Name(), Results: results}, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
