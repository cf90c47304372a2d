package search

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	toolDefaultCount = 5
	toolMaxCount     = 10
)

// ToolHandler adapts mgr to the agent tool handler signature. Raw page
// content is always requested so the model can read the best hits.
func ToolHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("search_internet: query is required")
		}

		opts := Options{Count: toolDefaultCount, RawContent: true}
		if n, ok := args["count"].(float64); ok && n >= 1 {
			opts.Count = min(int(n), toolMaxCount)
		}

		resp, err := mgr.Search(ctx, query, opts)
		if err != nil {
			return "", fmt.Errorf("search_internet: %w", err)
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// ToolParameters is the JSON schema of search_internet's arguments.
func ToolParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to search for.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("How many results to return, 1-%d. Default %d.", toolMaxCount, toolDefaultCount),
			},
		},
		"required": []string{"query"},
	}
}

// ToolDescription tells the model how to use the results.
const ToolDescription = "Search the internet. Returns JSON with the query and a results array; " +
	"each result has url, title, content (a short overview), score (relevance 0-1) and, " +
	"when available, raw_content (the scraped page). Skim titles and content, then pick " +
	"2-3 results and read their raw_content for detailed answers."
