// Package llm talks to the Ollama runtime's native API for model
// management: listing installed and loaded models and pulling new ones.
// Chat completions go through Ollama's OpenAI-compatible endpoint (see
// OpenAIBaseURL) and are handled by the agent package.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/sagaforge/internal/httpkit"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// ErrUnavailable means Ollama could not be reached at all.
var ErrUnavailable = errors.New("ollama is not installed or not running")

// IsUnavailable reports whether err means Ollama is not reachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// APIError is a non-2xx response from Ollama.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ollama API error %d: %s", e.StatusCode, e.Message)
}

// Model is an installed model as reported by /api/tags.
type Model struct {
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	ParameterSize string    `json:"param_size"`
	Family        string    `json:"family,omitempty"`
	Quantization  string    `json:"quantization,omitempty"`
	ModifiedAt    time.Time `json:"modified_at"`
}

// RunningModel is a model loaded in memory as reported by /api/ps.
type RunningModel struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	SizeVRAM  int64     `json:"size_vram"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PullProgress is one progress update from /api/pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Completed int64  `json:"completed"`
	Total     int64  `json:"total"`
}

// OllamaClient is a client for the Ollama native API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	pullClient *http.Client // no overall timeout; pulls run for minutes
	logger     *slog.Logger
}

// NewOllamaClient creates a client for the Ollama server at baseURL.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		pullClient: httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithLogger(logger)),
		logger:     logger,
	}
}

// BaseURL returns the native API base URL.
func (c *OllamaClient) BaseURL() string {
	return c.baseURL
}

// OpenAIBaseURL returns the base URL of Ollama's OpenAI-compatible API.
func (c *OllamaClient) OpenAIBaseURL() string {
	return c.baseURL + "/v1"
}

// Ping checks that Ollama is running by querying loaded models.
func (c *OllamaClient) Ping(ctx context.Context) error {
	_, err := c.Running(ctx)
	return err
}

// ListModels returns the installed models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]Model, error) {
	var result struct {
		Models []struct {
			Name       string    `json:"name"`
			Model      string    `json:"model"`
			Size       int64     `json:"size"`
			ModifiedAt time.Time `json:"modified_at"`
			Details    struct {
				Family            string `json:"family"`
				ParameterSize     string `json:"parameter_size"`
				QuantizationLevel string `json:"quantization_level"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &result); err != nil {
		return nil, err
	}

	models := make([]Model, len(result.Models))
	for i, m := range result.Models {
		name := m.Model
		if name == "" {
			name = m.Name
		}
		models[i] = Model{
			Name:          name,
			Size:          m.Size,
			ParameterSize: m.Details.ParameterSize,
			Family:        m.Details.Family,
			Quantization:  m.Details.QuantizationLevel,
			ModifiedAt:    m.ModifiedAt,
		}
	}
	return models, nil
}

// Running returns the models currently loaded in memory.
func (c *OllamaClient) Running(ctx context.Context) ([]RunningModel, error) {
	var result struct {
		Models []struct {
			Name      string    `json:"name"`
			Model     string    `json:"model"`
			Size      int64     `json:"size"`
			SizeVRAM  int64     `json:"size_vram"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/ps", &result); err != nil {
		return nil, err
	}

	running := make([]RunningModel, len(result.Models))
	for i, m := range result.Models {
		name := m.Model
		if name == "" {
			name = m.Name
		}
		running[i] = RunningModel{Name: name, Size: m.Size, SizeVRAM: m.SizeVRAM, ExpiresAt: m.ExpiresAt}
	}
	return running, nil
}

// Pull downloads a model from the Ollama registry, calling fn for each
// progress update. Returning an error from fn aborts the pull. An error
// reported inside the stream (such as an unknown model) is returned as
// an *APIError.
func (c *OllamaClient) Pull(ctx context.Context, name string, fn func(PullProgress) error) error {
	body, err := json.Marshal(map[string]any{"model": name, "stream": true})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("pulling model", "model", name)
	resp, err := c.pullClient.Do(req)
	if err != nil {
		return c.wrapTransportError(err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(httpkit.ReadErrorBody(resp.Body, 2048))}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		c.logger.Log(ctx, LevelTrace, "pull progress", "model", name, "line", string(line))

		var chunk struct {
			PullProgress
			Error string `json:"error"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode pull progress: %w", err)
		}
		if chunk.Error != "" {
			return &APIError{StatusCode: http.StatusNotFound, Message: chunk.Error}
		}
		if fn != nil {
			if err := fn(chunk.PullProgress); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pull stream: %w", err)
	}
	c.logger.Info("model pull finished", "model", name)
	return nil
}

func (c *OllamaClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrapTransportError(err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: apiMessage(httpkit.ReadErrorBody(resp.Body, 2048))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *OllamaClient) wrapTransportError(err error) error {
	if httpkit.IsConnectionError(err) {
		c.logger.Warn("ollama unreachable", "url", c.baseURL, "error", err)
		return fmt.Errorf("%w (%s): %v", ErrUnavailable, c.baseURL, err)
	}
	return fmt.Errorf("request failed: %w", err)
}

// apiMessage extracts {"error": "..."} from an Ollama error body.
func apiMessage(body string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(body), &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(body)
}
