// Package agent runs chat requests through an eino ReAct agent backed by
// the current Ollama model, with tool access and per-session history.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/nugget/sagaforge/internal/history"
	"github.com/nugget/sagaforge/internal/httpkit"
	"github.com/nugget/sagaforge/internal/llm"
	"github.com/nugget/sagaforge/internal/tools"
)

// History is the chat history the agent reads and appends to.
type History interface {
	Append(ctx context.Context, msg history.Message) error
	Recent(ctx context.Context, sessionID string, runs int) ([]history.Message, error)
}

// ModelSource reports the model to use for the next request.
type ModelSource interface {
	Current() string
}

// ModelFactory builds a chat model for a model name.
type ModelFactory func(ctx context.Context, modelName string) (model.ToolCallingChatModel, error)

// Config configures an Agent.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint (Ollama's /v1).
	BaseURL string
	// Instructions open the system prompt.
	Instructions string
	// HistoryRuns is how many previous exchanges are replayed.
	HistoryRuns int
	// MaxSteps bounds model/tool iterations per request.
	MaxSteps int
	// RequestTimeout bounds the model HTTP calls. Zero means 10 minutes.
	RequestTimeout time.Duration
	// NewModel overrides the model constructor.
	NewModel ModelFactory
}

// Request is one user turn.
type Request struct {
	SessionID string
	Message   string
}

// Response is the agent's reply to a Request.
type Response struct {
	Content      string `json:"response"`
	SessionID    string `json:"session_id"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Chunk is one streamed update. Exactly one field is set.
type Chunk struct {
	Content      string
	ToolCall     *tools.Event
	Confirmation *tools.Confirmation
}

// Agent answers chat requests.
type Agent struct {
	cfg      Config
	models   ModelSource
	registry *tools.Registry
	history  History
	context  ContextProvider
	logger   *slog.Logger
}

// New creates an Agent. contextProvider may be nil.
func New(cfg Config, models ModelSource, registry *tools.Registry, hist History, contextProvider ContextProvider, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 12
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}
	if cfg.NewModel == nil {
		cfg.NewModel = openAIFactory(cfg.BaseURL, cfg.RequestTimeout, logger)
	}
	return &Agent{
		cfg:      cfg,
		models:   models,
		registry: registry,
		history:  hist,
		context:  contextProvider,
		logger:   logger,
	}
}

// openAIFactory builds chat models against an OpenAI-compatible server.
// Ollama ignores the API key but the client requires one.
func openAIFactory(baseURL string, timeout time.Duration, logger *slog.Logger) ModelFactory {
	httpClient := httpkit.NewClient(httpkit.WithTimeout(timeout), httpkit.WithLogger(logger))
	return func(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:     "ollama",
			BaseURL:    baseURL,
			Model:      name,
			HTTPClient: httpClient,
		})
	}
}

// Chat answers req in one piece.
func (a *Agent) Chat(ctx context.Context, req Request) (*Response, error) {
	return a.run(ctx, req, nil)
}

// ChatStream answers req, calling fn for each content chunk and tool
// event as it happens. fn is never called concurrently.
func (a *Agent) ChatStream(ctx context.Context, req Request, fn func(Chunk)) (*Response, error) {
	var mu sync.Mutex
	emit := func(c Chunk) {
		mu.Lock()
		defer mu.Unlock()
		fn(c)
	}
	return a.run(ctx, req, emit)
}

func (a *Agent) run(ctx context.Context, req Request, emit func(Chunk)) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}
	modelName := a.models.Current()
	start := time.Now()

	a.logger.Info("chat request started",
		"session_id", req.SessionID,
		"model", modelName,
		"stream", emit != nil,
	)

	ctx = tools.WithSessionID(ctx, req.SessionID)
	if emit != nil {
		ctx = tools.WithEventSink(ctx, func(ev tools.Event) {
			if ev.Kind == tools.EventNeedConfirmation {
				emit(Chunk{Confirmation: ev.Confirmation})
				return
			}
			e := ev
			emit(Chunk{ToolCall: &e})
		})
	}

	messages, err := a.buildMessages(ctx, req)
	if err != nil {
		return nil, err
	}
	system := a.systemPrompt(ctx, req.Message)

	ra, err := a.newReactAgent(ctx, modelName, system)
	if err != nil {
		return nil, err
	}

	var reply *schema.Message
	if emit == nil {
		reply, err = ra.Generate(ctx, messages)
	} else {
		reply, err = a.stream(ctx, ra, messages, emit)
	}
	if err != nil {
		a.logger.Error("chat request failed", "session_id", req.SessionID, "model", modelName, "error", err)
		return nil, classify(err)
	}

	resp := &Response{Content: reply.Content, SessionID: req.SessionID, Model: modelName}
	if reply.ResponseMeta != nil && reply.ResponseMeta.Usage != nil {
		resp.InputTokens = reply.ResponseMeta.Usage.PromptTokens
		resp.OutputTokens = reply.ResponseMeta.Usage.CompletionTokens
	}

	a.persist(ctx, req, resp)
	a.logger.Info("chat request completed",
		"session_id", req.SessionID,
		"model", modelName,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"output_tokens", resp.OutputTokens,
	)
	return resp, nil
}

func (a *Agent) newReactAgent(ctx context.Context, modelName, system string) (*react.Agent, error) {
	chatModel, err := a.cfg.NewModel(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	var toolset []tool.BaseTool
	if a.registry != nil {
		toolset = a.registry.EinoTools()
	}

	ra, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: newTextToolModel(chatModel),
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: toolset,
		},
		MessageModifier: func(_ context.Context, input []*schema.Message) []*schema.Message {
			res := make([]*schema.Message, 0, len(input)+1)
			res = append(res, schema.SystemMessage(system))
			return append(res, input...)
		},
		MaxStep:               a.cfg.MaxSteps,
		StreamToolCallChecker: streamHasToolCalls,
	})
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return ra, nil
}

func (a *Agent) stream(ctx context.Context, ra *react.Agent, messages []*schema.Message, emit func(Chunk)) (*schema.Message, error) {
	reader, err := ra.Stream(ctx, messages)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if msg == nil {
			continue
		}
		chunks = append(chunks, msg)
		if msg.Content != "" {
			emit(Chunk{Content: msg.Content})
		}
	}
	if len(chunks) == 0 {
		return &schema.Message{Role: schema.Assistant}, nil
	}
	return schema.ConcatMessages(chunks)
}

// streamHasToolCalls decides whether a streamed model reply is a tool
// call. It reads until the first chunk carrying tool calls or content.
func streamHasToolCalls(_ context.Context, sr *schema.StreamReader[*schema.Message]) (bool, error) {
	defer sr.Close()
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if len(msg.ToolCalls) > 0 {
			return true, nil
		}
		if strings.TrimSpace(msg.Content) != "" {
			return false, nil
		}
	}
}

func (a *Agent) systemPrompt(ctx context.Context, userMessage string) string {
	system := strings.TrimSpace(a.cfg.Instructions)
	if a.context == nil {
		return system
	}
	extra, _ := a.context.GetContext(ctx, userMessage)
	if extra == "" {
		return system
	}
	return system + "\n\n" + extra
}

func (a *Agent) buildMessages(ctx context.Context, req Request) ([]*schema.Message, error) {
	var messages []*schema.Message
	if a.history != nil && a.cfg.HistoryRuns > 0 {
		past, err := a.history.Recent(ctx, req.SessionID, a.cfg.HistoryRuns)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		for _, m := range past {
			switch m.Role {
			case history.RoleUser:
				messages = append(messages, schema.UserMessage(m.Content))
			case history.RoleAssistant:
				messages = append(messages, schema.AssistantMessage(m.Content, nil))
			}
		}
		a.logger.Log(ctx, llm.LevelTrace, "loaded history", "session_id", req.SessionID, "messages", len(past))
	}
	return append(messages, schema.UserMessage(req.Message)), nil
}

// persist stores the exchange. Failures are logged; the reply stands.
func (a *Agent) persist(ctx context.Context, req Request, resp *Response) {
	if a.history == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := a.history.Append(ctx, history.Message{
		SessionID: req.SessionID,
		Role:      history.RoleUser,
		Content:   req.Message,
	}); err != nil {
		a.logger.Warn("history append failed", "session_id", req.SessionID, "error", err)
		return
	}
	if err := a.history.Append(ctx, history.Message{
		SessionID:    req.SessionID,
		Role:         history.RoleAssistant,
		Content:      resp.Content,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}); err != nil {
		a.logger.Warn("history append failed", "session_id", req.SessionID, "error", err)
	}
}

// classify maps transport failures to llm.ErrUnavailable. The graph
// runner does not always keep the original error in the chain, so the
// message is checked too.
func classify(err error) error {
	if httpkit.IsConnectionError(err) || strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	return err
}
