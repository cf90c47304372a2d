package agent

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/nugget/sagaforge/internal/llm"
)

// textToolModel wraps a chat model and turns tool calls written into
// message content back into structured tool calls. Small local models
// frequently answer with a JSON tool call as plain text.
type textToolModel struct {
	inner     model.ToolCallingChatModel
	toolNames []string
}

var _ model.ToolCallingChatModel = (*textToolModel)(nil)

func newTextToolModel(inner model.ToolCallingChatModel) *textToolModel {
	return &textToolModel{inner: inner}
}

func (m *textToolModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	inner, err := m.inner.WithTools(infos)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return &textToolModel{inner: inner, toolNames: names}, nil
}

func (m *textToolModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	msg, err := m.inner.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return recoverToolCalls(msg, m.toolNames), nil
}

// Stream passes chunks through unless the reply starts like a text tool
// call, in which case the reply is buffered and parsed as a whole.
func (m *textToolModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, err := m.inner.Stream(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	if len(m.toolNames) == 0 {
		return sr, nil
	}

	out, w := schema.Pipe[*schema.Message](8)
	go func() {
		defer w.Close()
		defer sr.Close()

		var held []*schema.Message
		var prefix strings.Builder
		sniffing := true

		flush := func() bool {
			for _, c := range held {
				if w.Send(c, nil) {
					return false
				}
			}
			held = nil
			return true
		}

		for {
			chunk, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				w.Send(nil, err)
				return
			}
			if !sniffing {
				if w.Send(chunk, nil) {
					return
				}
				continue
			}

			held = append(held, chunk)
			prefix.WriteString(chunk.Content)
			if len(chunk.ToolCalls) > 0 {
				sniffing = false
				if !flush() {
					return
				}
				continue
			}
			lead := strings.TrimLeft(prefix.String(), " \t\r\n")
			if lead != "" && !looksLikeTextToolCall(lead) {
				sniffing = false
				if !flush() {
					return
				}
			}
		}

		if !sniffing || len(held) == 0 {
			return
		}
		full, err := schema.ConcatMessages(held)
		if err != nil {
			flush()
			return
		}
		w.Send(recoverToolCalls(full, m.toolNames), nil)
	}()
	return out, nil
}

const toolCallTag = "<tool_call>"

// looksLikeTextToolCall reports whether the start of a reply may be a
// tool call written as text. A partial tag counts.
func looksLikeTextToolCall(lead string) bool {
	switch {
	case strings.HasPrefix(lead, "{"), strings.HasPrefix(lead, "["):
		return true
	case strings.HasPrefix(lead, toolCallTag), strings.HasPrefix(toolCallTag, lead):
		return true
	}
	return false
}

// recoverToolCalls returns msg with text tool calls moved into
// ToolCalls, or msg unchanged when there are none.
func recoverToolCalls(msg *schema.Message, toolNames []string) *schema.Message {
	if msg == nil || len(msg.ToolCalls) > 0 || len(toolNames) == 0 || strings.TrimSpace(msg.Content) == "" {
		return msg
	}
	calls := llm.ParseTextToolCalls(msg.Content, toolNames)
	if len(calls) == 0 {
		return msg
	}

	out := *msg
	out.Content = ""
	out.ToolCalls = make([]schema.ToolCall, len(calls))
	for i, c := range calls {
		out.ToolCalls[i] = schema.ToolCall{
			ID:   "call_" + uuid.NewString(),
			Type: "function",
			Function: schema.FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		}
	}
	return &out
}
