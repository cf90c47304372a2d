package agent

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

func TestLooksLikeTextToolCall(t *testing.T) {
	tests := []struct {
		lead string
		want bool
	}{
		{`{"name"`, true},
		{`[{"name"`, true},
		{"<tool_call>", true},
		{"<tool", true},
		{"<", true},
		{"Hello", false},
		{"<b>bold</b>", false},
	}
	for _, tt := range tests {
		if got := looksLikeTextToolCall(tt.lead); got != tt.want {
			t.Errorf("looksLikeTextToolCall(%q) = %v, want %v", tt.lead, got, tt.want)
		}
	}
}

func TestRecoverToolCalls(t *testing.T) {
	names := []string{"read_file"}

	msg := schema.AssistantMessage(`<tool_call>{"name":"read_file","arguments":{"filename":"a.txt"}}</tool_call>`, nil)
	got := recoverToolCalls(msg, names)
	if got.Content != "" || len(got.ToolCalls) != 1 {
		t.Fatalf("got = %+v", got)
	}
	call := got.ToolCalls[0]
	if call.Function.Name != "read_file" || call.Function.Arguments != `{"filename":"a.txt"}` || call.Type != "function" {
		t.Errorf("call = %+v", call)
	}
	if msg.Content == "" {
		t.Error("input message was modified")
	}

	plain := schema.AssistantMessage("just text", nil)
	if recoverToolCalls(plain, names) != plain {
		t.Error("plain message should be returned unchanged")
	}
	unknown := schema.AssistantMessage(`{"name":"rm_rf","arguments":{}}`, nil)
	if got := recoverToolCalls(unknown, names); len(got.ToolCalls) != 0 {
		t.Errorf("unknown tool recovered: %+v", got.ToolCalls)
	}
}

func collect(t *testing.T, sr *schema.StreamReader[*schema.Message]) []*schema.Message {
	t.Helper()
	defer sr.Close()
	var out []*schema.Message
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		out = append(out, msg)
	}
}

func TestTextToolModel_StreamPassThrough(t *testing.T) {
	inner := &chunkModel{chunks: []string{"Hel", "lo ", "there"}}
	m, err := newTextToolModel(inner).WithTools([]*schema.ToolInfo{{Name: "echo"}})
	if err != nil {
		t.Fatal(err)
	}
	sr, err := m.Stream(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, sr)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3 passed through", len(got))
	}
	if got[0].Content != "Hel" || got[2].Content != "there" {
		t.Errorf("chunks = %q %q %q", got[0].Content, got[1].Content, got[2].Content)
	}
}

func TestTextToolModel_StreamBuffersToolCall(t *testing.T) {
	inner := &chunkModel{chunks: []string{`{"name":"ec`, `ho","arguments":`, `{"text":"x"}}`}}
	m, err := newTextToolModel(inner).WithTools([]*schema.ToolInfo{{Name: "echo"}})
	if err != nil {
		t.Fatal(err)
	}
	sr, err := m.Stream(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, sr)
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1 buffered message", len(got))
	}
	if len(got[0].ToolCalls) != 1 || got[0].ToolCalls[0].Function.Name != "echo" {
		t.Errorf("message = %+v", got[0])
	}
}

func TestTextToolModel_StreamNotAToolCall(t *testing.T) {
	inner := &chunkModel{chunks: []string{`{"weather":`, `"sunny"}`}}
	m, err := newTextToolModel(inner).WithTools([]*schema.ToolInfo{{Name: "echo"}})
	if err != nil {
		t.Fatal(err)
	}
	sr, err := m.Stream(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, sr)
	if len(got) != 1 || got[0].Content != `{"weather":"sunny"}` || len(got[0].ToolCalls) != 0 {
		t.Errorf("got = %+v", got)
	}
}

// chunkModel streams fixed content chunks.
type chunkModel struct {
	scriptedModel
	chunks []string
}

func (c *chunkModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msgs := make([]*schema.Message, len(c.chunks))
	for i, s := range c.chunks {
		msgs[i] = schema.AssistantMessage(s, nil)
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (c *chunkModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return c, nil
}
