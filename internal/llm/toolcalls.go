package llm

import (
	"bytes"
	"encoding/json"
	"regexp"
	"slices"
	"strings"
)

// TextToolCall is a tool invocation recovered from plain model output.
type TextToolCall struct {
	Name string
	// Arguments is a JSON object.
	Arguments string
}

type rawCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// bareCallPattern matches "tool_name {" at the start of content.
var bareCallPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s+\{`)

// ParseTextToolCalls extracts tool calls that a model wrote into its
// message content instead of the structured tool_calls field. Smaller
// local models do this often. Recognized shapes:
//
//	{"name": "...", "arguments": {...}}
//	[{"name": ...}, {"name": ...}]
//	{"name": ...}{"name": ...}          (concatenated, trailing prose ignored)
//	<tool_call>{"name": ...}</tool_call>
//	tool_name {"arg": ...}
//
// When validTools is non-empty, calls naming other tools are dropped.
func ParseTextToolCalls(content string, validTools []string) []TextToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		content = content[start+len("<tool_call>"):]
		if end := strings.Index(content, "</tool_call>"); end != -1 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}

	var raws []rawCall
	switch {
	case strings.HasPrefix(content, "["):
		if err := json.Unmarshal([]byte(content), &raws); err != nil {
			return nil
		}
	case strings.HasPrefix(content, "{"):
		dec := json.NewDecoder(strings.NewReader(content))
		for {
			var rc rawCall
			if err := dec.Decode(&rc); err != nil {
				break
			}
			raws = append(raws, rc)
		}
	default:
		m := bareCallPattern.FindStringSubmatchIndex(content)
		if m == nil {
			return nil
		}
		name := content[m[2]:m[3]]
		dec := json.NewDecoder(strings.NewReader(content[m[1]-1:]))
		var args json.RawMessage
		if err := dec.Decode(&args); err != nil {
			return nil
		}
		raws = []rawCall{{Name: name, Arguments: args}}
	}

	var calls []TextToolCall
	for _, rc := range raws {
		if rc.Name == "" {
			continue
		}
		if len(validTools) > 0 && !slices.Contains(validTools, rc.Name) {
			continue
		}
		args := bytes.TrimSpace(rc.Arguments)
		if len(args) == 0 || bytes.Equal(args, []byte("null")) {
			args = []byte("{}")
		}
		calls = append(calls, TextToolCall{Name: rc.Name, Arguments: string(args)})
	}
	return calls
}
