package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFromSchema(t *testing.T) {
	params := paramsFromSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "file path"},
			"mode": map[string]any{"type": "string", "enum": []any{"r", "rb"}},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"opts": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"depth": map[string]any{"type": "integer"},
				},
			},
		},
		"required": []any{"path"},
	})

	require.Len(t, params, 4)
	assert.Equal(t, schema.String, params["path"].Type)
	assert.Equal(t, "file path", params["path"].Desc)
	assert.True(t, params["path"].Required)
	assert.False(t, params["mode"].Required)
	assert.Equal(t, []string{"r", "rb"}, params["mode"].Enum)
	require.NotNil(t, params["tags"].ElemInfo)
	assert.Equal(t, schema.String, params["tags"].ElemInfo.Type)
	require.Contains(t, params["opts"].SubParams, "depth")
	assert.Equal(t, schema.Integer, params["opts"].SubParams["depth"].Type)
}

func TestEinoTools(t *testing.T) {
	r := NewRegistry(nil, quietLogger())
	r.Register(echoTool("echo", false))
	r.Register(&Tool{
		Name:       "broken",
		Parameters: map[string]any{"type": "object"},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("disk on fire")
		},
	})
	r.Register(&Tool{
		Name:       "slow",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})

	all := r.EinoTools()
	require.Len(t, all, 3)
	only := r.EinoTools("echo")
	require.Len(t, only, 1)

	info, err := only[0].Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "echo", info.Name)
	assert.Equal(t, "echo the text argument", info.Desc)

	byName := map[string]tool.InvokableTool{}
	for _, bt := range all {
		it, ok := bt.(tool.InvokableTool)
		require.True(t, ok)
		i, err := it.Info(context.Background())
		require.NoError(t, err)
		byName[i.Name] = it
	}

	out, err := byName["echo"].InvokableRun(context.Background(), `{"text":"pong"}`)
	require.NoError(t, err)
	assert.Equal(t, "pong", out)

	out, err = byName["broken"].InvokableRun(context.Background(), `{}`)
	require.NoError(t, err, "handler errors go back to the model as text")
	assert.Equal(t, "Error: disk on fire", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = byName["slow"].InvokableRun(ctx, `{}`)
	assert.ErrorIs(t, err, context.Canceled)
}
