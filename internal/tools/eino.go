package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// einoTool exposes one registry tool to an eino agent.
type einoTool struct {
	reg  *Registry
	tool *Tool
}

var _ tool.InvokableTool = (*einoTool)(nil)

func (e *einoTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        e.tool.Name,
		Desc:        e.tool.Description,
		ParamsOneOf: schema.NewParamsOneOfByParams(paramsFromSchema(e.tool.Parameters)),
	}, nil
}

// InvokableRun executes the tool. Handler failures are returned to the
// model as text so it can recover; only cancellation aborts the run.
func (e *einoTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	result, err := e.reg.Execute(ctx, e.tool.Name, argumentsInJSON)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return fmt.Sprintf("Error: %v", err), nil
	}
	return result, nil
}

// EinoTools returns the registered tools as eino tools, sorted by name.
// With names given, only those tools are returned.
func (r *Registry) EinoTools(names ...string) []tool.BaseTool {
	var out []tool.BaseTool
	for _, name := range r.Names() {
		if len(names) > 0 && !slices.Contains(names, name) {
			continue
		}
		out = append(out, &einoTool{reg: r, tool: r.Get(name)})
	}
	return out
}

// paramsFromSchema converts a JSON-schema object definition into eino
// parameter descriptions.
func paramsFromSchema(def map[string]any) map[string]*schema.ParameterInfo {
	props, _ := def["properties"].(map[string]any)
	required := stringList(def["required"])

	params := make(map[string]*schema.ParameterInfo, len(props))
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		info := paramInfo(prop)
		info.Required = slices.Contains(required, name)
		params[name] = info
	}
	return params
}

func paramInfo(prop map[string]any) *schema.ParameterInfo {
	typ, _ := prop["type"].(string)
	if typ == "" {
		typ = string(schema.String)
	}
	desc, _ := prop["description"].(string)
	info := &schema.ParameterInfo{
		Type: schema.DataType(typ),
		Desc: desc,
		Enum: stringList(prop["enum"]),
	}
	switch info.Type {
	case schema.Array:
		if items, ok := prop["items"].(map[string]any); ok {
			info.ElemInfo = paramInfo(items)
		}
	case schema.Object:
		if _, ok := prop["properties"]; ok {
			info.SubParams = paramsFromSchema(prop)
		}
	}
	return info
}

// stringList accepts []string or a decoded JSON []any.
func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, s := range vv {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
