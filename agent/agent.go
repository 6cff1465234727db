package agent

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/agentrelay/types"
)

// ModelSettings 是单个 Agent 的采样参数，零值表示使用 Provider 默认值。
type ModelSettings struct {
	Temperature float32 `json:"temperature,omitempty" yaml:"temperature"`
	TopP        float32 `json:"top_p,omitempty" yaml:"top_p"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	ToolChoice  string  `json:"tool_choice,omitempty" yaml:"tool_choice"`
}

// ToolHandler executes a function tool with the raw JSON arguments from the model.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// FunctionTool is a regular callable tool exposed to the model.
type FunctionTool struct {
	Name        string
	Description string
	Parameters  *types.JSONSchema
	Handler     ToolHandler
}

// Schema returns the tool definition sent to the model.
func (t FunctionTool) Schema() types.ToolSchema {
	params := t.Parameters
	if params == nil {
		params = types.NewObjectSchema()
	}
	raw, _ := params.ToJSON()
	return types.ToolSchema{Name: t.Name, Description: t.Description, Parameters: raw}
}

// Agent 是不可变的对话参与者，只能通过 Builder 创建。
// 所有访问器返回副本，可以在多个请求之间安全共享。
type Agent struct {
	name         string
	instructions string
	model        string
	settings     ModelSettings
	tools        []FunctionTool
	handoffs     []*Handoff

	toolIndex    map[string]int
	handoffIndex map[string]int
}

func (a *Agent) Name() string            { return a.name }
func (a *Agent) Instructions() string    { return a.instructions }
func (a *Agent) Model() string           { return a.model }
func (a *Agent) Settings() ModelSettings { return a.settings }

// Tools returns a copy of the agent's function tools in declaration order.
func (a *Agent) Tools() []FunctionTool {
	return append([]FunctionTool(nil), a.tools...)
}

// Handoffs returns a copy of the agent's handoffs in declaration order.
func (a *Agent) Handoffs() []*Handoff {
	return append([]*Handoff(nil), a.handoffs...)
}

// ToolSchemas returns function tool schemas followed by handoff tool schemas.
func (a *Agent) ToolSchemas() []types.ToolSchema {
	out := make([]types.ToolSchema, 0, len(a.tools)+len(a.handoffs))
	for _, t := range a.tools {
		out = append(out, t.Schema())
	}
	for _, h := range a.handoffs {
		out = append(out, h.Schema())
	}
	return out
}

// HandoffByToolName returns the handoff whose generated tool name matches.
func (a *Agent) HandoffByToolName(name string) (*Handoff, bool) {
	i, ok := a.handoffIndex[name]
	if !ok {
		return nil, false
	}
	return a.handoffs[i], true
}

// ToolByName returns the function tool with the given name.
func (a *Agent) ToolByName(name string) (FunctionTool, bool) {
	i, ok := a.toolIndex[name]
	if !ok {
		return FunctionTool{}, false
	}
	return a.tools[i], true
}

// findHandoffCall returns the first tool call that targets a handoff.
func (a *Agent) findHandoffCall(calls []types.ToolCall) (types.ToolCall, *Handoff, bool) {
	for _, c := range calls {
		if h, ok := a.HandoffByToolName(c.Name); ok {
			return c, h, true
		}
	}
	return types.ToolCall{}, nil, false
}

func (a *Agent) String() string { return "Agent(" + a.name + ")" }
