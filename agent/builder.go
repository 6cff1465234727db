package agent

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentrelay/types"
)

// Builder 收集 Agent 的全部定义，Build 时一次性校验并冻结。
// 同一个 Builder 可以多次 Build，每次得到独立的 Agent。
type Builder struct {
	name         string
	instructions string
	model        string
	settings     ModelSettings
	tools        []FunctionTool
	handoffs     []*Handoff
	errs         []error
}

// NewBuilder 创建 Agent 构建器
func NewBuilder(name string) *Builder {
	return &Builder{name: strings.TrimSpace(name)}
}

// WithInstructions 设置系统指令
func (b *Builder) WithInstructions(instructions string) *Builder {
	b.instructions = instructions
	return b
}

// WithModel 设置模型标识
func (b *Builder) WithModel(model string) *Builder {
	b.model = model
	return b
}

// WithModelSettings 设置采样参数
func (b *Builder) WithModelSettings(s ModelSettings) *Builder {
	b.settings = s
	return b
}

// WithTool 添加函数工具
func (b *Builder) WithTool(tool FunctionTool) *Builder {
	b.tools = append(b.tools, tool)
	return b
}

// WithHandoff 添加已构造的交接
func (b *Builder) WithHandoff(h *Handoff) *Builder {
	if h == nil {
		b.errs = append(b.errs, fmt.Errorf("handoff cannot be nil"))
		return b
	}
	b.handoffs = append(b.handoffs, h)
	return b
}

// WithHandoffTo 构造并添加一个指向 target 的交接
func (b *Builder) WithHandoffTo(target *Agent, opts ...HandoffOption) *Builder {
	h, err := NewHandoff(target, opts...)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.handoffs = append(b.handoffs, h)
	return b
}

// Build 校验并返回不可变的 Agent
func (b *Builder) Build() (*Agent, error) {
	if len(b.errs) > 0 {
		return nil, types.Errorf(types.ErrInvalidRequest,
			"agent %q: builder has %d errors", b.name, len(b.errs)).WithCause(b.errs[0])
	}
	if b.name == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "agent name cannot be empty")
	}

	a := &Agent{
		name:         b.name,
		instructions: b.instructions,
		model:        b.model,
		settings:     b.settings,
		tools:        append([]FunctionTool(nil), b.tools...),
		handoffs:     append([]*Handoff(nil), b.handoffs...),
		toolIndex:    make(map[string]int, len(b.tools)),
		handoffIndex: make(map[string]int, len(b.handoffs)),
	}

	for i, t := range a.tools {
		if strings.TrimSpace(t.Name) == "" {
			return nil, types.Errorf(types.ErrInvalidRequest, "agent %q: tool #%d has no name", b.name, i)
		}
		if t.Handler == nil {
			return nil, types.Errorf(types.ErrInvalidRequest, "agent %q: tool %q has no handler", b.name, t.Name)
		}
		if _, dup := a.toolIndex[t.Name]; dup {
			return nil, types.Errorf(types.ErrInvalidRequest, "agent %q: duplicate tool name %q", b.name, t.Name)
		}
		a.toolIndex[t.Name] = i
	}
	for i, h := range a.handoffs {
		name := h.ToolName()
		if _, dup := a.handoffIndex[name]; dup {
			return nil, types.Errorf(types.ErrInvalidRequest, "agent %q: duplicate handoff tool name %q", b.name, name)
		}
		if _, clash := a.toolIndex[name]; clash {
			return nil, types.Errorf(types.ErrInvalidRequest,
				"agent %q: handoff tool name %q collides with a function tool", b.name, name)
		}
		a.handoffIndex[name] = i
	}
	return a, nil
}

// MustBuild is like Build but panics on error. Intended for static agent graphs.
func (b *Builder) MustBuild() *Agent {
	a, err := b.Build()
	if err != nil {
		panic(err)
	}
	return a
}
