package agent

import (
	"maps"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/types"
)

// DefaultMaxTurns 是 Runner 与 RunConfig 都未设置时单次运行的跳数上限
const DefaultMaxTurns = 10

// RunConfig 是一次运行的参数。指针字段为 nil 表示沿用 Agent 自身的模型设置。
type RunConfig struct {
	// <= 0 时使用 Runner 的默认上限
	MaxTurns int `json:"max_turns,omitempty"`
	// 之前的对话，只读取不修改
	History []types.Message `json:"history,omitempty"`

	WorkflowName    string `json:"workflow_name,omitempty"`
	GroupID         string `json:"group_id,omitempty"`
	OwnerID         string `json:"owner_id,omitempty"`
	TracingDisabled bool   `json:"tracing_disabled,omitempty"`

	Model       *string           `json:"model,omitempty"`
	Temperature *float32          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	TopP        *float32          `json:"top_p,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (rc *RunConfig) turnLimit(fallback int) int {
	if rc.MaxTurns > 0 {
		return rc.MaxTurns
	}
	return fallback
}

// overrideModel 把运行级覆盖写进每一跳的请求；Metadata 按 key 合并
func (rc *RunConfig) overrideModel(req *llm.ChatRequest) {
	override(&req.Model, rc.Model)
	override(&req.Temperature, rc.Temperature)
	override(&req.MaxTokens, rc.MaxTokens)
	override(&req.TopP, rc.TopP)
	if len(rc.Metadata) == 0 {
		return
	}
	if req.Metadata == nil {
		req.Metadata = make(map[string]string, len(rc.Metadata))
	}
	maps.Copy(req.Metadata, rc.Metadata)
}

func override[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Ptr 返回 v 的指针，便于填写 RunConfig 的覆盖字段
func Ptr[T any](v T) *T { return &v }
