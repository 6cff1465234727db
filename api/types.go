package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/store"
	"github.com/BaSui01/agentrelay/tracing"
	"github.com/BaSui01/agentrelay/types"
	"github.com/BaSui01/agentrelay/workflow"
)

// AutoRoute 让服务端用分类器选择入口 Agent
const AutoRoute = "auto"

// =============================================================================
// 直接对话
// =============================================================================

// ChatRequest 直接对话请求
// @Description 以某个 Agent 为入口运行一次委派
type ChatRequest struct {
	// 入口 Agent 的 key；为空使用默认 Agent，"auto" 由分类器选择
	Agent string `json:"agent,omitempty" example:"triage"`
	// 用户消息
	Message string `json:"message" example:"I was charged twice" binding:"required"`
	// 之前的对话历史
	History []types.Message `json:"history,omitempty"`
	// 覆盖 Agent 的模型
	Model *string `json:"model,omitempty" example:"gpt-4o-mini"`
	// 采样温度（0-2）
	Temperature *float32 `json:"temperature,omitempty" example:"0.3"`
	// 生成的最大 token 数量
	MaxTokens *int `json:"max_tokens,omitempty" example:"1024"`
	// 本次运行的最大轮次
	MaxTurns int `json:"max_turns,omitempty" example:"8"`
	// 关联同一会话的多次运行
	GroupID string `json:"group_id,omitempty" example:"conv-42"`
	// 自定义元数据
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChatResponse 直接对话响应
// @Description 委派运行结果
type ChatResponse struct {
	Output          string               `json:"output"`
	Agent           string               `json:"agent"`
	LastAgent       string               `json:"last_agent"`
	HandoffPath     []string             `json:"handoff_path"`
	Handoffs        []agent.HandoffEvent `json:"handoffs,omitempty"`
	Turns           int                  `json:"turns"`
	MaxTurnsReached bool                 `json:"max_turns_reached,omitempty"`
	TraceID         string               `json:"trace_id,omitempty"`
	ElapsedMS       int64                `json:"elapsed_ms"`
}

// StreamEvent 类型，SSE 的 event 字段与 WebSocket 消息的 type 字段取这些值
const (
	EventStart    = "start"
	EventToken    = "token"
	EventHandoff  = "handoff"
	EventError    = "error"
	EventComplete = "complete"
)

// StreamEvent 流式事件
// @Description SSE / WebSocket 事件
type StreamEvent struct {
	Type   string         `json:"type"`
	Agent  string         `json:"agent,omitempty"`
	Token  string         `json:"token,omitempty"`
	From   string         `json:"from,omitempty"`
	To     string         `json:"to,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
	Result *ChatResponse  `json:"result,omitempty"`
}

// NewChatResponse 从运行结果构建响应
func NewChatResponse(entry string, res *agent.RunResult) *ChatResponse {
	return &ChatResponse{
		Output:          res.FinalOutput,
		Agent:           entry,
		LastAgent:       res.LastAgent,
		HandoffPath:     res.HandoffPath,
		Handoffs:        res.Handoffs,
		Turns:           res.Turns,
		MaxTurnsReached: res.MaxTurnsReached,
		TraceID:         res.TraceID,
		ElapsedMS:       res.Elapsed.Milliseconds(),
	}
}

// =============================================================================
// 工作流
// =============================================================================

// SaveWorkflowRequest 保存工作流
// @Description 工作流图定义，graph 为 {nodes, edges}
type SaveWorkflowRequest struct {
	ID          string          `json:"id,omitempty" example:"research-pipeline"`
	Name        string          `json:"name" example:"Research pipeline" binding:"required"`
	Description string          `json:"description,omitempty"`
	Graph       json.RawMessage `json:"graph" swaggertype:"object" binding:"required"`
}

// WorkflowResponse 工作流详情
type WorkflowResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner_id,omitempty"`
	Graph       json.RawMessage `json:"graph" swaggertype:"object"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewWorkflowResponse 转换持久化记录
func NewWorkflowResponse(wf *store.Workflow) *WorkflowResponse {
	return &WorkflowResponse{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		OwnerID:     wf.OwnerID,
		Graph:       json.RawMessage(wf.Graph),
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
}

// RunWorkflowRequest 运行工作流
type RunWorkflowRequest struct {
	Input string `json:"input" example:"Summarize the Go memory model"`
	// 为 true 时同步等待执行结束
	Wait bool `json:"wait,omitempty"`
}

// RunWorkflowResponse 异步运行只返回任务 ID 与状态；wait=true 时附带执行结果
type RunWorkflowResponse struct {
	TaskID string           `json:"task_id"`
	Status store.TaskStatus `json:"status"`
	Result *workflow.Result `json:"result,omitempty"`
}

// =============================================================================
// 任务
// =============================================================================

// TaskResponse 任务详情及其步骤与指令
type TaskResponse struct {
	Task         *store.Task             `json:"task"`
	Steps        []store.TaskStep        `json:"steps"`
	Instructions []store.TaskInstruction `json:"instructions"`
}

// InstructionRequest 运行中注入指令
type InstructionRequest struct {
	Content string `json:"content" example:"Keep the answer under 100 words" binding:"required"`
}

// =============================================================================
// 追踪
// =============================================================================

// TraceResponse 追踪树及交接审计
type TraceResponse struct {
	Trace    *tracing.Trace        `json:"trace"`
	Handoffs []store.HandoffRecord `json:"handoffs"`
}
