// MockProvider 是 llm.Provider 的脚本化测试实现。
//
// 支持按 Agent 指令分派回复、流式分片输出与错误注入场景。
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/types"
)

// --- 回复脚本 ---

// Reply 是一次补全调用的脚本化结果
type Reply struct {
	Content   string
	ToolCalls []types.ToolCall
}

// Text 构造纯文本回复
func Text(content string) Reply {
	return Reply{Content: content}
}

// ToolCall 构造单个工具调用回复，args 原样作为参数（可以是非法 JSON）
func ToolCall(name, args string) Reply {
	return Reply{ToolCalls: []types.ToolCall{{
		ID:        "call_" + name,
		Name:      name,
		Arguments: json.RawMessage(args),
	}}}
}

// Handoff 构造交接工具调用回复
func Handoff(toolName, reason string) Reply {
	args, _ := json.Marshal(map[string]string{"reason": reason})
	return ToolCall(toolName, string(args))
}

// ScriptFunc 根据请求决定回复
type ScriptFunc func(req *llm.ChatRequest) (Reply, error)

// SystemPrompt 返回请求中的系统指令（没有则为空）
func SystemPrompt(req *llm.ChatRequest) string {
	if len(req.Messages) > 0 && req.Messages[0].Role == types.RoleSystem {
		return req.Messages[0].Content
	}
	return ""
}

// ByInstructions 按系统指令分派回复；同一指令的多条回复依次使用，用尽后重复最后一条
func ByInstructions(script map[string][]Reply) ScriptFunc {
	var mu sync.Mutex
	used := make(map[string]int)
	return func(req *llm.ChatRequest) (Reply, error) {
		key := SystemPrompt(req)
		replies, ok := script[key]
		if !ok || len(replies) == 0 {
			return Reply{}, fmt.Errorf("mock provider: no script for instructions %q", key)
		}
		mu.Lock()
		i := used[key]
		used[key]++
		mu.Unlock()
		if i >= len(replies) {
			i = len(replies) - 1
		}
		return replies[i], nil
	}
}

// Sequence 按调用顺序返回回复，用尽后重复最后一条
func Sequence(replies ...Reply) ScriptFunc {
	var mu sync.Mutex
	n := 0
	return func(*llm.ChatRequest) (Reply, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return Reply{}, errors.New("mock provider: empty sequence")
		}
		i := n
		if i >= len(replies) {
			i = len(replies) - 1
		}
		n++
		return replies[i], nil
	}
}

// --- MockProvider 结构 ---

// MockProvider 是 LLM Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	script    ScriptFunc
	err       error
	failAfter int
	chunkSize int
	delay     time.Duration

	calls     []MockProviderCall
	callCount int
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request *llm.ChatRequest
	Stream  bool
	Reply   Reply
	Error   error
}

var _ llm.Provider = (*MockProvider)(nil)

// NewMockProvider 创建新的 MockProvider，默认总是回复 "Mock response"
func NewMockProvider() *MockProvider {
	return &MockProvider{
		script:    Sequence(Text("Mock response")),
		chunkSize: 4,
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(content string) *MockProvider {
	return m.WithScript(Sequence(Text(content)))
}

// WithReplies 按顺序返回给定回复
func (m *MockProvider) WithReplies(replies ...Reply) *MockProvider {
	return m.WithScript(Sequence(replies...))
}

// WithScript 设置自定义脚本
func (m *MockProvider) WithScript(fn ScriptFunc) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = fn
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithChunkSize 设置流式输出时每个分片的字节数（<=0 表示整段输出）
func (m *MockProvider) WithChunkSize(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkSize = n
	return m
}

// WithDelay 设置每次调用的延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- 调用记录 ---

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest 返回最后一次请求
func (m *MockProvider) LastRequest() *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].Request
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string { return "mock" }

// HealthCheck 执行健康检查
func (m *MockProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

func (m *MockProvider) next(ctx context.Context, req *llm.ChatRequest, stream bool) (Reply, int, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	script, presetErr, failAfter, delay, chunk := m.script, m.err, m.failAfter, m.delay, m.chunkSize
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Reply{}, chunk, ctx.Err()
		case <-time.After(delay):
		}
	}

	var (
		reply Reply
		err   error
	)
	switch {
	case failAfter > 0 && n > failAfter:
		err = &llm.Error{Code: llm.ErrUpstreamError, Message: "mock provider: configured to fail after N calls", Provider: "mock"}
	case presetErr != nil:
		err = presetErr
	default:
		reply, err = script(req)
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Stream: stream, Reply: reply, Error: err})
	m.mu.Unlock()
	return reply, chunk, err
}

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	reply, _, err := m.next(ctx, req, false)
	if err != nil {
		return nil, err
	}
	finish := "stop"
	if len(reply.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &llm.ChatResponse{
		ID:       fmt.Sprintf("mock-%d", m.CallCount()),
		Provider: "mock",
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: finish,
			Message: types.Message{
				Role:      types.RoleAssistant,
				Content:   reply.Content,
				ToolCalls: reply.ToolCalls,
			},
		}},
		CreatedAt: time.Now(),
	}, nil
}

// Stream 流式生成响应：文本与工具参数都按 chunkSize 切片发送
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	reply, size, err := m.next(ctx, req, true)
	if err != nil {
		return nil, err
	}

	chunks := make([]llm.StreamChunk, 0)
	for _, part := range split(reply.Content, size) {
		chunks = append(chunks, llm.StreamChunk{
			Provider: "mock",
			Delta:    types.Message{Role: types.RoleAssistant, Content: part},
		})
	}
	for i, tc := range reply.ToolCalls {
		parts := split(string(tc.Arguments), size)
		if len(parts) == 0 {
			parts = []string{""}
		}
		for j, part := range parts {
			frag := types.ToolCall{Index: i}
			if j == 0 {
				frag.ID = tc.ID
				frag.Name = tc.Name
			}
			if part != "" {
				frag.Arguments = json.RawMessage(part)
			}
			chunks = append(chunks, llm.StreamChunk{
				Provider: "mock",
				Delta:    types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{frag}},
			})
		}
	}
	finish := "stop"
	if len(reply.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	chunks = append(chunks, llm.StreamChunk{Provider: "mock", FinishReason: finish})

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

func split(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	out := make([]string, 0, len(s)/size+1)
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}
