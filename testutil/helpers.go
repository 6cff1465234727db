package testutil

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/types"
)

// TestContext 返回 30 秒后超时的上下文，测试结束时取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Transcript 一次流式响应读完后的汇总
type Transcript struct {
	Content string
	// ToolCalls 按 Index 合并片段后的完整调用
	ToolCalls    []types.ToolCall
	FinishReason string
	Usage        *llm.ChatUsage
	Chunks       int
}

// DrainStream 读完整个流。遇到错误分片时返回已汇总的部分和该错误，
// 剩余分片仍会被读掉，避免发送方阻塞
func DrainStream(ch <-chan llm.StreamChunk) (Transcript, error) {
	var (
		out     Transcript
		text    strings.Builder
		calls   = map[int]*types.ToolCall{}
		args    = map[int]*strings.Builder{}
		failure error
	)
	for c := range ch {
		if failure != nil {
			continue
		}
		out.Chunks++
		if c.Err != nil {
			failure = c.Err
			continue
		}
		text.WriteString(c.Delta.Content)
		for _, frag := range c.Delta.ToolCalls {
			call, ok := calls[frag.Index]
			if !ok {
				call = &types.ToolCall{Index: frag.Index}
				calls[frag.Index] = call
				args[frag.Index] = &strings.Builder{}
			}
			if frag.ID != "" {
				call.ID = frag.ID
			}
			call.Name += frag.Name
			args[frag.Index].Write(frag.Arguments)
		}
		if c.FinishReason != "" {
			out.FinishReason = c.FinishReason
		}
		if c.Usage != nil {
			out.Usage = c.Usage
		}
	}

	out.Content = text.String()
	for i, call := range calls {
		call.Arguments = []byte(args[i].String())
		out.ToolCalls = append(out.ToolCalls, *call)
	}
	sort.Slice(out.ToolCalls, func(a, b int) bool { return out.ToolCalls[a].Index < out.ToolCalls[b].Index })
	return out, failure
}

// CollectStreamContent 只关心文本时使用
func CollectStreamContent(ch <-chan llm.StreamChunk) (string, error) {
	tr, err := DrainStream(ch)
	return tr.Content, err
}
