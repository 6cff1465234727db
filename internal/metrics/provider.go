package metrics

import (
	"context"
	"time"

	"github.com/BaSui01/agentrelay/llm"
)

// InstrumentedProvider 为 Provider 的每次调用记录请求数、耗时与 token 用量
type InstrumentedProvider struct {
	llm.Provider
	collector *Collector
}

// InstrumentProvider 包装 p，collector 为 nil 时原样返回
func InstrumentProvider(p llm.Provider, c *Collector) llm.Provider {
	if c == nil {
		return p
	}
	return &InstrumentedProvider{Provider: p, collector: c}
}

func (p *InstrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.Provider.Completion(ctx, req)
	if err != nil {
		p.collector.RecordLLMRequest(p.Name(), req.Model, "error", time.Since(start), 0, 0)
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	p.collector.RecordLLMRequest(p.Name(), model, "success", time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

// Stream 转发所有 chunk，流结束时按最后一次带 usage 的 chunk 记账
func (p *InstrumentedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	start := time.Now()
	in, err := p.Provider.Stream(ctx, req)
	if err != nil {
		p.collector.RecordLLMRequest(p.Name(), req.Model, "error", time.Since(start), 0, 0)
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		status := "success"
		var usage llm.ChatUsage
		for chunk := range in {
			if chunk.Err != nil {
				status = "error"
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				status = "cancelled"
				// 上游会在 ctx 取消后关闭通道
				for range in {
				}
				p.collector.RecordLLMRequest(p.Name(), req.Model, status, time.Since(start), usage.PromptTokens, usage.CompletionTokens)
				return
			}
		}
		p.collector.RecordLLMRequest(p.Name(), req.Model, status, time.Since(start), usage.PromptTokens, usage.CompletionTokens)
	}()
	return out, nil
}

// Unwrap 返回被包装的 Provider，供探活等可选接口断言使用
func (p *InstrumentedProvider) Unwrap() llm.Provider {
	return p.Provider
}
