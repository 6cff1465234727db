package agent

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/types"
)

// streamHop consumes one streamed completion. Text deltas are forwarded as
// they arrive; tool calls are only returned once the stream has closed.
func (r *Runner) streamHop(ctx context.Context, req *llm.ChatRequest, cb *StreamCallbacks) (hopResponse, error) {
	ch, err := r.provider.Stream(ctx, req)
	if err != nil {
		return hopResponse{}, err
	}

	var text strings.Builder
	acc := newToolCallAccumulator()
	for chunk := range ch {
		if chunk.Err != nil {
			go drain(ch)
			return hopResponse{}, chunk.Err
		}
		if chunk.Delta.Content != "" {
			text.WriteString(chunk.Delta.Content)
			cb.token(chunk.Delta.Content)
		}
		acc.add(chunk.Delta.ToolCalls)
	}
	if err := ctx.Err(); err != nil {
		return hopResponse{}, err
	}
	return hopResponse{content: text.String(), toolCalls: acc.calls()}, nil
}

func drain(ch <-chan llm.StreamChunk) {
	for range ch {
	}
}

// toolCallAccumulator merges streamed tool-call fragments by index.
type toolCallAccumulator struct {
	byIndex map[int]*partialCall
}

type partialCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*partialCall)}
}

func (a *toolCallAccumulator) add(frags []types.ToolCall) {
	for _, f := range frags {
		p, ok := a.byIndex[f.Index]
		if !ok {
			p = &partialCall{}
			a.byIndex[f.Index] = p
		}
		if f.ID != "" {
			p.id = f.ID
		}
		p.name.WriteString(f.Name)
		p.args.Write(f.Arguments)
	}
}

func (a *toolCallAccumulator) calls() []types.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	idx := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]types.ToolCall, 0, len(idx))
	for _, i := range idx {
		p := a.byIndex[i]
		var args json.RawMessage
		if p.args.Len() > 0 {
			args = json.RawMessage(p.args.String())
		}
		out = append(out, types.ToolCall{
			Index:     i,
			ID:        p.id,
			Name:      p.name.String(),
			Arguments: args,
		})
	}
	return out
}
