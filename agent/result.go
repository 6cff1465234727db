package agent

import (
	"context"
	"time"

	"github.com/BaSui01/agentrelay/types"
)

// HandoffEvent records one taken handoff.
type HandoffEvent struct {
	From   string         `json:"from"`
	To     string         `json:"to"`
	Reason string         `json:"reason"`
	Data   map[string]any `json:"data,omitempty"`
	At     time.Time      `json:"at"`
}

// RunResult is returned by both Run and RunStreamed.
type RunResult struct {
	Success         bool            `json:"success"`
	FinalOutput     string          `json:"final_output"`
	HandoffPath     []string        `json:"handoff_path"`
	Handoffs        []HandoffEvent  `json:"handoffs"`
	Elapsed         time.Duration   `json:"elapsed"`
	TraceID         string          `json:"trace_id,omitempty"`
	Error           string          `json:"error,omitempty"`
	Turns           int             `json:"turns"`
	LastAgent       string          `json:"last_agent"`
	MaxTurnsReached bool            `json:"max_turns_reached,omitempty"`
	History         []types.Message `json:"history,omitempty"`
}

// StreamCallbacks receives streaming events. Every field is optional.
//
// OnStart fires once, OnToken per non-empty text delta, OnHandoff once per
// hop before the agent switch, OnError at most once, and OnComplete exactly
// once at the end, including after a failure.
type StreamCallbacks struct {
	OnStart    func()
	OnToken    func(text string)
	OnHandoff  func(from, to, reason string, data map[string]any)
	OnError    func(err error)
	OnComplete func(result *RunResult)
}

func (cb *StreamCallbacks) start() {
	if cb.OnStart != nil {
		cb.OnStart()
	}
}

func (cb *StreamCallbacks) token(text string) {
	if cb.OnToken != nil && text != "" {
		cb.OnToken(text)
	}
}

func (cb *StreamCallbacks) handoff(ev HandoffEvent) {
	if cb.OnHandoff != nil {
		cb.OnHandoff(ev.From, ev.To, ev.Reason, ev.Data)
	}
}

func (cb *StreamCallbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (cb *StreamCallbacks) complete(res *RunResult) {
	if cb.OnComplete != nil {
		cb.OnComplete(res)
	}
}

// HandoffSink persists handoff audit records. Writes are best-effort.
type HandoffSink interface {
	RecordHandoff(ctx context.Context, traceID string, ev HandoffEvent) error
}

// Metrics receives run counters. internal/metrics.Collector implements it.
type Metrics interface {
	RecordRun(rootAgent string, success bool, duration time.Duration)
	RecordHop(agentName string)
	RecordHandoff(from, to string)
}

type nopMetrics struct{}

func (nopMetrics) RecordRun(string, bool, time.Duration) {}
func (nopMetrics) RecordHop(string)                      {}
func (nopMetrics) RecordHandoff(string, string)          {}
