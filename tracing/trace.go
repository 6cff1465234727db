package tracing

import (
	"maps"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// SpanType 区分 Span 的语义类别。
type SpanType string

const (
	SpanTypeAgent   SpanType = "agent"
	SpanTypeHandoff SpanType = "handoff"
)

// TraceConfig 描述一次运行的追踪参数。
type TraceConfig struct {
	WorkflowName string
	GroupID      string
	OwnerID      string
	Metadata     map[string]any
	// Disabled 仅对本次运行关闭追踪。
	Disabled bool
}

// Trace 是一次运行的根记录。惰性 Trace 的 ID 为空。
type Trace struct {
	ID           string         `json:"id"`
	WorkflowName string         `json:"workflow_name"`
	GroupID      string         `json:"group_id,omitempty"`
	OwnerID      string         `json:"owner_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Spans        []*Span        `json:"spans"`

	inert    bool
	mu       sync.Mutex
	otelSpan oteltrace.Span
}

// Inert reports whether the trace is a no-op handle.
func (t *Trace) Inert() bool { return t == nil || t.inert }

// Span 记录一个 Agent 回合或一次交接。
type Span struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"trace_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Type      SpanType       `json:"type"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`

	inert    bool
	trace    *Trace
	otelSpan oteltrace.Span
}

// Inert reports whether the span is a no-op handle.
func (s *Span) Inert() bool { return s == nil || s.inert }

var (
	inertTrace = &Trace{inert: true}
	inertSpan  = &Span{inert: true}
)

// Snapshot returns a deep copy of the trace that is safe to read while the
// run continues to append spans.
func (t *Trace) Snapshot() *Trace {
	if t.Inert() {
		return &Trace{inert: true}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := &Trace{
		ID:           t.ID,
		WorkflowName: t.WorkflowName,
		GroupID:      t.GroupID,
		OwnerID:      t.OwnerID,
		Metadata:     maps.Clone(t.Metadata),
		StartedAt:    t.StartedAt,
		EndedAt:      copyTime(t.EndedAt),
		Spans:        make([]*Span, 0, len(t.Spans)),
	}
	for _, s := range t.Spans {
		out.Spans = append(out.Spans, &Span{
			ID:        s.ID,
			TraceID:   s.TraceID,
			ParentID:  s.ParentID,
			Type:      s.Type,
			Name:      s.Name,
			Data:      maps.Clone(s.Data),
			StartedAt: s.StartedAt,
			EndedAt:   copyTime(s.EndedAt),
		})
	}
	return out
}

// Children returns the spans whose parent is parentID, in start order.
// An empty parentID selects root spans.
func (t *Trace) Children(parentID string) []*Span {
	if t.Inert() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Span
	for _, s := range t.Spans {
		if s.ParentID == parentID {
			out = append(out, s)
		}
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
