package store

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/tracing"
	"github.com/BaSui01/agentrelay/types"
	"github.com/google/uuid"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// TaskStore persists task status, per-node steps and runtime instructions.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	// GetTaskStatus is the executor's polling read.
	GetTaskStatus(ctx context.Context, id string) (TaskStatus, error)
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error
	// FinishTask sets a status together with the final result.
	FinishTask(ctx context.Context, id string, status TaskStatus, result string) error
	ListTasks(ctx context.Context, userID string, limit int) ([]Task, error)

	CreateStep(ctx context.Context, step *TaskStep) error
	CompleteStep(ctx context.Context, stepID, output string) error
	ListSteps(ctx context.Context, taskID string) ([]TaskStep, error)

	AddInstruction(ctx context.Context, in *TaskInstruction) error
	// ClaimInstruction marks the oldest unapplied instruction as applied and
	// returns it. It returns (nil, nil) when none is pending.
	ClaimInstruction(ctx context.Context, taskID string) (*TaskInstruction, error)
	ListInstructions(ctx context.Context, taskID string) ([]TaskInstruction, error)
}

// WorkflowStore persists workflow graph definitions.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, ownerID string) ([]Workflow, error)
}

// TraceStore persists finished traces and serves the query surface.
type TraceStore interface {
	tracing.Exporter
	GetTrace(ctx context.Context, id string) (*tracing.Trace, error)
	// ListTraces returns the owner's traces, newest first.
	ListTraces(ctx context.Context, ownerID string, limit int) ([]*tracing.Trace, error)
}

// HandoffStore keeps the handoff audit trail.
type HandoffStore interface {
	agent.HandoffSink
	ListHandoffs(ctx context.Context, traceID string) ([]HandoffRecord, error)
}

// Store 组合全部持久化能力
type Store interface {
	TaskStore
	WorkflowStore
	TraceStore
	HandoffStore
}

// DefaultListLimit 列表查询的默认条数
const DefaultListLimit = 50

// NewID 生成记录 ID
func NewID() string { return uuid.NewString() }

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}

func invalidMove(id string, from, to TaskStatus) error {
	return types.Errorf(types.ErrInvalidTaskMove, "task %s cannot move from %s to %s", id, from, to)
}

func invalidStatus(status TaskStatus) error {
	return types.Errorf(types.ErrInvalidRequest, "unknown task status %q", status)
}

// =============================================================================
// 🔁 记录转换
// =============================================================================

func encodeJSON(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeJSON(s string) map[string]any {
	if s == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func traceToRecord(tr *tracing.Trace) *TraceRecord {
	rec := &TraceRecord{
		ID:           tr.ID,
		WorkflowName: tr.WorkflowName,
		GroupID:      tr.GroupID,
		OwnerID:      tr.OwnerID,
		Metadata:     encodeJSON(tr.Metadata),
		StartedAt:    tr.StartedAt,
		EndedAt:      tr.EndedAt,
		Spans:        make([]SpanRecord, 0, len(tr.Spans)),
	}
	for i, s := range tr.Spans {
		rec.Spans = append(rec.Spans, SpanRecord{
			ID:        s.ID,
			TraceID:   tr.ID,
			ParentID:  s.ParentID,
			Seq:       i,
			Type:      string(s.Type),
			Name:      s.Name,
			Data:      encodeJSON(s.Data),
			StartedAt: s.StartedAt,
			EndedAt:   s.EndedAt,
		})
	}
	return rec
}

func recordToTrace(rec *TraceRecord) *tracing.Trace {
	spans := slices.Clone(rec.Spans)
	slices.SortStableFunc(spans, func(a, b SpanRecord) int { return a.Seq - b.Seq })

	tr := &tracing.Trace{
		ID:           rec.ID,
		WorkflowName: rec.WorkflowName,
		GroupID:      rec.GroupID,
		OwnerID:      rec.OwnerID,
		Metadata:     decodeJSON(rec.Metadata),
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
		Spans:        make([]*tracing.Span, 0, len(spans)),
	}
	for _, s := range spans {
		tr.Spans = append(tr.Spans, &tracing.Span{
			ID:        s.ID,
			TraceID:   rec.ID,
			ParentID:  s.ParentID,
			Type:      tracing.SpanType(s.Type),
			Name:      s.Name,
			Data:      decodeJSON(s.Data),
			StartedAt: s.StartedAt,
			EndedAt:   s.EndedAt,
		})
	}
	return tr
}

func handoffToRecord(traceID string, ev agent.HandoffEvent) *HandoffRecord {
	return &HandoffRecord{
		TraceID:   traceID,
		FromAgent: ev.From,
		ToAgent:   ev.To,
		Reason:    ev.Reason,
		Data:      encodeJSON(ev.Data),
		CreatedAt: ev.At,
	}
}
