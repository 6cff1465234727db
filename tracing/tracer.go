package tracing

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Recorder 是运行器与执行器依赖的追踪契约。
// 实现必须接受惰性句柄；追踪数据的缺失不得影响运行结果。
type Recorder interface {
	StartTrace(ctx context.Context, cfg TraceConfig) *Trace
	StartSpan(ctx context.Context, trace *Trace, parent *Span, spanType SpanType, name string, data map[string]any) *Span
	EndSpan(ctx context.Context, span *Span, result map[string]any)
	EndTrace(ctx context.Context, trace *Trace)
}

// Exporter 在 Trace 结束时接收完整快照。
type Exporter interface {
	ExportTrace(ctx context.Context, trace *Trace) error
}

// TracerConfig 配置 Tracer。
type TracerConfig struct {
	// Exporter 可选；为空时 Trace 只保留在调用方手中。
	Exporter Exporter
	// OTel 可选；非空时每个 Span 同时开启一个 OpenTelemetry Span。
	OTel oteltrace.Tracer
	// Disabled 全局关闭追踪，之后可通过 SetEnabled 打开。
	Disabled bool
}

// Tracer 是 Recorder 的默认实现。
type Tracer struct {
	enabled  atomic.Bool
	exporter Exporter
	otel     oteltrace.Tracer
	logger   *zap.Logger
}

var _ Recorder = (*Tracer)(nil)

// NewTracer 创建追踪器。
func NewTracer(cfg TracerConfig, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		exporter: cfg.Exporter,
		otel:     cfg.OTel,
		logger:   logger.With(zap.String("component", "tracer")),
	}
	t.enabled.Store(!cfg.Disabled)
	return t
}

// SetEnabled 全局开关；关闭后新建的 Trace 与 Span 都是惰性句柄。
// 已经开始的 Trace 不受影响。
func (t *Tracer) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Enabled reports the global switch.
func (t *Tracer) Enabled() bool { return t.enabled.Load() }

func newID(prefix string, n int) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// StartTrace 开始一次运行的追踪。
func (t *Tracer) StartTrace(ctx context.Context, cfg TraceConfig) *Trace {
	if cfg.Disabled || !t.enabled.Load() {
		return inertTrace
	}
	name := cfg.WorkflowName
	if name == "" {
		name = "Agent workflow"
	}
	tr := &Trace{
		ID:           newID("trace_", 32),
		WorkflowName: name,
		GroupID:      cfg.GroupID,
		OwnerID:      cfg.OwnerID,
		Metadata:     maps.Clone(cfg.Metadata),
		StartedAt:    time.Now(),
		Spans:        make([]*Span, 0, 4),
	}
	if t.otel != nil {
		_, tr.otelSpan = t.otel.Start(ctx, name, oteltrace.WithAttributes(
			attribute.String("trace.id", tr.ID),
			attribute.String("trace.group_id", cfg.GroupID),
		))
	}
	t.logger.Debug("trace started", zap.String("trace_id", tr.ID), zap.String("workflow", name))
	return tr
}

// StartSpan 在 trace 下开启一个 Span；parent 为空或惰性时作为根 Span。
func (t *Tracer) StartSpan(ctx context.Context, trace *Trace, parent *Span, spanType SpanType, name string, data map[string]any) *Span {
	if trace.Inert() {
		return inertSpan
	}
	sp := &Span{
		ID:        newID("span_", 24),
		TraceID:   trace.ID,
		Type:      spanType,
		Name:      name,
		Data:      maps.Clone(data),
		StartedAt: time.Now(),
		trace:     trace,
	}
	if !parent.Inert() {
		sp.ParentID = parent.ID
	}

	if t.otel != nil {
		parentCtx := ctx
		switch {
		case !parent.Inert() && parent.otelSpan != nil:
			parentCtx = oteltrace.ContextWithSpan(ctx, parent.otelSpan)
		case trace.otelSpan != nil:
			parentCtx = oteltrace.ContextWithSpan(ctx, trace.otelSpan)
		}
		_, sp.otelSpan = t.otel.Start(parentCtx, name, oteltrace.WithAttributes(
			attribute.String("span.type", string(spanType)),
			attribute.String("span.name", name),
			attribute.String("trace.id", trace.ID),
		))
	}

	trace.mu.Lock()
	trace.Spans = append(trace.Spans, sp)
	trace.mu.Unlock()
	return sp
}

// EndSpan 结束 Span，并把 result 合并进 Span 数据。重复结束是无操作。
func (t *Tracer) EndSpan(_ context.Context, span *Span, result map[string]any) {
	if span.Inert() {
		return
	}
	tr := span.trace
	tr.mu.Lock()
	if span.EndedAt != nil {
		tr.mu.Unlock()
		return
	}
	now := time.Now()
	span.EndedAt = &now
	if len(result) > 0 {
		if span.Data == nil {
			span.Data = make(map[string]any, len(result))
		}
		maps.Copy(span.Data, result)
	}
	errMsg, _ := span.Data["error"].(string)
	tr.mu.Unlock()

	if span.otelSpan != nil {
		if errMsg != "" {
			span.otelSpan.SetStatus(codes.Error, errMsg)
		}
		span.otelSpan.End()
	}
}

// EndTrace 结束 Trace 并交给 Exporter；未结束的 Span 会被一并关闭。
func (t *Tracer) EndTrace(ctx context.Context, trace *Trace) {
	if trace.Inert() {
		return
	}
	trace.mu.Lock()
	if trace.EndedAt != nil {
		trace.mu.Unlock()
		return
	}
	open := make([]*Span, 0)
	for _, s := range trace.Spans {
		if s.EndedAt == nil {
			open = append(open, s)
		}
	}
	trace.mu.Unlock()

	for _, s := range open {
		t.EndSpan(ctx, s, nil)
	}

	trace.mu.Lock()
	now := time.Now()
	trace.EndedAt = &now
	spanCount := len(trace.Spans)
	trace.mu.Unlock()

	if trace.otelSpan != nil {
		trace.otelSpan.End()
	}

	t.logger.Debug("trace ended",
		zap.String("trace_id", trace.ID),
		zap.Int("spans", spanCount),
		zap.Duration("duration", now.Sub(trace.StartedAt)))

	if t.exporter != nil {
		if err := t.exporter.ExportTrace(ctx, trace.Snapshot()); err != nil {
			t.logger.Warn("failed to export trace", zap.String("trace_id", trace.ID), zap.Error(err))
		}
	}
}

type noopRecorder struct{}

// Noop 返回一个总是产出惰性句柄的记录器。
func Noop() Recorder { return noopRecorder{} }

func (noopRecorder) StartTrace(context.Context, TraceConfig) *Trace { return inertTrace }
func (noopRecorder) StartSpan(context.Context, *Trace, *Span, SpanType, string, map[string]any) *Span {
	return inertSpan
}
func (noopRecorder) EndSpan(context.Context, *Span, map[string]any) {}
func (noopRecorder) EndTrace(context.Context, *Trace)               {}

// String 便于日志输出。
func (t *Trace) String() string {
	if t.Inert() {
		return "trace(inert)"
	}
	return fmt.Sprintf("trace(%s %q)", t.ID, t.WorkflowName)
}
