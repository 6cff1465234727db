package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/tracing"
	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// Runner drives agents through handoff hops. A Runner holds no per-run
// state and may be shared by concurrent runs.
type Runner struct {
	provider llm.Provider
	tracer   tracing.Recorder
	sink     HandoffSink
	metrics  Metrics
	logger   *zap.Logger
	maxTurns atomic.Int64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTracer sets the trace recorder. Defaults to tracing.Noop().
func WithTracer(rec tracing.Recorder) RunnerOption {
	return func(r *Runner) {
		if rec != nil {
			r.tracer = rec
		}
	}
}

// WithHandoffSink sets the audit sink for taken handoffs.
func WithHandoffSink(sink HandoffSink) RunnerOption {
	return func(r *Runner) { r.sink = sink }
}

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxTurns sets the default hop limit for runs that do not set one.
func WithMaxTurns(n int) RunnerOption {
	return func(r *Runner) {
		r.SetMaxTurns(n)
	}
}

// NewRunner creates a Runner backed by provider.
func NewRunner(provider llm.Provider, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider: provider,
		tracer:   tracing.Noop(),
		metrics:  nopMetrics{},
		logger:   zap.NewNop(),
	}
	r.maxTurns.Store(DefaultMaxTurns)
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "runner"))
	return r
}

// SetMaxTurns changes the default hop limit; runs already started keep
// theirs. Non-positive values are ignored.
func (r *Runner) SetMaxTurns(n int) {
	if n > 0 {
		r.maxTurns.Store(int64(n))
	}
}

// Run executes root against message and blocks until the run finishes.
// Failures are reported through RunResult, never as a nil result.
func (r *Runner) Run(ctx context.Context, root *Agent, message string, cfg RunConfig) *RunResult {
	return r.execute(ctx, root, message, cfg, nil)
}

// RunStreamed is Run with incremental delivery through cb.
func (r *Runner) RunStreamed(ctx context.Context, root *Agent, message string, cb StreamCallbacks, cfg RunConfig) *RunResult {
	return r.execute(ctx, root, message, cfg, &cb)
}

// hopResponse is what one completion call produced.
type hopResponse struct {
	content   string
	toolCalls []types.ToolCall
}

type runState struct {
	current *Agent
	history []types.Message
	// scratch holds tool-call exchanges of the current agent that have not
	// yet been folded into history.
	scratch []types.Message
	trace   *tracing.Trace
	result  *RunResult
	stream  *StreamCallbacks
}

func (r *Runner) execute(ctx context.Context, root *Agent, message string, cfg RunConfig, stream *StreamCallbacks) *RunResult {
	start := time.Now()
	res := &RunResult{HandoffPath: []string{}, Handoffs: []HandoffEvent{}}

	if stream != nil {
		stream.start()
	}
	if root == nil || r.provider == nil {
		code, msg := types.ErrInvalidRequest, "root agent is required"
		if r.provider == nil {
			code, msg = types.ErrProviderNotSet, "runner has no completion provider"
		}
		return r.fail(ctx, res, stream, nil, types.NewError(code, msg), start, "")
	}

	maxTurns := cfg.turnLimit(int(r.maxTurns.Load()))

	trace := r.tracer.StartTrace(ctx, tracing.TraceConfig{
		WorkflowName: cfg.WorkflowName,
		GroupID:      cfg.GroupID,
		OwnerID:      cfg.OwnerID,
		Disabled:     cfg.TracingDisabled,
	})
	res.TraceID = trace.ID
	if trace.ID != "" {
		ctx = types.WithTraceID(ctx, trace.ID)
	}

	st := &runState{
		current: root,
		history: types.CloneMessages(cfg.History),
		trace:   trace,
		result:  res,
		stream:  stream,
	}
	res.HandoffPath = append(res.HandoffPath, root.Name())

	var lastText string
	for res.Turns < maxTurns {
		agentCtx := types.WithAgentName(ctx, st.current.Name())
		span := r.tracer.StartSpan(agentCtx, trace, nil, tracing.SpanTypeAgent, st.current.Name(), map[string]any{
			"turn":  res.Turns + 1,
			"model": st.current.Model(),
		})

		req := r.buildRequest(st, message, &cfg)
		var (
			resp hopResponse
			err  error
		)
		if stream != nil {
			resp, err = r.streamHop(agentCtx, req, stream)
		} else {
			resp, err = r.completeHop(agentCtx, req)
		}
		res.Turns++
		r.metrics.RecordHop(st.current.Name())

		if err != nil {
			r.tracer.EndSpan(agentCtx, span, map[string]any{"error": err.Error()})
			return r.fail(ctx, res, stream, st, err, start, root.Name())
		}
		lastText = resp.content

		if call, h, ok := st.current.findHandoffCall(resp.toolCalls); ok {
			in, perr := h.ParseArguments(call.Arguments)
			if perr == nil {
				r.takeHandoff(agentCtx, st, span, h, in)
				r.tracer.EndSpan(agentCtx, span, map[string]any{"handoff_to": h.Target().Name()})
				continue
			}
			// Malformed arguments: the handoff is not taken and the hop
			// is treated as plain text.
			r.logger.Warn("ignoring handoff with malformed arguments",
				zap.String("agent", st.current.Name()),
				zap.String("tool", call.Name),
				zap.Error(perr))
			r.tracer.EndSpan(agentCtx, span, map[string]any{"output": resp.content, "handoff_error": perr.Error()})
			return r.finish(ctx, st, message, resp.content, start, root.Name())
		}

		if len(resp.toolCalls) > 0 {
			r.runTools(agentCtx, st, resp)
			r.tracer.EndSpan(agentCtx, span, map[string]any{"tool_calls": len(resp.toolCalls)})
			continue
		}

		r.tracer.EndSpan(agentCtx, span, map[string]any{"output": resp.content})
		return r.finish(ctx, st, message, resp.content, start, root.Name())
	}

	res.MaxTurnsReached = true
	r.logger.Warn("max turns reached",
		zap.Int("max_turns", maxTurns),
		zap.String("last_agent", st.current.Name()),
		zap.Strings("handoff_path", res.HandoffPath))
	return r.finish(ctx, st, message, lastText, start, root.Name())
}

func (r *Runner) buildRequest(st *runState, message string, cfg *RunConfig) *llm.ChatRequest {
	a := st.current
	msgs := make([]types.Message, 0, len(st.history)+len(st.scratch)+2)
	if a.Instructions() != "" {
		msgs = append(msgs, types.NewSystemMessage(a.Instructions()))
	}
	msgs = append(msgs, st.history...)
	msgs = append(msgs, types.NewUserMessage(message))
	msgs = append(msgs, st.scratch...)

	s := a.Settings()
	req := &llm.ChatRequest{
		Model:       a.Model(),
		Messages:    msgs,
		Tools:       a.ToolSchemas(),
		Temperature: s.Temperature,
		TopP:        s.TopP,
		MaxTokens:   s.MaxTokens,
		ToolChoice:  s.ToolChoice,
		TraceID:     st.result.TraceID,
		UserID:      cfg.OwnerID,
	}
	cfg.overrideModel(req)
	return req
}

func (r *Runner) completeHop(ctx context.Context, req *llm.ChatRequest) (hopResponse, error) {
	resp, err := r.provider.Completion(ctx, req)
	if err != nil {
		return hopResponse{}, err
	}
	msg, ok := resp.FirstMessage()
	if !ok {
		return hopResponse{}, &llm.Error{
			Code:     llm.ErrMalformedResponse,
			Message:  "completion returned no choices",
			Provider: r.provider.Name(),
		}
	}
	return hopResponse{content: msg.Content, toolCalls: msg.ToolCalls}, nil
}

func (r *Runner) takeHandoff(ctx context.Context, st *runState, parent *tracing.Span, h *Handoff, in HandoffInput) {
	from := st.current.Name()
	to := h.Target().Name()
	in.From = from

	hoSpan := r.tracer.StartSpan(ctx, st.trace, parent, tracing.SpanTypeHandoff, from+" -> "+to, map[string]any{
		"from":   from,
		"to":     to,
		"reason": in.Reason,
	})

	st.history = h.FilterHistory(st.history)
	st.scratch = nil
	if h.onHandoff != nil {
		h.onHandoff(ctx, in)
	}

	ev := HandoffEvent{From: from, To: to, Reason: in.Reason, Data: in.Data, At: time.Now()}
	st.result.Handoffs = append(st.result.Handoffs, ev)
	st.result.HandoffPath = append(st.result.HandoffPath, to)
	r.metrics.RecordHandoff(from, to)

	if r.sink != nil {
		// 审计行不随运行取消而丢失
		if err := r.sink.RecordHandoff(context.WithoutCancel(ctx), st.result.TraceID, ev); err != nil {
			r.logger.Warn("failed to record handoff", zap.String("from", from), zap.String("to", to), zap.Error(err))
		}
	}

	if st.stream != nil {
		st.history = append(st.history, types.NewAssistantMessage(fmt.Sprintf("Handing off to %s: %s", to, in.Reason)))
		st.stream.handoff(ev)
	}

	r.logger.Info("handoff",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("reason", in.Reason))
	r.tracer.EndSpan(ctx, hoSpan, nil)
	st.current = h.Target()
}

// runTools executes function tool calls and appends the exchange to the
// current agent's scratch messages.
func (r *Runner) runTools(ctx context.Context, st *runState, resp hopResponse) {
	calls := make([]types.ToolCall, len(resp.toolCalls))
	for i, c := range resp.toolCalls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d_%d", st.result.Turns, i)
		}
		calls[i] = c
	}
	st.scratch = append(st.scratch, types.NewAssistantMessage(resp.content).WithToolCalls(calls))

	for _, c := range calls {
		began := time.Now()
		tr := types.ToolResult{CallID: c.ID, Name: c.Name}
		tool, ok := st.current.ToolByName(c.Name)
		if !ok {
			tr.Err = fmt.Sprintf("unknown tool %q for agent %s", c.Name, st.current.Name())
			r.logger.Warn("model called unknown tool", zap.String("agent", st.current.Name()), zap.String("tool", c.Name))
		} else if out, err := tool.Handler(ctx, c.Arguments); err != nil {
			tr.Err = err.Error()
			r.logger.Warn("tool failed", zap.String("tool", c.Name), zap.Error(err))
		} else {
			tr.Content = out
		}
		r.logger.Debug("tool finished",
			zap.String("agent", st.current.Name()),
			zap.String("tool", c.Name),
			zap.Bool("failed", tr.Failed()),
			zap.Duration("duration", time.Since(began)))
		st.scratch = append(st.scratch, tr.Message())
	}
}

func (r *Runner) finish(ctx context.Context, st *runState, message, output string, start time.Time, rootName string) *RunResult {
	res := st.result
	st.history = append(st.history, types.NewUserMessage(message))
	st.history = append(st.history, st.scratch...)
	if output != "" || !res.MaxTurnsReached {
		st.history = append(st.history, types.NewAssistantMessage(output))
	}
	st.scratch = nil

	res.Success = true
	res.FinalOutput = output
	res.LastAgent = st.current.Name()
	res.History = st.history
	res.Elapsed = time.Since(start)

	r.tracer.EndTrace(context.WithoutCancel(ctx), st.trace)
	r.metrics.RecordRun(rootName, true, res.Elapsed)
	r.logger.Debug("run completed",
		zap.String("trace_id", res.TraceID),
		zap.Int("turns", res.Turns),
		zap.Strings("handoff_path", res.HandoffPath),
		zap.Duration("elapsed", res.Elapsed))
	if st.stream != nil {
		st.stream.complete(res)
	}
	return res
}

func (r *Runner) fail(ctx context.Context, res *RunResult, stream *StreamCallbacks, st *runState, err error, start time.Time, rootName string) *RunResult {
	res.Success = false
	res.Error = err.Error()
	res.Elapsed = time.Since(start)
	if st != nil {
		res.LastAgent = st.current.Name()
		res.History = st.history
		r.tracer.EndTrace(context.WithoutCancel(ctx), st.trace)
	}
	r.metrics.RecordRun(rootName, false, res.Elapsed)

	level := zap.ErrorLevel
	if errors.Is(err, context.Canceled) {
		level = zap.InfoLevel
	}
	r.logger.Check(level, "run failed").Write(
		zap.String("trace_id", res.TraceID),
		zap.Int("turns", res.Turns),
		zap.Error(err))

	if stream != nil {
		stream.fail(err)
		stream.complete(res)
	}
	return res
}
