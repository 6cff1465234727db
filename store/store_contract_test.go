package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/tracing"
	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// runStoreContract 对任意 Store 实现执行同一组行为测试
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("TaskLifecycle", func(t *testing.T) { testTaskLifecycle(t, newStore(t)) })
	t.Run("TerminalStatusIsFinal", func(t *testing.T) { testTerminalStatusIsFinal(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("Steps", func(t *testing.T) { testSteps(t, newStore(t)) })
	t.Run("Instructions", func(t *testing.T) { testInstructions(t, newStore(t)) })
	t.Run("Workflows", func(t *testing.T) { testWorkflows(t, newStore(t)) })
	t.Run("Traces", func(t *testing.T) { testTraces(t, newStore(t)) })
	t.Run("Handoffs", func(t *testing.T) { testHandoffs(t, newStore(t)) })
}

func testTaskLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	task := &Task{WorkflowID: "wf-1", UserID: "u-1", Input: "topic"}
	require.NoError(t, s.CreateTask(ctx, task))
	require.NotEmpty(t, task.ID)
	assert.Equal(t, TaskInProgress, task.Status)

	st, err := s.GetTaskStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, st)

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, TaskPaused))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, TaskInProgress))
	require.NoError(t, s.FinishTask(ctx, task.ID, TaskCompleted, "report"))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Equal(t, "report", got.Result)
	assert.Equal(t, "topic", got.Input)

	other := &Task{UserID: "u-2"}
	require.NoError(t, s.CreateTask(ctx, other))
	tasks, err := s.ListTasks(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)

	err = s.UpdateTaskStatus(ctx, other.ID, TaskStatus("exploded"))
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest), "got %v", err)
}

func testTerminalStatusIsFinal(t *testing.T, s Store) {
	ctx := context.Background()
	task := &Task{}
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, TaskCancelled))

	err := s.FinishTask(ctx, task.ID, TaskCompleted, "late result")
	assert.True(t, types.IsCode(err, types.ErrInvalidTaskMove), "got %v", err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCancelled, got.Status)
	assert.Empty(t, got.Result)
}

func testNotFound(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTaskStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateTaskStatus(ctx, "missing", TaskCancelled), ErrNotFound)
	assert.ErrorIs(t, s.CompleteStep(ctx, "missing", "x"), ErrNotFound)
	_, err = s.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTrace(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testSteps(t *testing.T, s Store) {
	ctx := context.Background()
	task := &Task{}
	require.NoError(t, s.CreateTask(ctx, task))

	var ids []string
	for i, node := range []string{"input", "research", "output"} {
		step := &TaskStep{TaskID: task.ID, NodeID: node, Seq: i, Input: "in-" + node}
		require.NoError(t, s.CreateStep(ctx, step))
		assert.Equal(t, StepInProgress, step.Status)
		ids = append(ids, step.ID)
	}
	require.NoError(t, s.CompleteStep(ctx, ids[0], "out-input"))
	require.NoError(t, s.CompleteStep(ctx, ids[1], "out-research"))

	steps, err := s.ListSteps(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "input", steps[0].NodeID)
	assert.Equal(t, StepCompleted, steps[0].Status)
	assert.Equal(t, "out-research", steps[1].Output)
	assert.Equal(t, StepInProgress, steps[2].Status)

	empty, err := s.ListSteps(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testInstructions(t *testing.T, s Store) {
	ctx := context.Background()
	task := &Task{}
	require.NoError(t, s.CreateTask(ctx, task))

	none, err := s.ClaimInstruction(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, s.AddInstruction(ctx, &TaskInstruction{TaskID: task.ID, Content: "be concise"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.AddInstruction(ctx, &TaskInstruction{TaskID: task.ID, Content: "cite sources"}))

	first, err := s.ClaimInstruction(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "be concise", first.Content)
	assert.True(t, first.Applied)

	second, err := s.ClaimInstruction(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "cite sources", second.Content)

	third, err := s.ClaimInstruction(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, third)

	all, err := s.ListInstructions(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, in := range all {
		assert.True(t, in.Applied)
	}
}

func testWorkflows(t *testing.T, s Store) {
	ctx := context.Background()
	wf := &Workflow{Name: "research", OwnerID: "u-1", Graph: `{"nodes":[],"edges":[]}`}
	require.NoError(t, s.SaveWorkflow(ctx, wf))
	require.NotEmpty(t, wf.ID)

	wf.Name = "research v2"
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "research v2", got.Name)
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, got.Graph)

	require.NoError(t, s.SaveWorkflow(ctx, &Workflow{Name: "other", OwnerID: "u-2", Graph: "{}"}))
	list, err := s.ListWorkflows(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, wf.ID, list[0].ID)
}

func testTraces(t *testing.T, s Store) {
	ctx := context.Background()
	tracer := tracing.NewTracer(tracing.TracerConfig{Exporter: s}, zap.NewNop())

	var ids []string
	for i := 0; i < 3; i++ {
		tr := tracer.StartTrace(ctx, tracing.TraceConfig{WorkflowName: "support", OwnerID: "u-1", Metadata: map[string]any{"n": i}})
		a := tracer.StartSpan(ctx, tr, nil, tracing.SpanTypeAgent, "Triage", map[string]any{"turn": 1})
		h := tracer.StartSpan(ctx, tr, a, tracing.SpanTypeHandoff, "Triage -> Billing", map[string]any{"reason": "refund"})
		tracer.EndSpan(ctx, h, nil)
		tracer.EndSpan(ctx, a, nil)
		b := tracer.StartSpan(ctx, tr, nil, tracing.SpanTypeAgent, "Billing", nil)
		tracer.EndSpan(ctx, b, map[string]any{"output": "refunded"})
		tracer.EndTrace(ctx, tr)
		ids = append(ids, tr.ID)
		time.Sleep(2 * time.Millisecond)
	}
	other := tracer.StartTrace(ctx, tracing.TraceConfig{OwnerID: "u-2"})
	tracer.EndTrace(ctx, other)

	got, err := s.GetTrace(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "support", got.WorkflowName)
	assert.Equal(t, float64(0), got.Metadata["n"])
	require.NotNil(t, got.EndedAt)
	require.Len(t, got.Spans, 3)
	assert.Equal(t, "Triage", got.Spans[0].Name)
	assert.Equal(t, got.Spans[0].ID, got.Spans[1].ParentID)
	assert.Equal(t, tracing.SpanTypeHandoff, got.Spans[1].Type)
	assert.Equal(t, "refund", got.Spans[1].Data["reason"])
	assert.Equal(t, "refunded", got.Spans[2].Data["output"])
	assert.Len(t, got.Children(""), 2)

	list, err := s.ListTraces(ctx, "u-1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID, "newest first")
	assert.Equal(t, ids[1], list[1].ID)

	// 惰性 Trace 不落库
	require.NoError(t, s.ExportTrace(ctx, tracing.Noop().StartTrace(ctx, tracing.TraceConfig{})))
}

func testHandoffs(t *testing.T, s Store) {
	ctx := context.Background()
	at := time.Now().Add(-time.Minute)
	require.NoError(t, s.RecordHandoff(ctx, "trace_1", agent.HandoffEvent{From: "A", To: "B", Reason: "needs B", Data: map[string]any{"ticket": "T-1"}, At: at}))
	require.NoError(t, s.RecordHandoff(ctx, "trace_1", agent.HandoffEvent{From: "B", To: "C", Reason: "escalate", At: at.Add(time.Second)}))
	require.NoError(t, s.RecordHandoff(ctx, "trace_2", agent.HandoffEvent{From: "X", To: "Y"}))

	recs, err := s.ListHandoffs(ctx, "trace_1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "A", recs[0].FromAgent)
	assert.Equal(t, "B", recs[0].ToAgent)
	assert.JSONEq(t, `{"ticket":"T-1"}`, recs[0].Data)
	assert.Equal(t, "C", recs[1].ToAgent)
}

// countingTaskStore 统计状态读取次数
type countingTaskStore struct {
	TaskStore
	statusReads int
	failStatus  error
	// afterRead 在读到状态之后、返回之前执行，用来插入并发写
	afterRead func(id string)
}

func (c *countingTaskStore) GetTaskStatus(ctx context.Context, id string) (TaskStatus, error) {
	c.statusReads++
	if c.failStatus != nil {
		return "", c.failStatus
	}
	st, err := c.TaskStore.GetTaskStatus(ctx, id)
	if err == nil && c.afterRead != nil {
		hook := c.afterRead
		c.afterRead = nil
		hook(id)
	}
	return st, err
}

var errBoom = errors.New("boom")
