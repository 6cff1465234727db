package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/store"
	"github.com/BaSui01/agentrelay/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/agentrelay/workflow"

// NoOutputResult is returned as the final result when no output node ran.
const NoOutputResult = "Workflow completed but no output node was found"

const instructionPrefix = "\n\nAdditional instruction: "

// AgentResolver resolves the agent referenced by an agent node.
// *agent.Registry satisfies it.
type AgentResolver interface {
	Get(ctx context.Context, key string) (*agent.Agent, error)
}

// AgentRunner runs an agent in blocking mode. *agent.Runner satisfies it.
type AgentRunner interface {
	Run(ctx context.Context, root *agent.Agent, message string, cfg agent.RunConfig) *agent.RunResult
}

// Metrics receives execution measurements.
type Metrics interface {
	RecordNode(nodeType string, failed bool, duration time.Duration)
	RecordExecution(status string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordNode(string, bool, time.Duration) {}
func (nopMetrics) RecordExecution(string, time.Duration)  {}

// StepResult describes one executed node.
type StepResult struct {
	NodeID   string        `json:"node_id"`
	Type     NodeType      `json:"type"`
	Input    string        `json:"input"`
	Output   string        `json:"output"`
	Failed   bool          `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of one workflow execution.
type Result struct {
	TaskID    string           `json:"task_id,omitempty"`
	Completed bool             `json:"completed"`
	Status    store.TaskStatus `json:"status"`
	Output    string           `json:"output"`
	Steps     []StepResult     `json:"steps"`
	// Skipped lists nodes that could not be ordered because of a cycle.
	Skipped []string      `json:"skipped,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Executor runs workflow graphs node by node in topological order.
type Executor struct {
	runner    AgentRunner
	agents    AgentResolver
	tasks     store.TaskStore
	workflows store.WorkflowStore
	control   Control
	metrics   Metrics
	logger    *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTaskStore persists steps and task status. Unless WithControl is
// given, the executor polls this store at every checkpoint.
func WithTaskStore(ts store.TaskStore) Option {
	return func(e *Executor) { e.tasks = ts }
}

// WithWorkflowStore enables Run and Prepare.
func WithWorkflowStore(ws store.WorkflowStore) Option {
	return func(e *Executor) { e.workflows = ws }
}

// WithControl overrides the checkpoint source.
func WithControl(c Control) Option {
	return func(e *Executor) { e.control = c }
}

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor.
func NewExecutor(runner AgentRunner, agents AgentResolver, opts ...Option) *Executor {
	e := &Executor{
		runner:  runner,
		agents:  agents,
		metrics: nopMetrics{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_executor"))
	if e.control == nil {
		if e.tasks != nil {
			e.control = NewStoreControl(e.tasks, e.logger)
		} else {
			e.control = contextControl{}
		}
	}
	return e
}

// Execute runs g with input. taskID links persisted steps and control
// signals; it may be empty when no task store is configured. Only an
// invalid graph is reported as an error: node failures become "[error]"
// outputs and halts are reported through Result.
func (e *Executor) Execute(ctx context.Context, g *Graph, input, taskID string) (*Result, error) {
	if g == nil {
		return nil, types.NewError(types.ErrInvalidGraph, "graph cannot be nil")
	}
	if err := g.Validate(); err != nil {
		return nil, types.NewError(types.ErrInvalidGraph, "invalid workflow graph").WithCause(err)
	}
	if taskID != "" {
		ctx = types.WithTaskID(ctx, taskID)
	}

	start := time.Now()
	res := &Result{TaskID: taskID, Steps: []StepResult{}}
	log := e.logger.With(zap.String("task_id", taskID))

	order, complete := TopologicalOrder(g)
	if !complete {
		res.Skipped = Unordered(g, order)
		log.Warn("workflow graph contains a cycle",
			zap.Strings("skipped_nodes", res.Skipped),
			zap.Int("ordered_nodes", len(order)))
	}
	log.Info("workflow execution started", zap.Strings("order", order))

	outputs := make(map[string]string, len(order))
	var (
		last     string
		final    string
		hasFinal bool
	)
	for i, id := range order {
		sig, err := e.control.Checkpoint(ctx, taskID)
		if err != nil {
			log.Warn("checkpoint failed, continuing", zap.String("node_id", id), zap.Error(err))
			sig = Signal{Status: store.TaskInProgress}
		}
		if sig.Halted() {
			return e.halt(ctx, res, sig.Status, id, start), nil
		}

		node, _ := g.Node(id)
		in := last
		if i == 0 {
			in = input
		} else if pred, ok := g.Predecessor(id); ok {
			if out, ran := outputs[pred]; ran {
				in = out
			}
		}
		if sig.Instruction != nil {
			in += instructionPrefix + sig.Instruction.Content
			log.Info("instruction applied", zap.String("node_id", id), zap.Uint("instruction_id", sig.Instruction.ID))
		}

		step := e.runStep(ctx, node, i, in, taskID)
		res.Steps = append(res.Steps, step)
		outputs[id] = step.Output
		last = step.Output
		if node.Type == NodeTypeOutput {
			final, hasFinal = step.Output, true
		}
	}

	if !hasFinal {
		final = NoOutputResult
	}
	res.Completed = true
	res.Status = store.TaskCompleted
	res.Output = final
	res.Elapsed = time.Since(start)

	if e.tasks != nil && taskID != "" {
		if err := e.tasks.FinishTask(context.WithoutCancel(ctx), taskID, store.TaskCompleted, final); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Warn("failed to mark task completed", zap.Error(err))
		}
	}
	e.metrics.RecordExecution(string(store.TaskCompleted), res.Elapsed)
	log.Info("workflow execution completed",
		zap.Int("nodes_executed", len(res.Steps)),
		zap.Bool("output_node_found", hasFinal),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (e *Executor) halt(ctx context.Context, res *Result, status store.TaskStatus, nodeID string, start time.Time) *Result {
	res.Completed = false
	res.Status = status
	res.Output = fmt.Sprintf("Workflow %s before node %s", status, nodeID)
	res.Elapsed = time.Since(start)

	// ctx 取消（例如服务关闭）时把任务标记为 cancelled
	if ctx.Err() != nil && e.tasks != nil && res.TaskID != "" {
		if err := e.tasks.UpdateTaskStatus(context.WithoutCancel(ctx), res.TaskID, store.TaskCancelled); err != nil {
			e.logger.Debug("failed to mark task cancelled", zap.String("task_id", res.TaskID), zap.Error(err))
		}
	}
	e.metrics.RecordExecution(string(status), res.Elapsed)
	e.logger.Info("workflow execution halted",
		zap.String("task_id", res.TaskID),
		zap.String("status", string(status)),
		zap.String("before_node", nodeID),
		zap.Int("nodes_executed", len(res.Steps)))
	return res
}

func (e *Executor) runStep(ctx context.Context, node Node, seq int, in, taskID string) StepResult {
	began := time.Now()
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "workflow.node "+node.ID)
	span.SetAttributes(
		attribute.String("workflow.task_id", taskID),
		attribute.String("workflow.node_type", string(node.Type)),
		attribute.Int("workflow.node_seq", seq),
	)
	defer span.End()
	stepID := e.beginStep(ctx, taskID, node.ID, seq, in)

	out, failed := e.runNode(ctx, node, in, taskID)
	if failed {
		span.SetStatus(codes.Error, out)
	}

	e.completeStep(ctx, taskID, stepID, out)
	d := time.Since(began)
	e.metrics.RecordNode(string(node.Type), failed, d)
	e.logger.Debug("node executed",
		zap.String("task_id", taskID),
		zap.String("node_id", node.ID),
		zap.String("node_type", string(node.Type)),
		zap.Bool("failed", failed),
		zap.Duration("duration", d))
	return StepResult{NodeID: node.ID, Type: node.Type, Input: in, Output: out, Failed: failed, Duration: d}
}

// runNode never fails the workflow: errors become descriptive outputs so
// downstream nodes still receive input.
func (e *Executor) runNode(ctx context.Context, node Node, in, taskID string) (string, bool) {
	switch node.Type {
	case NodeTypeInput, NodeTypeOutput:
		return in, false
	case NodeTypeAgent:
		return e.runAgentNode(ctx, node, in, taskID)
	default:
		e.logger.Warn("unknown node type", zap.String("node_id", node.ID), zap.String("node_type", string(node.Type)))
		return fmt.Sprintf("[error] unknown node type %q for node %s", node.Type, node.ID), true
	}
}

func (e *Executor) runAgentNode(ctx context.Context, node Node, in, taskID string) (string, bool) {
	key := node.Data.AgentType
	if key == "" {
		return fmt.Sprintf("[error] agent node %s has no agentType", node.ID), true
	}
	if e.agents == nil || e.runner == nil {
		return fmt.Sprintf("[error] agent %s could not be resolved: no agent runtime configured", key), true
	}
	a, err := e.agents.Get(ctx, key)
	if err != nil {
		e.logger.Warn("agent resolution failed", zap.String("node_id", node.ID), zap.String("agent", key), zap.Error(err))
		return fmt.Sprintf("[error] agent %s could not be resolved: %v", key, err), true
	}

	message := in
	if node.Data.Instructions != "" {
		message = node.Data.Instructions + "\n\n" + in
	}
	name := node.Data.Label
	if name == "" {
		name = node.ID
	}
	owner, _ := types.UserID(ctx)
	res := e.runner.Run(ctx, a, message, agent.RunConfig{
		WorkflowName: "workflow node " + name,
		GroupID:      taskID,
		OwnerID:      owner,
	})
	if !res.Success {
		e.logger.Warn("agent node failed", zap.String("node_id", node.ID), zap.String("agent", key), zap.String("error", res.Error))
		return fmt.Sprintf("[error] agent %s failed: %s", key, res.Error), true
	}
	return res.FinalOutput, false
}

func (e *Executor) beginStep(ctx context.Context, taskID, nodeID string, seq int, in string) string {
	if e.tasks == nil || taskID == "" {
		return ""
	}
	step := &store.TaskStep{TaskID: taskID, NodeID: nodeID, Seq: seq, Status: store.StepInProgress, Input: in}
	if err := e.tasks.CreateStep(context.WithoutCancel(ctx), step); err != nil {
		e.logger.Warn("failed to persist step", zap.String("task_id", taskID), zap.String("node_id", nodeID), zap.Error(err))
		return ""
	}
	return step.ID
}

func (e *Executor) completeStep(ctx context.Context, taskID, stepID, out string) {
	if stepID == "" {
		return
	}
	if err := e.tasks.CompleteStep(context.WithoutCancel(ctx), stepID, out); err != nil {
		e.logger.Warn("failed to complete step", zap.String("task_id", taskID), zap.String("step_id", stepID), zap.Error(err))
	}
}

// =============================================================================
// Persisted workflows
// =============================================================================

// Prepare loads and validates a stored workflow and creates its task in
// in_progress state.
func (e *Executor) Prepare(ctx context.Context, workflowID, userID, input string) (*store.Task, *Graph, error) {
	if e.workflows == nil || e.tasks == nil {
		return nil, nil, types.NewError(types.ErrInternalError, "executor has no workflow or task store")
	}
	wf, err := e.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, types.Errorf(types.ErrNotFound, "workflow %s not found", workflowID).WithCause(err)
		}
		return nil, nil, err
	}
	g, err := ParseGraph([]byte(wf.Graph))
	if err != nil {
		return nil, nil, types.Errorf(types.ErrInvalidGraph, "workflow %s has an invalid graph", workflowID).WithCause(err)
	}

	task := &store.Task{WorkflowID: wf.ID, UserID: userID, Status: store.TaskInProgress, Input: input}
	if err := e.tasks.CreateTask(ctx, task); err != nil {
		return nil, nil, fmt.Errorf("create task for workflow %s: %w", workflowID, err)
	}
	return task, g, nil
}

// ExecuteTask runs a prepared task and marks it failed when execution
// cannot start.
func (e *Executor) ExecuteTask(ctx context.Context, task *store.Task, g *Graph) (*Result, error) {
	if err := e.checkTask(task); err != nil {
		return nil, err
	}
	ctx = types.WithUserID(ctx, task.UserID)
	res, err := e.Execute(ctx, g, task.Input, task.ID)
	if err != nil {
		if ferr := e.tasks.FinishTask(context.WithoutCancel(ctx), task.ID, store.TaskFailed, err.Error()); ferr != nil {
			e.logger.Warn("failed to mark task failed", zap.String("task_id", task.ID), zap.Error(ferr))
		}
		e.metrics.RecordExecution(string(store.TaskFailed), 0)
		return nil, err
	}
	return res, nil
}

// Abandon marks a prepared task failed without running it, for example
// when no background capacity is left.
func (e *Executor) Abandon(ctx context.Context, task *store.Task, reason string) error {
	if err := e.checkTask(task); err != nil {
		return err
	}
	if err := e.tasks.FinishTask(ctx, task.ID, store.TaskFailed, reason); err != nil {
		return fmt.Errorf("abandon task %s: %w", task.ID, err)
	}
	e.metrics.RecordExecution(string(store.TaskFailed), 0)
	return nil
}

// checkTask 只有带任务存储的执行器才能执行或放弃已准备的任务
func (e *Executor) checkTask(task *store.Task) error {
	if task == nil {
		return types.NewError(types.ErrInvalidRequest, "task is required")
	}
	if e.tasks == nil {
		return types.NewError(types.ErrInternalError, "executor has no task store")
	}
	return nil
}

// Run loads workflowID, creates a task for userID and executes it.
func (e *Executor) Run(ctx context.Context, workflowID, userID, input string) (*Result, error) {
	task, g, err := e.Prepare(ctx, workflowID, userID, input)
	if err != nil {
		return nil, err
	}
	return e.ExecuteTask(ctx, task, g)
}
