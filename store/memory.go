package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/tracing"
)

// MemoryStore 是进程内 Store 实现，返回值均为副本
type MemoryStore struct {
	mu           sync.RWMutex
	tasks        map[string]Task
	steps        map[string][]TaskStep
	instructions map[string][]TaskInstruction
	workflows    map[string]Workflow
	traces       map[string]*TraceRecord
	handoffs     map[string][]HandoffRecord
	nextID       uint
	now          func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的 MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:        make(map[string]Task),
		steps:        make(map[string][]TaskStep),
		instructions: make(map[string][]TaskInstruction),
		workflows:    make(map[string]Workflow),
		traces:       make(map[string]*TraceRecord),
		handoffs:     make(map[string][]HandoffRecord),
		now:          time.Now,
	}
}

// --- Task ---

func (m *MemoryStore) CreateTask(_ context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = NewID()
	}
	if task.Status == "" {
		task.Status = TaskInProgress
	}
	if !task.Status.Valid() {
		return invalidStatus(task.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID]; exists {
		return fmt.Errorf("create task: duplicate id %s", task.ID)
	}
	now := m.now()
	task.CreatedAt, task.UpdatedAt = now, now
	m.tasks[task.ID] = *task
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return &t, nil
}

func (m *MemoryStore) GetTaskStatus(ctx context.Context, id string) (TaskStatus, error) {
	t, err := m.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

func (m *MemoryStore) UpdateTaskStatus(_ context.Context, id string, status TaskStatus) error {
	return m.transition(id, status, nil)
}

func (m *MemoryStore) FinishTask(_ context.Context, id string, status TaskStatus, result string) error {
	return m.transition(id, status, &result)
}

func (m *MemoryStore) transition(id string, to TaskStatus, result *string) error {
	if !to.Valid() {
		return invalidStatus(to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if !canTransition(t.Status) {
		return invalidMove(id, t.Status, to)
	}
	t.Status = to
	if result != nil {
		t.Result = *result
	}
	t.UpdatedAt = m.now()
	m.tasks[id] = t
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, userID string, limit int) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if userID == "" || t.UserID == userID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Task) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if n := normalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// --- TaskStep ---

func (m *MemoryStore) CreateStep(_ context.Context, step *TaskStep) error {
	if step.ID == "" {
		step.ID = NewID()
	}
	if step.Status == "" {
		step.Status = StepInProgress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	step.CreatedAt, step.UpdatedAt = now, now
	m.steps[step.TaskID] = append(m.steps[step.TaskID], *step)
	return nil
}

func (m *MemoryStore) CompleteStep(_ context.Context, stepID, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for taskID, steps := range m.steps {
		for i := range steps {
			if steps[i].ID == stepID {
				steps[i].Status = StepCompleted
				steps[i].Output = output
				steps[i].UpdatedAt = m.now()
				m.steps[taskID] = steps
				return nil
			}
		}
	}
	return fmt.Errorf("step %s: %w", stepID, ErrNotFound)
}

func (m *MemoryStore) ListSteps(_ context.Context, taskID string) ([]TaskStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.steps[taskID])
	slices.SortStableFunc(out, func(a, b TaskStep) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

// --- TaskInstruction ---

func (m *MemoryStore) AddInstruction(_ context.Context, in *TaskInstruction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	in.ID = m.nextID
	in.Applied = false
	in.CreatedAt = m.now()
	m.instructions[in.TaskID] = append(m.instructions[in.TaskID], *in)
	return nil
}

func (m *MemoryStore) ClaimInstruction(_ context.Context, taskID string) (*TaskInstruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.instructions[taskID]
	for i := range list {
		if !list[i].Applied {
			list[i].Applied = true
			in := list[i]
			return &in, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListInstructions(_ context.Context, taskID string) ([]TaskInstruction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.instructions[taskID]), nil
}

// --- Workflow ---

func (m *MemoryStore) SaveWorkflow(_ context.Context, wf *Workflow) error {
	if wf.ID == "" {
		wf.ID = NewID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if prev, ok := m.workflows[wf.ID]; ok {
		wf.CreatedAt = prev.CreatedAt
	} else {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	m.workflows[wf.ID] = *wf
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return &wf, nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, ownerID string) ([]Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		if ownerID == "" || wf.OwnerID == ownerID {
			out = append(out, wf)
		}
	}
	slices.SortFunc(out, func(a, b Workflow) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

// --- Trace ---

func (m *MemoryStore) ExportTrace(_ context.Context, tr *tracing.Trace) error {
	if tr.Inert() || tr.ID == "" {
		return nil
	}
	rec := traceToRecord(tr)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces[rec.ID] = rec
	return nil
}

func (m *MemoryStore) GetTrace(_ context.Context, id string) (*tracing.Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.traces[id]
	if !ok {
		return nil, fmt.Errorf("trace %s: %w", id, ErrNotFound)
	}
	return recordToTrace(rec), nil
}

func (m *MemoryStore) ListTraces(_ context.Context, ownerID string, limit int) ([]*tracing.Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]*TraceRecord, 0, len(m.traces))
	for _, rec := range m.traces {
		if ownerID == "" || rec.OwnerID == ownerID {
			recs = append(recs, rec)
		}
	}
	slices.SortFunc(recs, func(a, b *TraceRecord) int { return b.StartedAt.Compare(a.StartedAt) })
	if n := normalizeLimit(limit); len(recs) > n {
		recs = recs[:n]
	}
	out := make([]*tracing.Trace, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordToTrace(rec))
	}
	return out, nil
}

// --- Handoff ---

func (m *MemoryStore) RecordHandoff(_ context.Context, traceID string, ev agent.HandoffEvent) error {
	rec := handoffToRecord(traceID, ev)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.handoffs[traceID] = append(m.handoffs[traceID], *rec)
	return nil
}

func (m *MemoryStore) ListHandoffs(_ context.Context, traceID string) ([]HandoffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handoffs[traceID]), nil
}
