package authority

import (
	"context"
	"sort"
	"sync"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

// Call records one request received by a Memory authority.
type Call struct {
	Op     string
	TaskID string
	Arg    string
}

// Memory is an in-process Authority. It keeps its own copy of every task,
// records calls and can be told to fail specific operations.
type Memory struct {
	mu       sync.Mutex
	tasks    map[string]model.Task
	calls    []Call
	failures map[string]error
	gate     chan struct{}
}

var _ Authority = (*Memory)(nil)

func NewMemory(tasks ...model.Task) *Memory {
	m := &Memory{
		tasks:    make(map[string]model.Task),
		failures: make(map[string]error),
	}
	for _, t := range tasks {
		m.tasks[t.ID] = t.Clone()
	}
	return m
}

// Fail makes every later call to op return err. A nil err clears the failure.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Hold blocks every call until the returned release func is invoked.
func (m *Memory) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.gate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns the calls received so far, optionally filtered by op.
func (m *Memory) Calls(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Task returns the authority's copy of a task.
func (m *Memory) Task(id string) (model.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t.Clone(), ok
}

func (m *Memory) ListTasksByStatus(ctx context.Context, status model.Status) ([]model.Task, error) {
	if err := m.enter(ctx, "listTasksByStatus", "", string(status)); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Task
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CommitDelayed(ctx context.Context, taskID string) error {
	return m.apply(ctx, "commitDelayed", taskID, "", func(t *model.Task) {
		t.Status = model.Delayed
	})
}

func (m *Memory) SubmitFreezeRequest(ctx context.Context, taskID, reason string) error {
	return m.apply(ctx, "submitFreezeRequest", taskID, reason, func(t *model.Task) {
		t.Approval = model.Approval{Kind: model.FreezeApproval, State: model.Pending, Reason: reason}
	})
}

func (m *Memory) ApproveFreeze(ctx context.Context, taskID string) error {
	return m.apply(ctx, "approveFreeze", taskID, "", func(t *model.Task) {
		t.Status = model.Frozen
		t.FreezeReason = t.Approval.Reason
		t.Approval.State = model.Approved
	})
}

func (m *Memory) DenyFreeze(ctx context.Context, taskID string) error {
	return m.apply(ctx, "denyFreeze", taskID, "", func(t *model.Task) {
		t.Approval.State = model.Denied
	})
}

func (m *Memory) Unfreeze(ctx context.Context, taskID string) error {
	return m.apply(ctx, "unfreeze", taskID, "", func(t *model.Task) {
		t.Status = model.Opened
		t.FrozenAt = nil
		t.FreezeReason = ""
		t.Approval = model.Approval{}
	})
}

func (m *Memory) SubmitCompletion(ctx context.Context, taskID, notes string) error {
	return m.apply(ctx, "submitCompletion", taskID, notes, func(t *model.Task) {
		t.Approval = model.Approval{Kind: model.CompletionApproval, State: model.Pending, Reason: notes}
	})
}

func (m *Memory) ApproveCompletion(ctx context.Context, taskID string) error {
	return m.apply(ctx, "approveCompletion", taskID, "", func(t *model.Task) {
		t.Status = model.Completed
		t.Approval.State = model.Approved
	})
}

func (m *Memory) DenyCompletion(ctx context.Context, taskID string) error {
	return m.apply(ctx, "denyCompletion", taskID, "", func(t *model.Task) {
		t.Approval.State = model.Denied
	})
}

func (m *Memory) Reassign(ctx context.Context, taskID, ownerID string) error {
	return m.apply(ctx, "reassign", taskID, ownerID, func(t *model.Task) {
		t.OwnerID = ownerID
	})
}

func (m *Memory) apply(ctx context.Context, op, taskID, arg string, fn func(t *model.Task)) error {
	if err := m.enter(ctx, op, taskID, arg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return &RemoteError{Op: op, TaskID: taskID, StatusCode: 404, Message: "task not found"}
	}
	fn(&t)
	m.tasks[taskID] = t
	return nil
}

func (m *Memory) enter(ctx context.Context, op, taskID, arg string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, TaskID: taskID, Arg: arg})
	gate := m.gate
	failure := m.failures[op]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return &RemoteError{Op: op, TaskID: taskID, Err: ctx.Err()}
		}
	}
	if failure != nil {
		return &RemoteError{Op: op, TaskID: taskID, Err: failure}
	}
	return nil
}
