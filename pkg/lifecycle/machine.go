// Package lifecycle validates status transitions of a task against the board's
// transition matrix. It never performs I/O: callers commit the approved move
// to the remote authority and stamp the timestamps themselves.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

var (
	ErrInvalidTransition     = errors.New("movement not allowed")
	ErrPendingApprovalExists = errors.New("a pending request already exists for this task")
)

// Origin identifies who asks for a transition.
type Origin int

const (
	// Manual is a user gesture on the board.
	Manual Origin = iota
	// Automatic is the deadline monitor escalating a breached task.
	Automatic
	// Approval is the remote authority confirming a workflow.
	Approval
)

func (o Origin) String() string {
	switch o {
	case Manual:
		return "manual"
	case Automatic:
		return "automatic"
	case Approval:
		return "approval"
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// Workflow is the path an allowed transition has to go through.
type Workflow int

const (
	Freeze Workflow = iota + 1
	Unfreeze
	Completion
	Escalation
)

func (w Workflow) String() string {
	switch w {
	case Freeze:
		return "freeze"
	case Unfreeze:
		return "unfreeze"
	case Completion:
		return "completion"
	case Escalation:
		return "escalation"
	}
	return fmt.Sprintf("workflow(%d)", int(w))
}

type edge struct {
	from, to model.Status
}

type rule struct {
	workflow Workflow
	origins  []Origin
}

// matrix is the allow list; every pair not listed is rejected.
var matrix = map[edge]rule{
	{model.Opened, model.Frozen}:     {Freeze, []Origin{Manual, Approval}},
	{model.Opened, model.Delayed}:    {Escalation, []Origin{Automatic}},
	{model.Opened, model.Completed}:  {Completion, []Origin{Manual, Approval}},
	{model.Frozen, model.Opened}:     {Unfreeze, []Origin{Manual, Approval}},
	{model.Delayed, model.Completed}: {Completion, []Origin{Manual, Approval}},
}

// Route returns the workflow that governs from -> to when requested by origin.
func Route(from, to model.Status, origin Origin) (Workflow, error) {
	r, ok := matrix[edge{from, to}]
	if !ok {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	for _, o := range r.origins {
		if o == origin {
			return r.workflow, nil
		}
	}
	return 0, fmt.Errorf("%w: %s -> %s is not a %s move", ErrInvalidTransition, from, to, origin)
}

// Attempt validates moving task to target and returns the resulting snapshot.
// Only the status of the copy changes.
func Attempt(task model.Task, target model.Status, origin Origin) (model.Task, Workflow, error) {
	wf, err := Route(task.Status, target, origin)
	if err != nil {
		return task, 0, err
	}

	switch wf {
	case Freeze, Completion:
		kind := Kind(wf)
		switch origin {
		case Manual:
			if task.Approval.IsPending("") {
				return task, 0, fmt.Errorf("%w: %s request %s", ErrPendingApprovalExists, task.Approval.Kind, task.Approval.RequestID)
			}
		case Approval:
			if !task.Approval.IsPending(kind) {
				return task, 0, fmt.Errorf("%w: no pending %s request", ErrInvalidTransition, kind)
			}
		}
	}

	next := task.Clone()
	next.Status = target
	return next, wf, nil
}

// Stamp applies the timestamps and bookkeeping that belong to a committed
// transition. task must already carry the new status.
func Stamp(task model.Task, wf Workflow, now time.Time) model.Task {
	next := task.Clone()
	switch wf {
	case Freeze:
		next.FrozenAt = model.TimePtr(now)
		next.FreezeReason = next.Approval.Reason
		next.Approval.State = model.Approved
	case Unfreeze:
		next.FrozenAt = nil
		next.FreezeReason = ""
		next.Approval = model.Approval{}
	case Completion:
		next.CompletedAt = model.TimePtr(now)
		next.CompletionNotes = next.Approval.Reason
		next.Approval.State = model.Approved
	case Escalation:
		if next.DelayedAt == nil {
			next.DelayedAt = model.TimePtr(now)
		}
	}
	return next
}

// Kind returns the approval kind that a two-step workflow waits on.
func Kind(wf Workflow) model.ApprovalKind {
	switch wf {
	case Freeze:
		return model.FreezeApproval
	case Completion:
		return model.CompletionApproval
	}
	return ""
}
