package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskboard/pkg/lifecycle"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/store"
)

// Move is a status change gesture made on the board.
type Move struct {
	TaskID string
	From   model.Status
	To     model.Status
	// Note is the freeze reason or the completion notes.
	Note string
}

type Outcome string

const (
	Accepted        Outcome = "accepted"
	Rejected        Outcome = "rejected"
	PendingApproval Outcome = "pending_approval"
	NoOp            Outcome = "no_op"
	Ignored         Outcome = "ignored"
)

// Result tells the caller whether to keep the gesture on screen.
type Result struct {
	Outcome Outcome
	// Task is the stored task after the move, zero for Ignored.
	Task model.Task
	Err  error
}

// Revert reports whether the gesture has to be undone visually.
func (r Result) Revert() bool {
	return r.Outcome == Rejected || r.Outcome == Ignored
}

func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// RequestMove validates a manual move and routes it to the workflow that owns
// it. Freezing and completing only open a request; the status flips once the
// authority approves it.
func (b *Board) RequestMove(ctx context.Context, mv Move) Result {
	const op = "board.Board.RequestMove"
	log := b.log.WithFields(logrus.Fields{
		"operation": op,
		"task_id":   mv.TaskID,
		"from":      mv.From,
		"to":        mv.To,
	})

	res := b.move(ctx, mv)
	b.metrics.Move(string(res.Outcome))

	switch res.Outcome {
	case Ignored:
		log.WithError(res.Err).Warn("move ignored")
	case Rejected:
		log.WithError(res.Err).Info("move rejected")
	default:
		log.WithField("outcome", res.Outcome).Debug("move handled")
	}
	return res
}

func (b *Board) move(ctx context.Context, mv Move) Result {
	current, err := b.store.Get(mv.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Outcome: Ignored, Err: fmt.Errorf("%w: %s", ErrStaleTaskReference, mv.TaskID)}
	}
	if err != nil {
		return Result{Outcome: Rejected, Err: err}
	}

	if mv.From == mv.To {
		return Result{Outcome: NoOp, Task: current}
	}
	if mv.From != current.Status {
		return Result{Outcome: Rejected, Task: current, Err: fmt.Errorf("%w: task is %s, not %s", lifecycle.ErrInvalidTransition, current.Status, mv.From)}
	}

	wf, err := lifecycle.Route(mv.From, mv.To, lifecycle.Manual)
	if err != nil {
		return Result{Outcome: Rejected, Task: current, Err: err}
	}

	var (
		task    model.Task
		outcome Outcome
	)
	switch wf {
	case lifecycle.Freeze:
		task, err = b.coord.RequestFreeze(ctx, mv.TaskID, mv.Note)
		outcome = PendingApproval
	case lifecycle.Unfreeze:
		task, err = b.coord.Unfreeze(ctx, mv.TaskID)
		outcome = Accepted
	case lifecycle.Completion:
		task, err = b.coord.RequestCompletion(ctx, mv.TaskID, mv.Note)
		outcome = PendingApproval
	default:
		return Result{Outcome: Rejected, Task: current, Err: fmt.Errorf("%w: no manual path for %s", lifecycle.ErrInvalidTransition, wf)}
	}

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Outcome: Ignored, Err: fmt.Errorf("%w: %v", ErrStaleTaskReference, err)}
		}
		return Result{Outcome: Rejected, Task: task, Err: err}
	}
	return Result{Outcome: outcome, Task: task}
}
