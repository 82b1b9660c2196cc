// Package authority talks to the remote system of record for task status.
package authority

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

// ErrRemoteCommit is matched by every failure reported by an Authority.
var ErrRemoteCommit = errors.New("remote commit failed")

// Authority is the remote task authority. Every call is a suspension point and
// must honour ctx.
type Authority interface {
	ListTasksByStatus(ctx context.Context, status model.Status) ([]model.Task, error)
	CommitDelayed(ctx context.Context, taskID string) error
	SubmitFreezeRequest(ctx context.Context, taskID, reason string) error
	ApproveFreeze(ctx context.Context, taskID string) error
	DenyFreeze(ctx context.Context, taskID string) error
	Unfreeze(ctx context.Context, taskID string) error
	SubmitCompletion(ctx context.Context, taskID, notes string) error
	ApproveCompletion(ctx context.Context, taskID string) error
	DenyCompletion(ctx context.Context, taskID string) error
	Reassign(ctx context.Context, taskID, ownerID string) error
}

// RemoteError describes a rejected or failed call to the authority.
type RemoteError struct {
	Op         string
	TaskID     string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.TaskID, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.TaskID, msg)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is makes every RemoteError match ErrRemoteCommit.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteCommit
}
