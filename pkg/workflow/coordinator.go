// Package workflow coordinates the two-step freeze and completion requests:
// a request is recorded locally, submitted to the remote authority and only
// flips the task status once the authority approves it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskboard/pkg/authority"
	"github.com/harrisonrobin/taskboard/pkg/lifecycle"
	"github.com/harrisonrobin/taskboard/pkg/metrics"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/store"
)

// Coordinator owns the freeze, unfreeze and completion paths.
type Coordinator struct {
	store   *store.Store
	remote  authority.Authority
	log     *logrus.Entry
	metrics *metrics.Metrics
	clock   func() time.Time
	notify  func(before, after model.Task)
}

func New(s *store.Store, remote authority.Authority, log *logrus.Entry) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		store:  s,
		remote: remote,
		log:    log.WithField("component", "workflow"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// WithNotify registers fn to be called after every status change applied by
// the coordinator.
func (c *Coordinator) WithNotify(fn func(before, after model.Task)) *Coordinator {
	c.notify = fn
	return c
}

// RequestFreeze records a pending freeze request and submits it. The task
// stays Opened until ApproveFreeze.
func (c *Coordinator) RequestFreeze(ctx context.Context, taskID, reason string) (model.Task, error) {
	return c.request(ctx, taskID, model.Frozen, reason, c.remote.SubmitFreezeRequest)
}

// ApproveFreeze confirms the pending freeze request and freezes the task. A
// request the task can no longer honour is denied on the authority instead.
func (c *Coordinator) ApproveFreeze(ctx context.Context, taskID string) (model.Task, error) {
	return c.approve(ctx, taskID, model.Frozen, c.remote.ApproveFreeze, c.remote.DenyFreeze)
}

// DenyFreeze rejects the pending freeze request; the status does not change.
func (c *Coordinator) DenyFreeze(ctx context.Context, taskID string) (model.Task, error) {
	return c.deny(ctx, taskID, model.FreezeApproval, c.remote.DenyFreeze)
}

// RequestCompletion records a pending completion request with optional notes.
func (c *Coordinator) RequestCompletion(ctx context.Context, taskID, notes string) (model.Task, error) {
	return c.request(ctx, taskID, model.Completed, notes, c.remote.SubmitCompletion)
}

func (c *Coordinator) ApproveCompletion(ctx context.Context, taskID string) (model.Task, error) {
	return c.approve(ctx, taskID, model.Completed, c.remote.ApproveCompletion, c.remote.DenyCompletion)
}

func (c *Coordinator) DenyCompletion(ctx context.Context, taskID string) (model.Task, error) {
	return c.deny(ctx, taskID, model.CompletionApproval, c.remote.DenyCompletion)
}

// Unfreeze commits Frozen -> Opened on the authority, then reopens the task.
func (c *Coordinator) Unfreeze(ctx context.Context, taskID string) (model.Task, error) {
	const op = "workflow.Coordinator.Unfreeze"
	log := c.log.WithFields(logrus.Fields{"operation": op, "task_id": taskID})

	current, err := c.store.Get(taskID)
	if err != nil {
		return model.Task{}, err
	}
	if _, err := lifecycle.Route(current.Status, model.Opened, lifecycle.Manual); err != nil {
		return current, err
	}

	if err := c.remote.Unfreeze(ctx, taskID); err != nil {
		c.metrics.CommitFailed("unfreeze")
		log.WithError(err).Warn("failed to unfreeze task")
		return current, fmt.Errorf("unfreeze %s: %w", taskID, err)
	}

	var before model.Task
	after, err := c.store.Update(taskID, func(t *model.Task) error {
		next, wf, err := lifecycle.Attempt(*t, model.Opened, lifecycle.Approval)
		if err != nil {
			return err
		}
		before = t.Clone()
		*t = lifecycle.Stamp(next, wf, c.clock())
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("unfreeze confirmed remotely but could not be applied")
		return after, err
	}

	log.Info("task unfrozen")
	c.changed(before, after)
	return after, nil
}

type submitFunc func(ctx context.Context, taskID, text string) error
type resolveFunc func(ctx context.Context, taskID string) error

func (c *Coordinator) request(ctx context.Context, taskID string, target model.Status, text string, submit submitFunc) (model.Task, error) {
	const op = "workflow.Coordinator.Request"
	log := c.log.WithFields(logrus.Fields{"operation": op, "task_id": taskID, "target": target})

	requestID := uuid.New().String()
	var kind model.ApprovalKind

	pending, err := c.store.Update(taskID, func(t *model.Task) error {
		_, wf, err := lifecycle.Attempt(*t, target, lifecycle.Manual)
		if err != nil {
			return err
		}
		kind = lifecycle.Kind(wf)
		t.Approval = model.Approval{
			Kind:        kind,
			State:       model.Pending,
			RequestID:   requestID,
			Reason:      text,
			RequestedAt: model.TimePtr(c.clock()),
		}
		return nil
	})
	if err != nil {
		return pending, err
	}

	if err := submit(ctx, taskID, text); err != nil {
		c.metrics.CommitFailed("submit_" + string(kind))
		log.WithError(err).Warn("failed to submit request, rolling back")
		rolled, rerr := c.store.Update(taskID, func(t *model.Task) error {
			if t.Approval.RequestID == requestID {
				t.Approval = model.Approval{}
			}
			return nil
		})
		if rerr != nil {
			rolled = pending
		}
		return rolled, fmt.Errorf("submit %s request for %s: %w", kind, taskID, err)
	}

	log.WithField("request_id", requestID).Info("request submitted, waiting for approval")
	return pending, nil
}

func (c *Coordinator) approve(ctx context.Context, taskID string, target model.Status, resolve, reject resolveFunc) (model.Task, error) {
	const op = "workflow.Coordinator.Approve"
	log := c.log.WithFields(logrus.Fields{"operation": op, "task_id": taskID, "target": target})

	current, err := c.store.Get(taskID)
	if err != nil {
		return model.Task{}, err
	}
	kind := model.FreezeApproval
	if target == model.Completed {
		kind = model.CompletionApproval
	}
	if !current.Approval.IsPending(kind) {
		return current, fmt.Errorf("%w: no pending %s request for %s", lifecycle.ErrInvalidTransition, kind, taskID)
	}
	if _, _, err := lifecycle.Attempt(current, target, lifecycle.Approval); err != nil {
		log.WithError(err).Warn("request no longer applies, denying it")
		denied, derr := c.deny(ctx, taskID, kind, reject)
		if derr != nil {
			return denied, errors.Join(err, derr)
		}
		return denied, err
	}

	if err := resolve(ctx, taskID); err != nil {
		c.metrics.CommitFailed("approve_" + string(kind))
		log.WithError(err).Warn("failed to approve request")
		return current, fmt.Errorf("approve %s request for %s: %w", kind, taskID, err)
	}

	var before model.Task
	var moveErr error
	after, err := c.store.Update(taskID, func(t *model.Task) error {
		before = t.Clone()
		next, wf, err := lifecycle.Attempt(*t, target, lifecycle.Approval)
		if err != nil {
			// the task moved on while the request was pending, e.g. it was
			// escalated to delayed before a freeze was approved
			moveErr = err
			if t.Approval.IsPending(kind) {
				t.Approval.State = model.Denied
			}
			return nil
		}
		*t = lifecycle.Stamp(next, wf, c.clock())
		return nil
	})
	if err != nil {
		return after, err
	}
	if moveErr != nil {
		c.metrics.Resolved(kind, model.Denied)
		log.WithError(moveErr).Warn("approved request no longer applies, dropped")
		return after, moveErr
	}

	c.metrics.Resolved(kind, model.Approved)
	log.Info("request approved")
	c.changed(before, after)
	return after, nil
}

func (c *Coordinator) deny(ctx context.Context, taskID string, kind model.ApprovalKind, resolve resolveFunc) (model.Task, error) {
	const op = "workflow.Coordinator.Deny"
	log := c.log.WithFields(logrus.Fields{"operation": op, "task_id": taskID, "kind": kind})

	current, err := c.store.Get(taskID)
	if err != nil {
		return model.Task{}, err
	}
	if !current.Approval.IsPending(kind) {
		return current, fmt.Errorf("%w: no pending %s request for %s", lifecycle.ErrInvalidTransition, kind, taskID)
	}

	if err := resolve(ctx, taskID); err != nil {
		c.metrics.CommitFailed("deny_" + string(kind))
		log.WithError(err).Warn("failed to deny request")
		return current, fmt.Errorf("deny %s request for %s: %w", kind, taskID, err)
	}

	after, err := c.store.Update(taskID, func(t *model.Task) error {
		if !t.Approval.IsPending(kind) {
			return errors.New("request already resolved")
		}
		t.Approval.State = model.Denied
		return nil
	})
	if err != nil {
		log.WithError(err).Debug("deny had nothing left to apply")
		return after, nil
	}

	c.metrics.Resolved(kind, model.Denied)
	log.Info("request denied")
	return after, nil
}

func (c *Coordinator) changed(before, after model.Task) {
	if c.notify != nil && before.Status != after.Status {
		c.notify(before, after)
	}
}
