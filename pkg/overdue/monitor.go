// Package overdue runs the deadline monitor: a recurring scan of opened tasks
// that escalates every task whose SLA window has run out.
package overdue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskboard/pkg/lifecycle"
	"github.com/harrisonrobin/taskboard/pkg/metrics"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sla"
	"github.com/harrisonrobin/taskboard/pkg/store"
	"github.com/harrisonrobin/taskboard/pkg/timer"
)

const DefaultCommitTimeout = 30 * time.Second

// Committer persists an automatic escalation on the remote authority.
type Committer interface {
	CommitDelayed(ctx context.Context, taskID string) error
}

var errNotDue = errors.New("not due")

// Monitor escalates breached tasks. Commits run in their own goroutines so a
// slow authority never holds up the next tick.
type Monitor struct {
	store         *store.Store
	policy        sla.Policy
	committer     Committer
	log           *logrus.Entry
	metrics       *metrics.Metrics
	commitTimeout time.Duration
	notify        func(before, after model.Task)

	wg sync.WaitGroup
}

type Option func(*Monitor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

func WithCommitTimeout(d time.Duration) Option {
	return func(mon *Monitor) {
		if d > 0 {
			mon.commitTimeout = d
		}
	}
}

// WithNotify registers fn to be called after each local escalation.
func WithNotify(fn func(before, after model.Task)) Option {
	return func(mon *Monitor) { mon.notify = fn }
}

func NewMonitor(s *store.Store, policy sla.Policy, committer Committer, log *logrus.Entry, opts ...Option) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Monitor{
		store:         s,
		policy:        policy,
		committer:     committer,
		log:           log.WithField("component", "deadline-monitor"),
		commitTimeout: DefaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tick runs one evaluation pass at now and returns the ids escalated by it.
func (m *Monitor) Tick(ctx context.Context, now time.Time) []string {
	start := time.Now()

	var escalated []string
	for _, id := range m.store.IDs(model.Opened) {
		if m.escalate(ctx, id, now) {
			escalated = append(escalated, id)
		}
	}

	m.metrics.ObserveTick(time.Since(start).Seconds())
	return escalated
}

// escalate handles a single task. A failure here, panics included, is logged
// and never leaves the tick.
func (m *Monitor) escalate(ctx context.Context, id string, now time.Time) (ok bool) {
	const op = "overdue.Monitor.Tick"
	log := m.log.WithFields(logrus.Fields{"operation": op, "task_id": id})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("task evaluation panicked")
		}
	}()

	before, after, due := m.evaluate(id, now)
	if !due {
		return false
	}
	m.metrics.Escalated()
	log.WithField("priority", after.Priority).Info("task breached its SLA window, escalated to delayed")

	m.commit(ctx, id)
	ok = true

	if m.notify != nil {
		m.notify(before, after)
	}
	return ok
}

// Run ticks every interval until ctx is cancelled. clock supplies the tick
// timestamp; nil means time.Now.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.WithField("interval", interval).Debug("deadline monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("deadline monitor stopped")
			return
		case <-ticker.C:
			// a tick racing with cancellation is dropped
			if ctx.Err() != nil {
				continue
			}
			m.Tick(ctx, clock())
		}
	}
}

// Wait blocks until every in-flight commit has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// evaluate applies the automatic delayed transition under the task lock.
func (m *Monitor) evaluate(id string, now time.Time) (before, after model.Task, due bool) {
	_, err := m.store.Update(id, func(t *model.Task) error {
		if t.Status != model.Opened {
			return errNotDue
		}
		if !timer.Calculate(*t, m.policy, now).IsDelayed {
			return errNotDue
		}
		next, wf, err := lifecycle.Attempt(*t, model.Delayed, lifecycle.Automatic)
		if err != nil {
			return err
		}
		before = t.Clone()
		*t = lifecycle.Stamp(next, wf, now)
		after = t.Clone()
		return nil
	})

	switch {
	case err == nil:
		return before, after, true
	case errors.Is(err, errNotDue), errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrClosed):
		return model.Task{}, model.Task{}, false
	default:
		m.log.WithField("task_id", id).WithError(err).Warn("could not escalate task")
		return model.Task{}, model.Task{}, false
	}
}

func (m *Monitor) commit(ctx context.Context, id string) {
	const op = "commitDelayed"
	log := m.log.WithFields(logrus.Fields{"operation": op, "task_id": id})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		// the commit outlives the tick that issued it
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.commitTimeout)
		defer cancel()

		err := m.committer.CommitDelayed(cctx, id)
		if m.store.Closed() {
			log.Debug("task store disposed, discarding commit result")
			return
		}
		if err != nil {
			m.metrics.CommitFailed(op)
			log.WithError(fmt.Errorf("escalation kept locally: %w", err)).Warn("failed to commit delayed task")
			return
		}
		log.Debug("delayed task committed")
	}()
}
