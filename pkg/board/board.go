// Package board is the engine a UI shell talks to. It owns the task store, the
// deadline monitor and the approval coordinator, and turns move gestures into
// lifecycle transitions.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/taskboard/pkg/authority"
	"github.com/harrisonrobin/taskboard/pkg/metrics"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/overdue"
	"github.com/harrisonrobin/taskboard/pkg/sla"
	"github.com/harrisonrobin/taskboard/pkg/store"
	"github.com/harrisonrobin/taskboard/pkg/timer"
	"github.com/harrisonrobin/taskboard/pkg/workflow"
)

// ErrStaleTaskReference is returned for ids the board no longer holds.
var ErrStaleTaskReference = errors.New("task is no longer on the board")

const DefaultTickInterval = time.Second

// Observer is called after every status change, automatic or manual.
type Observer func(before, after model.Task)

type Options struct {
	Policy        sla.Policy
	TickInterval  time.Duration
	CommitTimeout time.Duration
	Metrics       *metrics.Metrics
	Log           *logrus.Entry
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Board struct {
	store   *store.Store
	remote  authority.Authority
	policy  sla.Policy
	monitor *overdue.Monitor
	coord   *workflow.Coordinator
	metrics *metrics.Metrics
	log     *logrus.Entry
	clock   func() time.Time

	interval time.Duration

	mu        sync.RWMutex
	observers []Observer
}

func New(remote authority.Authority, opts Options) *Board {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	b := &Board{
		store:    store.New(),
		remote:   remote,
		policy:   opts.Policy,
		metrics:  opts.Metrics,
		log:      log.WithField("component", "board"),
		clock:    clock,
		interval: interval,
	}
	b.monitor = overdue.NewMonitor(b.store, b.policy, remote, log,
		overdue.WithMetrics(opts.Metrics),
		overdue.WithCommitTimeout(opts.CommitTimeout),
		overdue.WithNotify(b.notify),
	)
	b.coord = workflow.New(b.store, remote, log).
		WithClock(clock).
		WithMetrics(opts.Metrics).
		WithNotify(b.notify)
	return b
}

// Subscribe registers an observer for status changes.
func (b *Board) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Load populates the board from the remote authority, one request per status.
func (b *Board) Load(ctx context.Context) error {
	const op = "board.Board.Load"

	results := make([][]model.Task, len(model.Statuses))
	g, gctx := errgroup.WithContext(ctx)
	for i, status := range model.Statuses {
		i, status := i, status
		g.Go(func() error {
			tasks, err := b.remote.ListTasksByStatus(gctx, status)
			if err != nil {
				return fmt.Errorf("list %s tasks: %w", status, err)
			}
			results[i] = tasks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var all []model.Task
	for _, tasks := range results {
		all = append(all, tasks...)
	}
	if err := b.store.Replace(all); err != nil {
		return err
	}

	b.metrics.SetTasks(all)
	b.log.WithFields(logrus.Fields{"operation": op, "tasks": len(all)}).Info("board loaded")
	return nil
}

// LoadSnapshot warm-starts the board from a file written by SaveSnapshot.
func (b *Board) LoadSnapshot(path string) error {
	if err := b.store.Load(path); err != nil {
		return err
	}
	b.metrics.SetTasks(b.store.List())
	return nil
}

func (b *Board) SaveSnapshot(path string) error {
	return b.store.Save(path)
}

// Tasks returns every task on the board ordered by creation time.
func (b *Board) Tasks() []model.Task {
	return b.store.List()
}

func (b *Board) Task(id string) (model.Task, error) {
	t, err := b.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return t, fmt.Errorf("%w: %s", ErrStaleTaskReference, id)
	}
	return t, err
}

// TimerView renders the countdown of a task at now.
func (b *Board) TimerView(id string, now time.Time) (timer.View, error) {
	t, err := b.Task(id)
	if err != nil {
		return timer.View{}, err
	}
	return timer.ViewOf(t, b.policy, now), nil
}

// Tick advances the deadline monitor by one pass.
func (b *Board) Tick(ctx context.Context, now time.Time) []string {
	return b.monitor.Tick(ctx, now)
}

// Run ticks the deadline monitor until ctx is cancelled.
func (b *Board) Run(ctx context.Context) {
	b.monitor.Run(ctx, b.interval, b.clock)
}

func (b *Board) ApproveFreeze(ctx context.Context, id string) (model.Task, error) {
	return b.resolved(b.coord.ApproveFreeze(ctx, id))
}

func (b *Board) DenyFreeze(ctx context.Context, id string) (model.Task, error) {
	return b.resolved(b.coord.DenyFreeze(ctx, id))
}

func (b *Board) ApproveCompletion(ctx context.Context, id string) (model.Task, error) {
	return b.resolved(b.coord.ApproveCompletion(ctx, id))
}

func (b *Board) DenyCompletion(ctx context.Context, id string) (model.Task, error) {
	return b.resolved(b.coord.DenyCompletion(ctx, id))
}

// Reassign changes the owner of a task on the authority and then locally.
// Ownership is outside the status machine; observers still see the change.
func (b *Board) Reassign(ctx context.Context, id, ownerID string) (model.Task, error) {
	const op = "board.Board.Reassign"
	log := b.log.WithFields(logrus.Fields{"operation": op, "task_id": id, "owner_id": ownerID})

	if _, err := b.Task(id); err != nil {
		return model.Task{}, err
	}
	if err := b.remote.Reassign(ctx, id, ownerID); err != nil {
		b.metrics.CommitFailed("reassign")
		log.WithError(err).Warn("failed to reassign task")
		return model.Task{}, fmt.Errorf("reassign %s: %w", id, err)
	}

	var before model.Task
	t, err := b.store.Update(id, func(t *model.Task) error {
		before = t.Clone()
		t.OwnerID = ownerID
		return nil
	})
	if err != nil {
		return b.resolved(t, err)
	}
	log.Info("task reassigned")
	if before.OwnerID != t.OwnerID {
		b.notify(before, t)
	}
	return t, nil
}

// Close stops accepting changes and waits for in-flight escalation commits,
// whose results are discarded.
func (b *Board) Close() {
	b.store.Close()
	b.monitor.Wait()
}

func (b *Board) resolved(t model.Task, err error) (model.Task, error) {
	if errors.Is(err, store.ErrNotFound) {
		return t, fmt.Errorf("%w: %v", ErrStaleTaskReference, err)
	}
	return t, err
}

func (b *Board) notify(before, after model.Task) {
	b.mu.RLock()
	observers := append([]Observer(nil), b.observers...)
	b.mu.RUnlock()

	for _, o := range observers {
		b.call(o, before, after)
	}
	b.metrics.SetTasks(b.store.List())
}

func (b *Board) call(o Observer, before, after model.Task) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{"task_id": after.ID, "panic": r}).Error("observer panicked")
		}
	}()
	o(before, after)
}
