package board

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/taskboard/pkg/authority"
	"github.com/harrisonrobin/taskboard/pkg/lifecycle"
	"github.com/harrisonrobin/taskboard/pkg/metrics"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sla"
)

var t0 = time.Date(2024, 5, 6, 8, 30, 0, 0, time.UTC)

func newBoard(t *testing.T, tasks ...model.Task) (*Board, *authority.Memory) {
	t.Helper()
	remote := authority.NewMemory(tasks...)
	b := New(remote, Options{
		Policy:  sla.Default(),
		Metrics: metrics.New(prometheus.NewRegistry()),
		Clock:   func() time.Time { return t0.Add(time.Hour) },
	})
	require.NoError(t, b.Load(context.Background()))
	t.Cleanup(b.Close)
	return b, remote
}

func taskIn(id string, status model.Status) model.Task {
	t := model.Task{ID: id, Title: id, Priority: model.Important, Status: status, CreatedAt: t0}
	switch status {
	case model.Frozen:
		t.FrozenAt = model.TimePtr(t0.Add(10 * time.Minute))
	case model.Delayed:
		t.DelayedAt = model.TimePtr(t0.Add(48 * time.Hour))
	case model.Completed:
		t.CompletedAt = model.TimePtr(t0.Add(20 * time.Minute))
	}
	return t
}

func TestLoadPullsEveryStatus(t *testing.T) {
	b, remote := newBoard(t,
		taskIn("O", model.Opened),
		taskIn("F", model.Frozen),
		taskIn("D", model.Delayed),
		taskIn("C", model.Completed),
	)

	var ids []string
	for _, task := range b.Tasks() {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{"O", "F", "D", "C"}, ids)
	assert.Len(t, remote.Calls("listTasksByStatus"), len(model.Statuses))
}

func TestLoadFailure(t *testing.T) {
	remote := authority.NewMemory(taskIn("O", model.Opened))
	remote.Fail("listTasksByStatus", errors.New("unreachable"))
	b := New(remote, Options{Policy: sla.Default()})
	defer b.Close()

	err := b.Load(context.Background())
	assert.ErrorIs(t, err, authority.ErrRemoteCommit)
	assert.Empty(t, b.Tasks())
}

func TestScenarioCFrozenToCompletedIsRejected(t *testing.T) {
	b, remote := newBoard(t, taskIn("F-1", model.Frozen))

	res := b.RequestMove(context.Background(), Move{TaskID: "F-1", From: model.Frozen, To: model.Completed})
	assert.Equal(t, Rejected, res.Outcome)
	assert.ErrorIs(t, res.Err, lifecycle.ErrInvalidTransition)
	assert.True(t, res.Revert())
	assert.Equal(t, "movement not allowed: frozen -> completed", res.Reason())

	got, err := b.Task("F-1")
	require.NoError(t, err)
	assert.Equal(t, taskIn("F-1", model.Frozen), got)
	assert.Empty(t, remote.Calls("submitCompletion"))
}

func TestScenarioDDelayedToCompletedGoesThroughApproval(t *testing.T) {
	b, remote := newBoard(t, taskIn("D-1", model.Delayed))
	ctx := context.Background()

	res := b.RequestMove(ctx, Move{TaskID: "D-1", From: model.Delayed, To: model.Completed, Note: "fixed"})
	require.NoError(t, res.Err)
	assert.Equal(t, PendingApproval, res.Outcome)
	assert.False(t, res.Revert())
	assert.Equal(t, model.Delayed, res.Task.Status)
	assert.Equal(t, []authority.Call{{Op: "submitCompletion", TaskID: "D-1", Arg: "fixed"}}, remote.Calls("submitCompletion"))

	done, err := b.ApproveCompletion(ctx, "D-1")
	require.NoError(t, err)
	assert.Equal(t, model.Completed, done.Status)
	assert.Equal(t, "fixed", done.CompletionNotes)
	assert.NotNil(t, done.CompletedAt)
}

func TestManualMatrix(t *testing.T) {
	allowed := map[[2]model.Status]Outcome{
		{model.Opened, model.Frozen}:     PendingApproval,
		{model.Opened, model.Completed}:  PendingApproval,
		{model.Frozen, model.Opened}:     Accepted,
		{model.Delayed, model.Completed}: PendingApproval,
	}

	for _, from := range model.Statuses {
		for _, to := range model.Statuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				b, _ := newBoard(t, taskIn("T", from))
				res := b.RequestMove(context.Background(), Move{TaskID: "T", From: from, To: to})
				after, err := b.Task("T")
				require.NoError(t, err)

				if from == to {
					assert.Equal(t, NoOp, res.Outcome)
					assert.NoError(t, res.Err)
					assert.Equal(t, from, after.Status)
					return
				}
				if want, ok := allowed[[2]model.Status{from, to}]; ok {
					require.NoError(t, res.Err)
					assert.Equal(t, want, res.Outcome)
					return
				}
				assert.Equal(t, Rejected, res.Outcome)
				assert.ErrorIs(t, res.Err, lifecycle.ErrInvalidTransition)
				assert.Equal(t, taskIn("T", from), after, "stored task is unchanged")
			})
		}
	}
}

func TestFreezeMoveThenApproval(t *testing.T) {
	b, _ := newBoard(t, taskIn("O-1", model.Opened))
	ctx := context.Background()

	var changes [][2]model.Status
	b.Subscribe(func(before, after model.Task) {
		changes = append(changes, [2]model.Status{before.Status, after.Status})
	})

	res := b.RequestMove(ctx, Move{TaskID: "O-1", From: model.Opened, To: model.Frozen, Note: "pending info"})
	require.NoError(t, res.Err)
	assert.Equal(t, PendingApproval, res.Outcome)
	assert.True(t, res.Task.HasPendingFreezeRequest())
	assert.Empty(t, changes, "a request alone changes no status")

	dup := b.RequestMove(ctx, Move{TaskID: "O-1", From: model.Opened, To: model.Frozen, Note: "again"})
	assert.Equal(t, Rejected, dup.Outcome)
	assert.ErrorIs(t, dup.Err, lifecycle.ErrPendingApprovalExists)

	frozen, err := b.ApproveFreeze(ctx, "O-1")
	require.NoError(t, err)
	assert.Equal(t, model.Frozen, frozen.Status)
	assert.Equal(t, [][2]model.Status{{model.Opened, model.Frozen}}, changes)

	res = b.RequestMove(ctx, Move{TaskID: "O-1", From: model.Frozen, To: model.Opened})
	require.NoError(t, res.Err)
	assert.Equal(t, Accepted, res.Outcome)
	assert.Equal(t, model.Opened, res.Task.Status)
	assert.Nil(t, res.Task.FrozenAt)
}

func TestStaleTaskReference(t *testing.T) {
	b, _ := newBoard(t)

	res := b.RequestMove(context.Background(), Move{TaskID: "gone", From: model.Opened, To: model.Frozen})
	assert.Equal(t, Ignored, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrStaleTaskReference)
	assert.True(t, res.Revert())

	_, err := b.TimerView("gone", t0)
	assert.ErrorIs(t, err, ErrStaleTaskReference)
}

func TestFromMismatchIsRejected(t *testing.T) {
	b, remote := newBoard(t, taskIn("D-2", model.Delayed))

	res := b.RequestMove(context.Background(), Move{TaskID: "D-2", From: model.Opened, To: model.Frozen})
	assert.Equal(t, Rejected, res.Outcome)
	assert.ErrorIs(t, res.Err, lifecycle.ErrInvalidTransition)
	assert.Empty(t, remote.Calls("submitFreezeRequest"))
}

func TestRemoteFailureRevertsMove(t *testing.T) {
	b, remote := newBoard(t, taskIn("O-2", model.Opened))
	remote.Fail("submitFreezeRequest", errors.New("bad gateway"))

	res := b.RequestMove(context.Background(), Move{TaskID: "O-2", From: model.Opened, To: model.Frozen, Note: "x"})
	assert.Equal(t, Rejected, res.Outcome)
	assert.ErrorIs(t, res.Err, authority.ErrRemoteCommit)
	assert.True(t, res.Revert())

	got, _ := b.Task("O-2")
	assert.False(t, got.HasPendingFreezeRequest())
	assert.Equal(t, model.Opened, got.Status)
}

func TestTimerViewStopsWhenFrozen(t *testing.T) {
	b, _ := newBoard(t, taskIn("F-2", model.Frozen))

	first, err := b.TimerView("F-2", t0.Add(time.Hour))
	require.NoError(t, err)
	later, err := b.TimerView("F-2", t0.Add(300*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, later)
	assert.False(t, first.IsDelayed)
	assert.Equal(t, "1d 23h 50m 00s", first.Formatted)
}

func TestTickEscalatesAndNotifies(t *testing.T) {
	b, remote := newBoard(t, taskIn("O-3", model.Opened), taskIn("F-3", model.Frozen))

	notified := make(chan model.Task, 1)
	b.Subscribe(func(_, after model.Task) { notified <- after })

	ids := b.Tick(context.Background(), t0.Add(49*time.Hour))
	assert.Equal(t, []string{"O-3"}, ids)

	select {
	case after := <-notified:
		assert.Equal(t, model.Delayed, after.Status)
	case <-time.After(time.Second):
		t.Fatal("observer not called")
	}

	b.monitor.Wait()
	assert.Len(t, remote.Calls("commitDelayed"), 1)

	view, err := b.TimerView("O-3", t0.Add(49*time.Hour))
	require.NoError(t, err)
	assert.True(t, view.IsDelayed)
	assert.Equal(t, "-0d 01h 00m 00s", view.Formatted)
}

func TestObserverPanicIsContained(t *testing.T) {
	b, _ := newBoard(t, taskIn("O-4", model.Opened))
	b.Subscribe(func(_, _ model.Task) { panic("boom") })

	var ids []string
	require.NotPanics(t, func() { ids = b.Tick(context.Background(), t0.Add(49*time.Hour)) })
	assert.Equal(t, []string{"O-4"}, ids)
}

func TestReassign(t *testing.T) {
	b, remote := newBoard(t, taskIn("O-5", model.Opened))
	var owners []string
	b.Subscribe(func(before, after model.Task) {
		owners = append(owners, before.OwnerID+"->"+after.OwnerID)
	})

	got, err := b.Reassign(context.Background(), "O-5", "user-7")
	require.NoError(t, err)
	assert.Equal(t, "user-7", got.OwnerID)
	assert.Equal(t, model.Opened, got.Status)
	assert.Equal(t, []string{"->user-7"}, owners)

	_, err = b.Reassign(context.Background(), "O-5", "user-7")
	require.NoError(t, err)
	assert.Len(t, owners, 1)

	remoteCopy, _ := remote.Task("O-5")
	assert.Equal(t, "user-7", remoteCopy.OwnerID)

	remote.Fail("reassign", errors.New("forbidden"))
	_, err = b.Reassign(context.Background(), "O-5", "user-8")
	assert.ErrorIs(t, err, authority.ErrRemoteCommit)
	local, _ := b.Task("O-5")
	assert.Equal(t, "user-7", local.OwnerID)

	_, err = b.Reassign(context.Background(), "nope", "user-8")
	assert.ErrorIs(t, err, ErrStaleTaskReference)
}

func TestCloseDropsLateWork(t *testing.T) {
	remote := authority.NewMemory(taskIn("O-6", model.Opened))
	b := New(remote, Options{Policy: sla.Default()})
	require.NoError(t, b.Load(context.Background()))

	release := remote.Hold()
	b.Tick(context.Background(), t0.Add(49*time.Hour))
	go release()
	b.Close()

	res := b.RequestMove(context.Background(), Move{TaskID: "O-6", From: model.Delayed, To: model.Completed})
	assert.Equal(t, Rejected, res.Outcome)
	assert.Empty(t, b.Tick(context.Background(), t0.Add(100*time.Hour)))
}

func TestSnapshotRoundTrip(t *testing.T) {
	b, _ := newBoard(t, taskIn("O-7", model.Opened), taskIn("C-7", model.Completed))
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, b.SaveSnapshot(path))

	warm := New(authority.NewMemory(), Options{Policy: sla.Default()})
	defer warm.Close()
	require.NoError(t, warm.LoadSnapshot(path))
	assert.Equal(t, b.Tasks(), warm.Tasks())
}
