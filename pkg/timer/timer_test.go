package timer

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sla"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func urgentTask() model.Task {
	return model.Task{ID: "CASE-1", Priority: model.Urgent, Status: model.Opened, CreatedAt: t0}
}

func TestCalculateOpened(t *testing.T) {
	policy := sla.Default()
	task := urgentTask()

	tm := Calculate(task, policy, t0.Add(30*time.Hour))
	assert.Equal(t, 24*time.Hour, tm.Allowed)
	assert.Equal(t, 30*time.Hour, tm.Elapsed)
	assert.Equal(t, -6*time.Hour, tm.Remaining)
	assert.Equal(t, 1, tm.DaysElapsed)
	assert.True(t, tm.IsDelayed)
	assert.Equal(t, t0.Add(24*time.Hour), tm.Deadline)
}

func TestScenarioABoundary(t *testing.T) {
	policy := sla.Default()
	task := urgentTask()
	window := policy.Window(model.Urgent)

	assert.False(t, Calculate(task, policy, t0.Add(window-time.Second)).IsDelayed)
	assert.True(t, Calculate(task, policy, t0.Add(window)).IsDelayed)
	assert.True(t, Calculate(task, policy, t0.Add(window+time.Second)).IsDelayed)
}

func TestClockClampedToCreation(t *testing.T) {
	tm := Calculate(urgentTask(), sla.Default(), t0.Add(-time.Hour))
	assert.Equal(t, time.Duration(0), tm.Elapsed)
	assert.Equal(t, 24*time.Hour, tm.Remaining)
}

func TestFrozenClockStops(t *testing.T) {
	policy := sla.Default()
	task := urgentTask()
	task.Status = model.Frozen
	task.FrozenAt = model.TimePtr(t0.Add(3 * time.Hour))

	first := ViewOf(task, policy, t0.Add(4*time.Hour))
	later := ViewOf(task, policy, t0.Add(400*time.Hour))
	assert.Equal(t, first, later)
	assert.Equal(t, 21*time.Hour, first.Remaining)
	assert.False(t, later.IsDelayed)
}

func TestCompletedClockStops(t *testing.T) {
	policy := sla.Default()
	task := urgentTask()
	task.Status = model.Completed
	task.CompletedAt = model.TimePtr(t0.Add(26 * time.Hour))

	tm := Calculate(task, policy, t0.Add(1000*time.Hour))
	assert.Equal(t, -2*time.Hour, tm.Remaining)
	assert.True(t, tm.IsDelayed)
}

func TestFormat(t *testing.T) {
	b := Format(2*day + 3*time.Hour + 4*time.Minute + 5*time.Second + 600*time.Millisecond)
	assert.Equal(t, Breakdown{Days: 2, Hours: 3, Minutes: 4, Seconds: 5}, b)
	assert.Equal(t, "2d 03h 04m 05s", b.String())

	neg := Format(-(time.Hour + 2*time.Second))
	assert.Equal(t, Breakdown{Negative: true, Hours: 1, Seconds: 2}, neg)
	assert.Equal(t, "-0d 01h 00m 02s", neg.String())

	assert.Equal(t, "0d 00h 00m 00s", Format(0).String())
}

func TestIsDelayedProperty(t *testing.T) {
	policy := sla.Default()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("delayed iff elapsed reaches the window", prop.ForAll(
		func(p int, offsetSec int64) bool {
			priority := model.Priorities[p]
			task := model.Task{Priority: priority, Status: model.Opened, CreatedAt: t0}
			now := t0.Add(time.Duration(offsetSec) * time.Second)
			want := now.Sub(t0) >= policy.Window(priority)
			return Calculate(task, policy, now).IsDelayed == want
		},
		gen.IntRange(0, len(model.Priorities)-1),
		gen.Int64Range(0, int64(10*day/time.Second)),
	))

	properties.Property("frozen view never changes after freezing", prop.ForAll(
		func(frozenSec, aSec, bSec int64) bool {
			frozenAt := t0.Add(time.Duration(frozenSec) * time.Second)
			task := model.Task{Priority: model.Important, Status: model.Frozen, CreatedAt: t0, FrozenAt: &frozenAt}
			a := ViewOf(task, policy, frozenAt.Add(time.Duration(aSec)*time.Second))
			b := ViewOf(task, policy, frozenAt.Add(time.Duration(bSec)*time.Second))
			return a == b
		},
		gen.Int64Range(0, int64(5*day/time.Second)),
		gen.Int64Range(1, int64(30*day/time.Second)),
		gen.Int64Range(1, int64(30*day/time.Second)),
	))

	properties.TestingRun(t)
}

func TestViewOf(t *testing.T) {
	task := urgentTask()
	v := ViewOf(task, sla.Default(), t0.Add(25*time.Hour))
	require.Equal(t, "CASE-1", v.TaskID)
	assert.Equal(t, model.Opened, v.Status)
	assert.Equal(t, "-0d 01h 00m 00s", v.Formatted)
	assert.True(t, v.IsDelayed)
}
