package timer

import (
	"fmt"
	"time"

	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sla"
)

const day = 24 * time.Hour

// Timer is the SLA countdown of a task at a given instant.
type Timer struct {
	Elapsed     time.Duration
	Allowed     time.Duration
	Remaining   time.Duration // negative once overdue
	DaysElapsed int
	Deadline    time.Time
	IsDelayed   bool
}

// Calculate computes the countdown of task at now. Frozen and completed tasks
// are evaluated at the instant they left active monitoring, so their timer
// does not move afterwards.
func Calculate(task model.Task, policy sla.Policy, now time.Time) Timer {
	clock := ClockFor(task, now)
	if clock.Before(task.CreatedAt) {
		clock = task.CreatedAt
	}

	allowed := policy.Window(task.Priority)
	elapsed := clock.Sub(task.CreatedAt)
	remaining := allowed - elapsed

	return Timer{
		Elapsed:     elapsed,
		Allowed:     allowed,
		Remaining:   remaining,
		DaysElapsed: int(elapsed / day),
		Deadline:    task.CreatedAt.Add(allowed),
		IsDelayed:   remaining <= 0,
	}
}

// ClockFor returns the instant the timer of task should be read at.
func ClockFor(task model.Task, now time.Time) time.Time {
	switch task.Status {
	case model.Frozen:
		if task.FrozenAt != nil {
			return *task.FrozenAt
		}
	case model.Completed:
		if task.CompletedAt != nil {
			return *task.CompletedAt
		}
	}
	return now
}

// Breakdown is a duration split into display units.
type Breakdown struct {
	Negative bool
	Days     int
	Hours    int
	Minutes  int
	Seconds  int
}

// Format splits d into days, hours, minutes and seconds of its absolute value.
func Format(d time.Duration) Breakdown {
	b := Breakdown{Negative: d < 0}
	if d < 0 {
		d = -d
	}
	d = d.Truncate(time.Second)

	b.Days = int(d / day)
	d -= time.Duration(b.Days) * day
	b.Hours = int(d / time.Hour)
	d -= time.Duration(b.Hours) * time.Hour
	b.Minutes = int(d / time.Minute)
	d -= time.Duration(b.Minutes) * time.Minute
	b.Seconds = int(d / time.Second)
	return b
}

func (b Breakdown) String() string {
	sign := ""
	if b.Negative {
		sign = "-"
	}
	return fmt.Sprintf("%s%dd %02dh %02dm %02ds", sign, b.Days, b.Hours, b.Minutes, b.Seconds)
}

// View is what the board renders for a single task card.
type View struct {
	TaskID    string        `json:"task_id"`
	Status    model.Status  `json:"status"`
	Formatted string        `json:"formatted_time"`
	Remaining time.Duration `json:"remaining_ns"`
	IsDelayed bool          `json:"is_delayed"`
}

// ViewOf builds the render view for task at now.
func ViewOf(task model.Task, policy sla.Policy, now time.Time) View {
	t := Calculate(task, policy, now)
	return View{
		TaskID:    task.ID,
		Status:    task.Status,
		Formatted: Format(t.Remaining).String(),
		Remaining: t.Remaining,
		IsDelayed: t.IsDelayed,
	}
}
