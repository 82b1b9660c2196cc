package google

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/taskboard/pkg/colors"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sla"
)

// TaskIDProperty is the private extended property carrying the task id.
const TaskIDProperty = "task_id"

var descriptionID = regexp.MustCompile(`(?m)^ID: (\S+)$`)

// Summary is the event title: the task title prefixed with its status marker.
func Summary(task model.Task) string {
	prefix := ""
	switch task.Status {
	case model.Delayed:
		prefix = "!"
	case model.Frozen:
		prefix = "❄"
	case model.Completed:
		prefix = "✓"
	}
	if prefix == "" {
		return task.Title
	}
	return fmt.Sprintf("%s %s", prefix, task.Title)
}

// BuildEvent converts a task into the event that mirrors it. The event spans
// the task's SLA window.
func BuildEvent(task model.Task, policy sla.Policy, colorID string) *calendar.Event {
	start := task.CreatedAt
	end := policy.Deadline(task.Priority, task.CreatedAt)
	if task.Status == model.Delayed {
		colorID = colors.Delayed
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Status: %s\n", task.Status)
	fmt.Fprintf(&desc, "Priority: %s\n", task.Priority)
	if task.OwnerID != "" {
		fmt.Fprintf(&desc, "Owner: %s\n", task.OwnerID)
	}
	fmt.Fprintf(&desc, "ID: %s\n", task.ID)

	desc.WriteString("\nTimeline:\n")
	fmt.Fprintf(&desc, "• deadline: %s\n", end.UTC().Format(time.RFC3339))
	if task.FrozenAt != nil {
		fmt.Fprintf(&desc, "• frozen since: %s\n", task.FrozenAt.UTC().Format(time.RFC3339))
	}
	if task.DelayedAt != nil {
		fmt.Fprintf(&desc, "• delayed since: %s\n", task.DelayedAt.UTC().Format(time.RFC3339))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(&desc, "• completed: %s\n", task.CompletedAt.UTC().Format(time.RFC3339))
		if !task.CompletedAt.After(end) {
			fmt.Fprintf(&desc, "• ahead of deadline by: %s\n", end.Sub(*task.CompletedAt).Round(time.Minute))
		} else {
			fmt.Fprintf(&desc, "• over deadline by: %s\n", task.CompletedAt.Sub(end).Round(time.Minute))
		}
	}

	if task.FreezeReason != "" {
		fmt.Fprintf(&desc, "\nFreeze reason:\n‣ %s\n", task.FreezeReason)
	}
	if task.CompletionNotes != "" {
		fmt.Fprintf(&desc, "\nNotes:\n‣ %s\n", task.CompletionNotes)
	}

	return &calendar.Event{
		Summary:     Summary(task),
		ColorId:     colorID,
		Description: desc.String(),
		Start: &calendar.EventDateTime{
			DateTime: start.UTC().Format(time.RFC3339),
		},
		End: &calendar.EventDateTime{
			DateTime: end.UTC().Format(time.RFC3339),
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{TaskIDProperty: task.ID},
		},
	}
}

// EventPatch returns the fields of target that differ from existing, or nil
// when the event is already up to date.
func EventPatch(existing, target *calendar.Event) (*calendar.Event, error) {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		needsUpdate = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}

	same, err := sameSpan(existing, target)
	if err != nil {
		return nil, err
	}
	if !same {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if needsUpdate {
		return patch, nil
	}
	return nil, nil
}

func sameSpan(a, b *calendar.Event) (bool, error) {
	if a.Start == nil || a.End == nil {
		return false, nil
	}
	aStart, err := time.Parse(time.RFC3339, a.Start.DateTime)
	if err != nil {
		return false, err
	}
	bStart, err := time.Parse(time.RFC3339, b.Start.DateTime)
	if err != nil {
		return false, err
	}
	aEnd, err := time.Parse(time.RFC3339, a.End.DateTime)
	if err != nil {
		return false, err
	}
	bEnd, err := time.Parse(time.RFC3339, b.End.DateTime)
	if err != nil {
		return false, err
	}
	return aStart.Equal(bStart) && aEnd.Equal(bEnd), nil
}

// TaskIDFromEvent returns the id of the task an event mirrors. Events created
// before the extended property was set are matched on their description.
func TaskIDFromEvent(e *calendar.Event) (string, bool) {
	if e.ExtendedProperties != nil {
		if id, ok := e.ExtendedProperties.Private[TaskIDProperty]; ok && id != "" {
			return id, true
		}
	}
	matches := descriptionID.FindStringSubmatch(e.Description)
	if len(matches) > 1 {
		return matches[1], true
	}
	return "", false
}
