package google

import (
	"context"
	"fmt"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/taskboard/pkg/colors"
	"github.com/harrisonrobin/taskboard/pkg/index"
	"github.com/harrisonrobin/taskboard/pkg/model"
	"github.com/harrisonrobin/taskboard/pkg/sla"
)

// CalendarClient is a Google Calendar API client.
type CalendarClient struct {
	srv        *calendar.Service
	calendarID string
	policy     sla.Policy
	index      *index.EventIndex
	colors     *colors.ColorCache
}

// NewCalendarClient creates a new Google Calendar client. idx and palette are
// optional.
func NewCalendarClient(srv *calendar.Service, calendarID string, policy sla.Policy, idx *index.EventIndex, palette *colors.ColorCache) *CalendarClient {
	return &CalendarClient{srv: srv, calendarID: calendarID, policy: policy, index: idx, colors: palette}
}

// SyncEvent creates the event mirroring task or patches the existing one.
func (c *CalendarClient) SyncEvent(ctx context.Context, task model.Task) (*calendar.Event, error) {
	colorID := colors.Unassigned
	if c.colors != nil {
		colorID = c.colors.ColorID(task.OwnerID)
	}
	event := BuildEvent(task, c.policy, colorID)

	var existing *calendar.Event
	// 1. Try local index first
	if c.index != nil {
		if eventID := c.index.Get(task.ID); eventID != "" {
			found, err := c.srv.Events.Get(c.calendarID, eventID).Context(ctx).Do()
			if err == nil && found.Status != "cancelled" {
				existing = found
			}
		}
	}

	// 2. Fallback to API search
	if existing == nil {
		found, err := c.GetEventByTaskID(ctx, task.ID)
		if err != nil {
			return nil, fmt.Errorf("error searching for event: %w", err)
		}
		existing = found
	}

	if existing != nil {
		patch, err := EventPatch(existing, event)
		if err != nil {
			return nil, fmt.Errorf("could not compare task with its calendar event: %w", err)
		}
		if patch == nil {
			c.remember(task.ID, existing.Id)
			return existing, nil
		}
		updated, err := c.PatchEvent(ctx, existing.Id, patch)
		if err != nil {
			return nil, err
		}
		c.remember(task.ID, updated.Id)
		return updated, nil
	}

	created, err := c.srv.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	c.remember(task.ID, created.Id)
	return created, nil
}

// PatchEvent performs a partial update on an event.
func (c *CalendarClient) PatchEvent(ctx context.Context, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	return c.srv.Events.Patch(c.calendarID, eventID, patch).Context(ctx).Do()
}

// GetEventByTaskID searches for the event carrying the task id property.
func (c *CalendarClient) GetEventByTaskID(ctx context.Context, taskID string) (*calendar.Event, error) {
	events, err := c.srv.Events.List(c.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", TaskIDProperty, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	for _, e := range events.Items {
		if id, ok := TaskIDFromEvent(e); ok && id == taskID {
			return e, nil
		}
	}
	return nil, nil
}

// Flush persists the event index and the color cache.
func (c *CalendarClient) Flush() error {
	if c.index != nil {
		if err := c.index.Save(); err != nil {
			return err
		}
	}
	if c.colors != nil {
		return c.colors.Save()
	}
	return nil
}

func (c *CalendarClient) remember(taskID, eventID string) {
	if c.index != nil {
		c.index.Set(taskID, eventID)
	}
}
