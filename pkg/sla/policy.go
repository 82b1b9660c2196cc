// Package sla holds the service-level windows allowed for each task priority.
package sla

import (
	"time"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

const (
	DefaultRegular   = 72 * time.Hour
	DefaultImportant = 48 * time.Hour
	DefaultUrgent    = 24 * time.Hour
)

// Policy maps a priority to the time a task may stay open.
type Policy struct {
	windows map[model.Priority]time.Duration
}

// Default returns the built-in policy table.
func Default() Policy {
	return Policy{windows: map[model.Priority]time.Duration{
		model.Regular:   DefaultRegular,
		model.Important: DefaultImportant,
		model.Urgent:    DefaultUrgent,
	}}
}

// WithOverrides returns a copy of p where every positive override replaces the
// built-in window for its priority.
func (p Policy) WithOverrides(overrides map[model.Priority]time.Duration) Policy {
	if p.windows == nil {
		p = Default()
	}
	windows := make(map[model.Priority]time.Duration, len(p.windows))
	for k, v := range p.windows {
		windows[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			windows[k] = v
		}
	}
	return Policy{windows: windows}
}

// Window returns the allowed open duration for priority. Unknown priorities get
// the Regular window.
func (p Policy) Window(priority model.Priority) time.Duration {
	if p.windows == nil {
		p = Default()
	}
	if d, ok := p.windows[priority]; ok {
		return d
	}
	return p.windows[model.Regular]
}

// Deadline is the instant a task created at createdAt breaches its window.
func (p Policy) Deadline(priority model.Priority, createdAt time.Time) time.Time {
	return createdAt.Add(p.Window(priority))
}
