package model

import "time"

type Priority string

const (
	Regular   Priority = "regular"
	Important Priority = "important"
	Urgent    Priority = "urgent"
)

// Priorities lists every priority in ascending order of urgency.
var Priorities = []Priority{Regular, Important, Urgent}

type Status string

const (
	Opened    Status = "opened"
	Frozen    Status = "frozen"
	Delayed   Status = "delayed"
	Completed Status = "completed"
)

// Statuses lists every lifecycle status.
var Statuses = []Status{Opened, Frozen, Delayed, Completed}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case Opened, Frozen, Delayed, Completed:
		return true
	}
	return false
}

// ApprovalKind names the workflow a pending request belongs to.
type ApprovalKind string

const (
	FreezeApproval     ApprovalKind = "freeze"
	CompletionApproval ApprovalKind = "completion"
)

type ApprovalState string

const (
	Idle     ApprovalState = ""
	Pending  ApprovalState = "pending"
	Approved ApprovalState = "approved"
	Denied   ApprovalState = "denied"
)

// Approval is the two-step request attached to a task. Only one request can
// be Pending at a time.
type Approval struct {
	Kind        ApprovalKind  `json:"kind,omitempty"`
	State       ApprovalState `json:"state,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	RequestedAt *time.Time    `json:"requested_at,omitempty"`
}

// IsPending reports whether a request of the given kind is waiting for the
// remote authority. An empty kind matches any pending request.
func (a Approval) IsPending(kind ApprovalKind) bool {
	if a.State != Pending {
		return false
	}
	return kind == "" || a.Kind == kind
}

// Task is the engine's view of a case tracked on the board.
type Task struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`
	OwnerID  string   `json:"owner_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	FrozenAt    *time.Time `json:"frozen_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DelayedAt   *time.Time `json:"delayed_at,omitempty"`

	FreezeReason    string   `json:"freeze_reason,omitempty"`
	CompletionNotes string   `json:"completion_notes,omitempty"`
	Approval        Approval `json:"approval"`
}

// HasPendingFreezeRequest is true between a freeze request and its resolution.
func (t Task) HasPendingFreezeRequest() bool {
	return t.Approval.IsPending(FreezeApproval)
}

// Clone returns a deep copy so callers never share timestamp pointers with the store.
func (t Task) Clone() Task {
	c := t
	c.FrozenAt = cloneTime(t.FrozenAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.DelayedAt = cloneTime(t.DelayedAt)
	c.Approval.RequestedAt = cloneTime(t.Approval.RequestedAt)
	return c
}

// TimePtr returns a pointer to a copy of ts.
func TimePtr(ts time.Time) *time.Time {
	return &ts
}

func cloneTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
