package model

import (
	"time"

	"github.com/samber/mo"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Rule selects how a task repeats. The set is closed; anything else is
// treated as malformed by the recurrence engine.
type Rule string

const (
	RuleNone    Rule = "NONE"
	RuleDaily   Rule = "DAILY"
	RuleWeekly  Rule = "WEEKLY"
	RuleMonthly Rule = "MONTHLY"
)

// MaxInterval is the largest accepted recurrence interval.
const MaxInterval = 1000

// Recurrence describes how a task repeats.
type Recurrence struct {
	Rule Rule `json:"rule"`

	// Interval is the step in rule units (every N days/weeks/months).
	// Zero means 1.
	Interval int `json:"interval,omitempty"`

	// ByWeekday lists weekdays (0=Sunday .. 6=Saturday) for WEEKLY rules.
	ByWeekday []int `json:"byWeekday,omitempty"`

	// Count caps the total number of occurrences ever generated.
	Count mo.Option[int] `json:"count"`

	// Until excludes occurrences at or after this instant.
	Until mo.Option[time.Time] `json:"until"`
}

// ChecklistItem is a single sub-step of a task.
type ChecklistItem struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// Task is a user-owned unit of work, optionally dated and repeating.
type Task struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	Priority    int    `json:"priority"`

	// Tags holds tag ids; they are opaque to everything but the tag store.
	Tags []string `json:"tags"`

	StartAt mo.Option[time.Time] `json:"startAt"`
	DueAt   mo.Option[time.Time] `json:"dueAt"`
	AllDay  bool                 `json:"allDay"`

	EstimateMinutes mo.Option[int] `json:"estimateMinutes"`
	ActualMinutes   int            `json:"actualMinutes"`

	Recurrence *Recurrence     `json:"recurrence"`
	Checklist  []ChecklistItem `json:"checklist"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Recurring reports whether the task carries a rule other than NONE.
func (t Task) Recurring() bool {
	return t.Recurrence != nil && t.Recurrence.Rule != RuleNone && t.Recurrence.Rule != ""
}

// In returns a copy of t with every instant converted to loc. Weekday and
// month arithmetic in the recurrence engine follows the location of the
// base instant, so callers convert into the display zone first.
func (t Task) In(loc *time.Location) Task {
	if loc == nil {
		return t
	}
	out := t
	out.StartAt = inLocation(t.StartAt, loc)
	out.DueAt = inLocation(t.DueAt, loc)
	if t.Recurrence != nil {
		rec := *t.Recurrence
		rec.Until = inLocation(rec.Until, loc)
		out.Recurrence = &rec
	}
	return out
}

func inLocation(o mo.Option[time.Time], loc *time.Location) mo.Option[time.Time] {
	if v, ok := o.Get(); ok {
		return mo.Some(v.In(loc))
	}
	return o
}

// Tag is a user-defined label that tasks reference by id.
type Tag struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultTagColor is applied to tags created without a color.
const DefaultTagColor = "#3B82F6"

// Occurrence is one concrete, dated instance of a task inside a query
// window. It is derived on every request and never stored.
type Occurrence struct {
	TaskID string `json:"taskId"`

	// InstanceKey uniquely identifies the occurrence across requests.
	InstanceKey string `json:"instanceKey"`

	// Index is the position of the occurrence in the task's overall
	// sequence, independent of the query window.
	Index int `json:"index"`

	StartAt  time.Time `json:"startAt"`
	DueAt    time.Time `json:"dueAt"`
	AllDay   bool      `json:"allDay"`
	Title    string    `json:"title"`
	Status   Status    `json:"status"`
	Priority int       `json:"priority"`
	Tags     []string  `json:"tags"`
}
