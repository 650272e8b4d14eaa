package model

import (
	"fmt"
	"strings"
)

// FieldError reports a single invalid field.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationError collects every invalid field found in one pass.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(path, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Normalize fills defaults the way a freshly created task expects them.
func (t *Task) Normalize() {
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == 0 {
		t.Priority = 3
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Checklist == nil {
		t.Checklist = []ChecklistItem{}
	}
	if t.Recurrence != nil && t.Recurrence.Interval == 0 {
		t.Recurrence.Interval = 1
	}
}

// Validate checks the task as stored data. Rejecting bad recurrence here
// keeps malformed rules out of new records; the expander still tolerates
// legacy ones.
func (t *Task) Validate() error {
	var ve ValidationError

	if t.Title == "" {
		ve.add("title", "title is required")
	}
	switch t.Status {
	case StatusTodo, StatusInProgress, StatusDone:
	default:
		ve.add("status", "must be one of todo, in_progress, done")
	}
	if t.Priority < 1 || t.Priority > 5 {
		ve.add("priority", "must be between 1 and 5")
	}
	if v, ok := t.EstimateMinutes.Get(); ok && v <= 0 {
		ve.add("estimateMinutes", "must be positive")
	}
	if t.ActualMinutes < 0 {
		ve.add("actualMinutes", "must not be negative")
	}
	for i, item := range t.Checklist {
		if strings.TrimSpace(item.Label) == "" {
			ve.add(fmt.Sprintf("checklist.%d.label", i), "label is required")
		}
	}
	if r := t.Recurrence; r != nil {
		switch r.Rule {
		case RuleNone, RuleDaily, RuleWeekly, RuleMonthly:
		default:
			ve.add("recurrence.rule", "must be one of NONE, DAILY, WEEKLY, MONTHLY")
		}
		if r.Interval <= 0 || r.Interval > MaxInterval {
			ve.add("recurrence.interval", "must be between 1 and %d", MaxInterval)
		}
		for i, wd := range r.ByWeekday {
			if wd < 0 || wd > 6 {
				ve.add(fmt.Sprintf("recurrence.byWeekday.%d", i), "must be between 0 and 6")
			}
		}
		if c, ok := r.Count.Get(); ok && c <= 0 {
			ve.add("recurrence.count", "must be a positive integer")
		}
	}

	return ve.orNil()
}

// Normalize trims the tag name and applies the default color.
func (t *Tag) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	if t.Color == "" {
		t.Color = DefaultTagColor
	}
}

// Validate checks the tag fields.
func (t *Tag) Validate() error {
	var ve ValidationError
	if t.Name == "" {
		ve.add("name", "name is required")
	}
	if len(t.Name) > 50 {
		ve.add("name", "must be at most 50 characters")
	}
	if !isHexColor(t.Color) {
		ve.add("color", "must be a hex color like #3B82F6")
	}
	return ve.orNil()
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
