// Package calendar merges the expanded occurrences of a user's tasks into
// a single chronological view.
package calendar

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/recurrence"
)

// TaskSource returns the candidate tasks for a window. It may return
// tasks with no occurrence in the window; it must not omit any that
// have one.
type TaskSource interface {
	ListForWindow(ctx context.Context, userID string, from, to time.Time) ([]model.Task, error)
}

// Options bounds the work done per request.
type Options struct {
	// Location is the zone weekday and month arithmetic happens in.
	Location *time.Location
	// MaxTasks caps the tasks expanded per request; 0 means unlimited.
	MaxTasks       int
	MaxOccurrences int
	// Now overrides time.Now for tasks without dates.
	Now func() time.Time
}

// Service builds calendar views.
type Service struct {
	src  TaskSource
	opts Options
	exp  recurrence.Expander
}

// Events is the merged view of a window.
type Events struct {
	Occurrences []model.Occurrence `json:"events"`
	// Truncated is set when a safety cap dropped occurrences.
	Truncated bool `json:"truncated"`
	// TruncatedTasks lists tasks whose own expansion was cut short.
	TruncatedTasks []string `json:"truncatedTasks,omitempty"`
}

func NewService(src TaskSource, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		src:  src,
		opts: opts,
		exp: recurrence.Expander{
			Now:            opts.Now,
			MaxOccurrences: opts.MaxOccurrences,
		},
	}
}

// Location returns the display zone.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// Events returns every occurrence of the user's tasks in [from, to],
// ordered by start, then priority (highest first), then task id.
func (s *Service) Events(ctx context.Context, userID string, from, to time.Time) (Events, error) {
	out := Events{Occurrences: []model.Occurrence{}}
	if to.Before(from) {
		return out, nil
	}

	tasks, err := s.src.ListForWindow(ctx, userID, from, to)
	if err != nil {
		return out, fmt.Errorf("load tasks: %w", err)
	}

	if s.opts.MaxTasks > 0 && len(tasks) > s.opts.MaxTasks {
		appLog.Warn("calendar task cap reached", "user", userID, "tasks", len(tasks), "max", s.opts.MaxTasks)
		tasks = tasks[:s.opts.MaxTasks]
		out.Truncated = true
	}

	loc := s.opts.Location
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return Events{}, err
		}
		res := s.exp.Expand(task.In(loc), from.In(loc), to.In(loc))
		if res.Truncated {
			out.Truncated = true
			out.TruncatedTasks = append(out.TruncatedTasks, task.ID)
			appLog.Warn("occurrence cap reached", "user", userID, "task_id", task.ID,
				"from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339))
		}
		out.Occurrences = append(out.Occurrences, res.Occurrences...)
	}

	SortOccurrences(out.Occurrences)
	appLog.Debug("calendar events", "user", userID, "tasks", len(tasks), "occurrences", len(out.Occurrences))
	return out, nil
}

// SortOccurrences orders occurrences by start, priority descending and
// task id.
func SortOccurrences(occs []model.Occurrence) {
	slices.SortStableFunc(occs, func(a, b model.Occurrence) int {
		if c := a.StartAt.Compare(b.StartAt); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.TaskID, b.TaskID)
	})
}
