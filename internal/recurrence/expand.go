package recurrence

import (
	"slices"
	"time"

	"taskcal/internal/model"
)

const (
	// DefaultMaxOccurrences bounds the occurrences emitted for a single
	// task per call, whatever the window, count or until say.
	DefaultMaxOccurrences = 365

	// maxSkips bounds the candidates a walk may pass over before the
	// window starts, on top of the emission cap.
	maxSkips = 64
)

// Expander turns a task into the concrete occurrences that fall inside a
// query window. The zero value is ready to use; it holds no mutable state
// and may be shared between goroutines.
type Expander struct {
	// Now supplies the base instant for a recurring task that has neither
	// startAt nor dueAt. If nil, time.Now is used.
	Now func() time.Time

	// MaxOccurrences is a safety cap on emitted occurrences per call.
	// If zero, DefaultMaxOccurrences is used.
	MaxOccurrences int
}

// Result wraps the expanded occurrences of one task.
type Result struct {
	Occurrences []model.Occurrence
	// Truncated reports that MaxOccurrences stopped the expansion while
	// further in-window occurrences remained.
	Truncated bool
}

// Expand expands task over the inclusive window [from, to] with the
// default Expander.
func Expand(task model.Task, from, to time.Time) []model.Occurrence {
	return Expander{}.Expand(task, from, to).Occurrences
}

// Expand returns the occurrences of task inside [from, to], in
// chronological order and without duplicate instants.
//
//   - A task without a usable recurrence is a single event: exactly one
//     occurrence when both startAt and dueAt are set and the event overlaps
//     the window, nothing otherwise.
//   - A recurring task yields instants computed from its base instant by
//     the sequence index, so count and until give the same answer for any
//     window.
//
// Malformed recurrence (unknown rule, interval outside 0..model.MaxInterval,
// weekday outside 0-6) degrades to the single-event behaviour; it is never an error.
func (e Expander) Expand(task model.Task, from, to time.Time) Result {
	if to.Before(from) {
		return Result{}
	}

	p, ok := planFor(task.Recurrence)
	if !ok {
		return Result{Occurrences: expandSingle(task, from, to)}
	}

	now := e.now()
	base := task.StartAt.OrElse(task.DueAt.OrElse(now))
	end := task.DueAt.OrElse(task.StartAt.OrElse(now))
	duration := end.Sub(base)
	if duration < 0 {
		duration = 0
	}

	c := &cursor{
		task:     task,
		from:     from,
		to:       to,
		until:    p.until,
		hasUntil: p.hasUntil,
		duration: duration,
		limit:    e.limit(),
	}
	c.budget = c.limit + maxSkips

	if len(p.weekdays) > 0 {
		p.walkWeekdays(c, base)
	} else {
		p.walkSteps(c, base)
	}

	return Result{Occurrences: c.out, Truncated: c.truncated}
}

func (e Expander) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Expander) limit() int {
	if e.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return e.MaxOccurrences
}

func expandSingle(task model.Task, from, to time.Time) []model.Occurrence {
	start, okStart := task.StartAt.Get()
	due, okDue := task.DueAt.Get()
	if !okStart || !okDue {
		return nil
	}

	overlaps := within(start, from, to) ||
		within(due, from, to) ||
		(!start.After(from) && !due.Before(to))
	if !overlaps {
		return nil
	}

	return []model.Occurrence{makeOccurrence(task, 0, start, due)}
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// plan is the validated, defaulted form of a task's recurrence.
type plan struct {
	rule     model.Rule
	interval int
	// weekdays is sorted and deduplicated; only set for WEEKLY.
	weekdays []int
	// count is zero when unbounded.
	count    int
	until    time.Time
	hasUntil bool
}

func planFor(rec *model.Recurrence) (plan, bool) {
	if rec == nil {
		return plan{}, false
	}
	switch rec.Rule {
	case model.RuleDaily, model.RuleWeekly, model.RuleMonthly:
	default:
		return plan{}, false
	}
	if rec.Interval < 0 || rec.Interval > model.MaxInterval {
		return plan{}, false
	}

	p := plan{rule: rec.Rule, interval: max(rec.Interval, 1)}
	if n, ok := rec.Count.Get(); ok && n > 0 {
		p.count = n
	}
	if u, ok := rec.Until.Get(); ok {
		p.until = u
		p.hasUntil = true
	}
	if p.rule == model.RuleWeekly && len(rec.ByWeekday) > 0 {
		days, ok := normalizeWeekdays(rec.ByWeekday)
		if !ok {
			return plan{}, false
		}
		p.weekdays = days
	}
	return p, true
}

// at returns the k-th instant of a stepped rule.
func (p plan) at(base time.Time, k int) time.Time {
	switch p.rule {
	case model.RuleDaily:
		return base.AddDate(0, 0, k*p.interval)
	case model.RuleWeekly:
		return base.AddDate(0, 0, 7*k*p.interval)
	default:
		return addMonths(base, k*p.interval)
	}
}

// firstIndex estimates the first sequence index whose instant could be
// at or after from. The estimate errs early; callers skip instants before
// the window.
func (p plan) firstIndex(base, from time.Time) int {
	if !from.After(base) {
		return 0
	}

	var k int
	switch p.rule {
	case model.RuleDaily:
		k = int(daysBetween(base, from)) / p.interval
	case model.RuleWeekly:
		k = int(daysBetween(base, from)/7) / p.interval
	default:
		f := from.In(base.Location())
		months := (f.Year()-base.Year())*12 + int(f.Month()) - int(base.Month())
		k = months / p.interval
	}

	// DST transitions and month-end clamping can push the estimate one
	// step late.
	return max(k-1, 0)
}

func (p plan) walkSteps(c *cursor, base time.Time) {
	for k := p.firstIndex(base, c.from); p.count == 0 || k < p.count; k++ {
		t := p.at(base, k)
		if c.past(t) {
			return
		}
		if !c.offer(k, t) {
			return
		}
	}
}

// daysBetween counts whole 24h periods from a to b. Unlike time.Sub it
// does not saturate for instants centuries apart.
func daysBetween(a, b time.Time) int64 {
	return (b.Unix() - a.Unix()) / 86400
}

// addMonths adds n calendar months to t, clamping the day to the last day
// of the target month (Jan 31 + 1 month = Feb 28 or 29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// cursor is the per-call expansion state.
type cursor struct {
	task     model.Task
	from     time.Time
	to       time.Time
	until    time.Time
	hasUntil bool
	duration time.Duration
	limit    int
	// budget bounds offer calls, emitted or not.
	budget   int

	out       []model.Occurrence
	truncated bool
}

// past reports whether t lies beyond the effective upper bound,
// min(to, until) with until exclusive.
func (c *cursor) past(t time.Time) bool {
	if t.After(c.to) {
		return true
	}
	return c.hasUntil && !t.Before(c.until)
}

// offer records t as occurrence k if it is inside the window. It returns
// false once the safety cap or the step budget stops the expansion.
func (c *cursor) offer(k int, t time.Time) bool {
	if c.budget--; c.budget < 0 {
		c.truncated = true
		return false
	}
	if t.Before(c.from) {
		return true
	}
	if n := len(c.out); n > 0 && !t.After(c.out[n-1].StartAt) {
		return true
	}
	if len(c.out) >= c.limit {
		c.truncated = true
		return false
	}
	c.out = append(c.out, makeOccurrence(c.task, k, t, t.Add(c.duration)))
	return true
}

func makeOccurrence(task model.Task, index int, start, due time.Time) model.Occurrence {
	tags := slices.Clone(task.Tags)
	if tags == nil {
		tags = []string{}
	}
	return model.Occurrence{
		TaskID:      task.ID,
		InstanceKey: task.ID + "@" + start.UTC().Format(time.RFC3339Nano),
		Index:       index,
		StartAt:     start,
		DueAt:       due,
		AllDay:      task.AllDay,
		Title:       task.Title,
		Status:      task.Status,
		Priority:    task.Priority,
		Tags:        tags,
	}
}
