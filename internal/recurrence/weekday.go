package recurrence

import (
	"slices"
	"time"
)

// normalizeWeekdays sorts and deduplicates days. Any value outside 0-6
// makes the whole set invalid.
func normalizeWeekdays(days []int) ([]int, bool) {
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, false
		}
		out = append(out, d)
	}
	slices.Sort(out)
	return slices.Compact(out), true
}

// walkWeekdays emits every listed weekday of every active week. Weeks
// start on Sunday in the base instant's location and are numbered from
// the week containing base; week w is active when w is a multiple of the
// interval. Days of week 0 that precede base are not part of the
// sequence.
func (p plan) walkWeekdays(c *cursor, base time.Time) {
	baseDay := int(base.Weekday())
	week0 := base.AddDate(0, 0, -baseDay)

	firstWeek := 0
	for _, d := range p.weekdays {
		if d >= baseDay {
			firstWeek++
		}
	}
	indexBefore := func(w int) int {
		if w == 0 {
			return 0
		}
		return firstWeek + (w/p.interval-1)*len(p.weekdays)
	}

	w := 0
	if c.from.After(base) {
		w = max(int(daysBetween(week0, c.from)/7)-1, 0)
		w = (w + p.interval - 1) / p.interval * p.interval
	}

	for ; ; w += p.interval {
		start := week0.AddDate(0, 0, 7*w)
		if c.past(start) {
			return
		}

		k := indexBefore(w)
		for _, d := range p.weekdays {
			if w == 0 && d < baseDay {
				continue
			}
			if p.count > 0 && k >= p.count {
				return
			}
			t := start.AddDate(0, 0, d)
			if c.past(t) {
				return
			}
			if !c.offer(k, t) {
				return
			}
			k++
		}
	}
}
