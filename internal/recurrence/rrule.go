package recurrence

import (
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	"taskcal/internal/model"
)

// rruleDays maps weekday numbers (0=Sunday) to RFC 5545 weekdays.
var rruleDays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// RFC 5545 UNTIL is inclusive and second-granular; ours is exclusive.
const untilShift = time.Second

// ToROption converts a recurrence into RFC 5545 options anchored at
// dtstart. It returns false for NONE and for recurrence the expander
// would treat as malformed.
func ToROption(rec *model.Recurrence, dtstart time.Time) (rrule.ROption, bool) {
	p, ok := planFor(rec)
	if !ok {
		return rrule.ROption{}, false
	}

	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: p.interval,
		Count:    p.count,
		Wkst:     rrule.SU,
	}
	switch p.rule {
	case model.RuleDaily:
		opt.Freq = rrule.DAILY
	case model.RuleWeekly:
		opt.Freq = rrule.WEEKLY
	default:
		opt.Freq = rrule.MONTHLY
	}
	for _, d := range p.weekdays {
		opt.Byweekday = append(opt.Byweekday, rruleDays[d])
	}
	if p.hasUntil {
		opt.Until = p.until.Add(-untilShift)
	}
	return opt, true
}

// FromROption converts RFC 5545 options into a recurrence. Rules that
// cannot be expressed (yearly or sub-daily frequencies, BYMONTHDAY,
// BYSETPOS, ordinal weekdays, intervals above model.MaxInterval and the
// like) return false so the caller can fall back to a single event.
func FromROption(opt rrule.ROption) (*model.Recurrence, bool) {
	if opt.Interval > model.MaxInterval {
		return nil, false
	}
	rec := &model.Recurrence{Interval: max(opt.Interval, 1)}

	switch opt.Freq {
	case rrule.DAILY:
		rec.Rule = model.RuleDaily
	case rrule.WEEKLY:
		rec.Rule = model.RuleWeekly
	case rrule.MONTHLY:
		rec.Rule = model.RuleMonthly
	default:
		return nil, false
	}

	if len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byhour) > 0 ||
		len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return nil, false
	}
	if len(opt.Byweekday) > 0 {
		if rec.Rule != model.RuleWeekly {
			return nil, false
		}
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return nil, false
			}
			rec.ByWeekday = append(rec.ByWeekday, (wd.Day()+1)%7)
		}
	}

	if opt.Count > 0 {
		rec.Count = mo.Some(opt.Count)
	}
	if !opt.Until.IsZero() {
		rec.Until = mo.Some(opt.Until.Add(untilShift))
	}
	return rec, true
}
