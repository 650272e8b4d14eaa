package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"taskcal/internal/model"
	"taskcal/internal/recurrence"
)

// uidSuffix makes exported UIDs globally unique.
const uidSuffix = "@taskcal"

// ExportICS renders the dated tasks as one VCALENDAR. Tasks without
// startAt or dueAt have no place on a calendar and are skipped. Recurring
// tasks carry an RRULE; recurrence the expander would reject is exported
// as a single event.
func ExportICS(tasks []model.Task, name string, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//taskcal//taskcal//EN")
	if name != "" {
		cal.SetName(name)
	}

	for _, t := range tasks {
		start, ok := t.StartAt.Get()
		if !ok {
			start, ok = t.DueAt.Get()
		}
		if !ok {
			continue
		}
		end := t.DueAt.OrElse(start)
		if end.Before(start) {
			end = start
		}

		ev := cal.AddEvent(t.ID + uidSuffix)
		ev.SetDtStampTime(now)
		if !t.UpdatedAt.IsZero() {
			ev.SetModifiedAt(t.UpdatedAt)
		}
		ev.SetSummary(t.Title)
		if t.Description != "" {
			ev.SetDescription(t.Description)
		}
		ev.SetPriority(icalPriority(t.Priority))

		switch t.Status {
		case model.StatusDone:
			ev.SetStatus(ical.ObjectStatusCompleted)
		case model.StatusInProgress:
			ev.SetStatus(ical.ObjectStatusInProcess)
		default:
			ev.SetStatus(ical.ObjectStatusConfirmed)
		}

		if t.AllDay {
			ev.SetAllDayStartAt(start)
			if !end.After(start) {
				end = start.AddDate(0, 0, 1)
			}
			ev.SetAllDayEndAt(end)
		} else {
			ev.SetStartAt(start)
			ev.SetEndAt(end)
		}

		if opt, ok := recurrence.ToROption(t.Recurrence, start); ok {
			ev.AddRrule(opt.RRuleString())
		}
	}

	return cal.Serialize()
}

// icalPriority maps 1 (lowest) .. 5 (highest) onto RFC 5545, where 1 is
// highest and 9 lowest.
func icalPriority(p int) int {
	p = min(max(p, 1), 5)
	return 11 - 2*p
}
