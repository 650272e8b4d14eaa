// Package ics converts between tasks and iCalendar data.
package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
	"taskcal/internal/recurrence"
)

// ImportedTask is a task built from one VEVENT. The task has no id or
// owner yet.
type ImportedTask struct {
	UID  string
	Task model.Task

	// RawRRule is the RRULE value as found in the feed, kept even when it
	// could not be mapped onto Recurrence.
	RawRRule string
}

// ParseICS parses an iCalendar payload into tasks. Floating and all-day
// times are read in loc.
//
//   - DTSTART/DTEND become startAt/dueAt; a missing DTEND makes the task
//     due when it starts.
//   - RRULE is mapped onto DAILY/WEEKLY/MONTHLY recurrence. Rules that do
//     not fit import as single events.
//   - Overrides (RECURRENCE-ID) are skipped; EXDATE is ignored.
func ParseICS(body []byte, loc *time.Location) ([]ImportedTask, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]ImportedTask, 0)
	for _, ve := range cal.Events() {
		it, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Warn("skipping vevent", "err", err.Error())
			continue
		}
		out = append(out, it)
	}

	appLog.Info("ics parse completed", "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ImportedTask, error) {
	var out ImportedTask

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if ve.GetProperty(ical.ComponentPropertyRecurrenceId) != nil {
		return out, errors.New("recurrence override " + out.UID + " not supported")
	}

	t := model.Task{}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		t.Title = p.Value
	}
	if t.Title == "" {
		t.Title = "(untitled)"
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		t.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		switch strings.ToUpper(p.Value) {
		case "COMPLETED":
			t.Status = model.StatusDone
		case "IN-PROCESS":
			t.Status = model.StatusInProgress
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("event " + out.UID + " has no DTSTART")
	}
	t.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	start = anchor(start, dtStart, t.AllDay, loc)
	t.StartAt = mo.Some(start)

	due := start
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, err := ve.GetEndAt(); err == nil {
			due = anchor(end, dtEnd, t.AllDay, loc)
		}
	} else if t.AllDay {
		due = start.AddDate(0, 0, 1)
	}
	if due.Before(start) {
		due = start
	}
	t.DueAt = mo.Some(due)

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
		if rec, ok := parseRRule(p.Value, start, loc); ok {
			t.Recurrence = rec
		} else {
			appLog.Warn("unsupported RRULE; importing as single event", "uid", out.UID, "rrule", p.Value)
		}
	}

	t.Normalize()
	out.Task = t
	return out, nil
}

func parseRRule(value string, dtstart time.Time, loc *time.Location) (*model.Recurrence, bool) {
	opt, err := rrule.StrToROptionInLocation(value, loc)
	if err != nil {
		return nil, false
	}
	opt.Dtstart = dtstart
	return recurrence.FromROption(*opt)
}

// isDateValue reports whether a DTSTART/DTEND holds a DATE rather than a
// DATE-TIME.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// anchor moves floating and all-day values into loc. Values with TZID or
// a trailing Z already name their instant.
func anchor(t time.Time, p *ical.IANAProperty, allDay bool, loc *time.Location) time.Time {
	if allDay {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	if _, ok := p.ICalParameters["TZID"]; ok || strings.HasSuffix(p.Value, "Z") {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}
