package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
)

// parseWindow reads the from/to query parameters. Each accepts RFC 3339
// or a plain date in the display zone; a plain-date "to" covers that
// whole day.
func (s *Server) parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	loc := s.calendar.Location()

	from, err := parseInstant(q.Get("from"), loc, false)
	if err != nil {
		validationError(w, "from", err.Error())
		return time.Time{}, time.Time{}, false
	}
	to, err := parseInstant(q.Get("to"), loc, true)
	if err != nil {
		validationError(w, "to", err.Error())
		return time.Time{}, time.Time{}, false
	}
	if to.Before(from) {
		validationError(w, "to", "must not be before from")
		return time.Time{}, time.Time{}, false
	}
	if days := s.cfg.Calendar.MaxWindowDays; days > 0 && to.Sub(from) > time.Duration(days)*24*time.Hour {
		validationError(w, "to", fmt.Sprintf("window must not exceed %d days", days))
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseInstant(v string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, v, loc)
	if err != nil {
		return time.Time{}, errors.New("must be an RFC 3339 instant or YYYY-MM-DD date")
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return d, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.parseWindow(w, r)
	if !ok {
		return
	}

	events, err := s.calendar.Events(r.Context(), userID(r), from, to)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleWorkload(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.parseWindow(w, r)
	if !ok {
		return
	}

	wl, err := s.calendar.Workload(r.Context(), userID(r), from, to)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// handleFeed exports every dated task of the user as iCalendar, so
// calendar clients can subscribe to it.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	user := userID(r)

	tasks, err := s.store.AllTasks(r.Context(), user)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}

	body := ics.ExportICS(tasks, "taskcal "+user, s.now())
	appLog.Debug("ics feed exported", "user", user, "tasks", len(tasks))

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="taskcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
