package calendar

import (
	"context"
	"time"

	"taskcal/internal/model"
)

// DayLoad is the number of occurrences starting on one calendar day.
type DayLoad struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Workload summarizes the occurrences of a window.
type Workload struct {
	From      time.Time            `json:"from"`
	To        time.Time            `json:"to"`
	Total     int                  `json:"total"`
	Days      []DayLoad            `json:"days"`
	ByStatus  map[model.Status]int `json:"byStatus"`
	ByTag     map[string]int       `json:"byTag"`
	Truncated bool                 `json:"truncated"`
}

// Workload counts the user's occurrences in [from, to] per day (in the
// display zone), per status and per tag. Every day of the window is
// listed, including empty ones.
func (s *Service) Workload(ctx context.Context, userID string, from, to time.Time) (Workload, error) {
	events, err := s.Events(ctx, userID, from, to)
	if err != nil {
		return Workload{}, err
	}
	return summarize(events, from.In(s.opts.Location), to.In(s.opts.Location)), nil
}

func summarize(events Events, from, to time.Time) Workload {
	w := Workload{
		From:      from,
		To:        to,
		Total:     len(events.Occurrences),
		Days:      []DayLoad{},
		ByStatus:  map[model.Status]int{},
		ByTag:     map[string]int{},
		Truncated: events.Truncated,
	}

	index := map[string]int{}
	if !to.Before(from) {
		y, m, d := from.Date()
		for day := time.Date(y, m, d, 0, 0, 0, 0, from.Location()); !day.After(to); day = day.AddDate(0, 0, 1) {
			key := day.Format(time.DateOnly)
			index[key] = len(w.Days)
			w.Days = append(w.Days, DayLoad{Date: key})
		}
	}

	for _, occ := range events.Occurrences {
		// Occurrences that started before the window still count towards its
		// first day.
		key := occ.StartAt.In(from.Location()).Format(time.DateOnly)
		i, ok := index[key]
		if !ok && len(w.Days) > 0 {
			i, ok = 0, true
		}
		if ok {
			w.Days[i].Count++
		}
		w.ByStatus[occ.Status]++
		for _, tag := range occ.Tags {
			w.ByTag[tag]++
		}
	}
	return w
}
