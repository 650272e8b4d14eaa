package recurrence

import (
	"math"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"taskcal/internal/model"
)

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func endOfDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 23, 59, 59, 0, time.UTC)
}

func recurringTask(start, due time.Time, rec model.Recurrence) model.Task {
	return model.Task{
		ID:         "task-1",
		Title:      "Standup",
		Status:     model.StatusTodo,
		Priority:   2,
		Tags:       []string{"work"},
		StartAt:    mo.Some(start),
		DueAt:      mo.Some(due),
		Recurrence: &rec,
	}
}

func starts(occs []model.Occurrence) []time.Time {
	out := make([]time.Time, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.StartAt)
	}
	return out
}

func TestExpand_SingleEvent(t *testing.T) {
	from := utc(2024, 1, 10, 0, 0)
	to := endOfDay(2024, 1, 12)

	tests := []struct {
		name  string
		start mo.Option[time.Time]
		due   mo.Option[time.Time]
		want  int
	}{
		{"start inside window", mo.Some(utc(2024, 1, 11, 9, 0)), mo.Some(utc(2024, 1, 20, 9, 0)), 1},
		{"due inside window", mo.Some(utc(2024, 1, 1, 9, 0)), mo.Some(utc(2024, 1, 10, 9, 0)), 1},
		{"spans whole window", mo.Some(utc(2024, 1, 1, 0, 0)), mo.Some(utc(2024, 2, 1, 0, 0)), 1},
		{"touches window start", mo.Some(utc(2024, 1, 9, 0, 0)), mo.Some(from), 1},
		{"entirely before", mo.Some(utc(2024, 1, 1, 9, 0)), mo.Some(utc(2024, 1, 2, 9, 0)), 0},
		{"entirely after", mo.Some(utc(2024, 1, 13, 0, 0)), mo.Some(utc(2024, 1, 14, 0, 0)), 0},
		{"missing due", mo.Some(utc(2024, 1, 11, 9, 0)), mo.None[time.Time](), 0},
		{"missing start", mo.None[time.Time](), mo.Some(utc(2024, 1, 11, 9, 0)), 0},
		{"no dates", mo.None[time.Time](), mo.None[time.Time](), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := model.Task{ID: "t", Title: "one-off", StartAt: tt.start, DueAt: tt.due}
			got := Expand(task, from, to)
			require.Len(t, got, tt.want)
			if tt.want == 1 {
				assert.Equal(t, tt.start.MustGet(), got[0].StartAt)
				assert.Equal(t, tt.due.MustGet(), got[0].DueAt)
				assert.Equal(t, 0, got[0].Index)
			}
		})
	}
}

func TestExpand_NoneRuleIsSingleEvent(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 10, 0), model.Recurrence{Rule: model.RuleNone})
	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 31))
	require.Len(t, got, 1)
	assert.Equal(t, utc(2024, 1, 1, 9, 0), got[0].StartAt)
}

func TestExpand_DailyWindow(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 9, 30), model.Recurrence{Rule: model.RuleDaily, Interval: 1})

	got := Expand(task, utc(2024, 1, 3, 0, 0), endOfDay(2024, 1, 5))

	assert.Equal(t, []time.Time{
		utc(2024, 1, 3, 9, 0),
		utc(2024, 1, 4, 9, 0),
		utc(2024, 1, 5, 9, 0),
	}, starts(got))
	assert.Equal(t, []int{2, 3, 4}, []int{got[0].Index, got[1].Index, got[2].Index})
	for _, o := range got {
		assert.Equal(t, 30*time.Minute, o.DueAt.Sub(o.StartAt))
		assert.Equal(t, "Standup", o.Title)
		assert.Equal(t, []string{"work"}, o.Tags)
	}
}

func TestExpand_WeeklyByWeekdayOneWeek(t *testing.T) {
	// 2024-01-01 is a Monday.
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 10, 0), model.Recurrence{
		Rule:      model.RuleWeekly,
		Interval:  1,
		ByWeekday: []int{5, 1, 3},
	})

	got := Expand(task, utc(2023, 12, 31, 0, 0), endOfDay(2024, 1, 6))

	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 9, 0),
		utc(2024, 1, 3, 9, 0),
		utc(2024, 1, 5, 9, 0),
	}, starts(got))
}

func TestExpand_WeeklyByWeekdayHonoursInterval(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 10, 0), model.Recurrence{
		Rule:      model.RuleWeekly,
		Interval:  2,
		ByWeekday: []int{1, 3},
	})

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 31))

	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 9, 0), utc(2024, 1, 3, 9, 0),
		utc(2024, 1, 15, 9, 0), utc(2024, 1, 17, 9, 0),
		utc(2024, 1, 29, 9, 0), utc(2024, 1, 31, 9, 0),
	}, starts(got))
}

func TestExpand_WeeklyByWeekdaySkipsDaysBeforeBase(t *testing.T) {
	// Base on Wednesday; Monday of the first week precedes it.
	task := recurringTask(utc(2024, 1, 3, 9, 0), utc(2024, 1, 3, 9, 0), model.Recurrence{
		Rule:      model.RuleWeekly,
		ByWeekday: []int{1, 3},
		Count:     mo.Some(3),
	})

	got := Expand(task, utc(2023, 12, 1, 0, 0), endOfDay(2024, 2, 1))

	assert.Equal(t, []time.Time{
		utc(2024, 1, 3, 9, 0),
		utc(2024, 1, 8, 9, 0),
		utc(2024, 1, 10, 9, 0),
	}, starts(got))
}

func TestExpand_PlainWeeklyInterval(t *testing.T) {
	task := recurringTask(utc(2024, 1, 2, 18, 0), utc(2024, 1, 2, 19, 0), model.Recurrence{Rule: model.RuleWeekly, Interval: 2})

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 2, 15))

	assert.Equal(t, []time.Time{
		utc(2024, 1, 2, 18, 0),
		utc(2024, 1, 16, 18, 0),
		utc(2024, 1, 30, 18, 0),
		utc(2024, 2, 13, 18, 0),
	}, starts(got))
}

func TestExpand_CountCapsTotalSequence(t *testing.T) {
	base := utc(2024, 1, 1, 9, 0)
	task := recurringTask(base, base.Add(time.Hour), model.Recurrence{
		Rule:     model.RuleDaily,
		Interval: 1,
		Count:    mo.Some(5),
	})

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 30))
	require.Len(t, got, 5)
	for i, o := range got {
		assert.Equal(t, base.AddDate(0, 0, i), o.StartAt)
		assert.Equal(t, i, o.Index)
	}

	// A later window sees only what is left of the same five.
	got = Expand(task, utc(2024, 1, 4, 0, 0), endOfDay(2024, 1, 30))
	assert.Equal(t, []time.Time{utc(2024, 1, 4, 9, 0), utc(2024, 1, 5, 9, 0)}, starts(got))

	got = Expand(task, utc(2024, 1, 6, 0, 0), endOfDay(2024, 1, 30))
	assert.Empty(t, got)
}

func TestExpand_UntilIsExclusive(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 10, 0), model.Recurrence{
		Rule:  model.RuleDaily,
		Until: mo.Some(utc(2024, 1, 4, 9, 0)),
	})

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 31))

	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 9, 0),
		utc(2024, 1, 2, 9, 0),
		utc(2024, 1, 3, 9, 0),
	}, starts(got))
}

func TestExpand_MonthlyClampsToMonthEnd(t *testing.T) {
	task := recurringTask(utc(2024, 1, 31, 8, 0), utc(2024, 1, 31, 8, 0), model.Recurrence{Rule: model.RuleMonthly})

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 5, 31))

	assert.Equal(t, []time.Time{
		utc(2024, 1, 31, 8, 0),
		utc(2024, 2, 29, 8, 0),
		utc(2024, 3, 31, 8, 0),
		utc(2024, 4, 30, 8, 0),
		utc(2024, 5, 31, 8, 0),
	}, starts(got))
}

func TestExpand_MonthlyWindowFarFromBase(t *testing.T) {
	task := recurringTask(utc(2020, 1, 15, 12, 0), utc(2020, 1, 15, 13, 0), model.Recurrence{Rule: model.RuleMonthly, Interval: 3})

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 12, 31))

	assert.Equal(t, []time.Time{
		utc(2024, 1, 15, 12, 0),
		utc(2024, 4, 15, 12, 0),
		utc(2024, 7, 15, 12, 0),
		utc(2024, 10, 15, 12, 0),
	}, starts(got))
	assert.Equal(t, 16, got[0].Index)
}

func TestExpand_OldBaseIsNotEatenBySafetyCap(t *testing.T) {
	task := recurringTask(utc(2020, 1, 1, 7, 0), utc(2020, 1, 1, 7, 15), model.Recurrence{Rule: model.RuleDaily})

	res := Expander{}.Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 3))

	assert.False(t, res.Truncated)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 7, 0),
		utc(2024, 1, 2, 7, 0),
		utc(2024, 1, 3, 7, 0),
	}, starts(res.Occurrences))
	assert.Equal(t, 1461, res.Occurrences[0].Index)
}

func TestExpand_SafetyCap(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 9, 0), model.Recurrence{Rule: model.RuleDaily})

	res := Expander{}.Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2025, 12, 31))
	assert.Len(t, res.Occurrences, DefaultMaxOccurrences)
	assert.True(t, res.Truncated)

	res = Expander{MaxOccurrences: 10}.Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2025, 12, 31))
	assert.Len(t, res.Occurrences, 10)
	assert.True(t, res.Truncated)

	res = Expander{MaxOccurrences: 10}.Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 10))
	assert.Len(t, res.Occurrences, 10)
	assert.False(t, res.Truncated)
}

func TestExpand_MalformedRecurrenceDegradesToSingleEvent(t *testing.T) {
	start := utc(2024, 1, 2, 9, 0)
	due := utc(2024, 1, 2, 10, 0)
	from := utc(2024, 1, 1, 0, 0)
	to := endOfDay(2024, 1, 31)

	tests := []struct {
		name string
		rec  model.Recurrence
	}{
		{"unknown rule", model.Recurrence{Rule: "YEARLY", Interval: 1}},
		{"empty rule", model.Recurrence{Rule: ""}},
		{"negative interval", model.Recurrence{Rule: model.RuleDaily, Interval: -2}},
		{"weekday out of range", model.Recurrence{Rule: model.RuleWeekly, ByWeekday: []int{1, 9}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(recurringTask(start, due, tt.rec), from, to)
			assert.Equal(t, []time.Time{start}, starts(got))
		})
	}
}

func TestExpand_HugeIntervalTerminates(t *testing.T) {
	start := utc(2024, 3, 4, 9, 0)
	from := utc(2024, 1, 1, 0, 0)
	to := endOfDay(2024, 12, 31)

	intervals := []int{model.MaxInterval + 1, math.MaxInt >> 23, math.MaxInt >> 4, math.MaxInt >> 2, math.MaxInt / 7, math.MaxInt}
	recs := []model.Recurrence{
		{Rule: model.RuleDaily},
		{Rule: model.RuleWeekly},
		{Rule: model.RuleWeekly, ByWeekday: []int{1, 3}},
		{Rule: model.RuleMonthly},
	}

	for _, iv := range intervals {
		for _, rec := range recs {
			rec.Interval = iv
			done := make(chan []model.Occurrence, 1)
			go func() { done <- Expand(recurringTask(start, start, rec), from, to) }()

			select {
			case got := <-done:
				assert.Equal(t, []time.Time{start}, starts(got), "rule=%s interval=%d weekdays=%v", rec.Rule, iv, rec.ByWeekday)
			case <-time.After(5 * time.Second):
				t.Fatalf("rule=%s interval=%d weekdays=%v: expansion did not finish", rec.Rule, iv, rec.ByWeekday)
			}
		}
	}
}

func TestExpand_MaxIntervalIsAccepted(t *testing.T) {
	base := utc(2020, 1, 1, 9, 0)
	task := recurringTask(base, base, model.Recurrence{Rule: model.RuleDaily, Interval: model.MaxInterval})

	got := Expand(task, utc(2020, 1, 1, 0, 0), endOfDay(2025, 12, 31))
	assert.Equal(t, []time.Time{base, base.AddDate(0, 0, 1000), base.AddDate(0, 0, 2000)}, starts(got))
}

func TestExpand_BaseCenturiesBeforeWindow(t *testing.T) {
	from := utc(2024, 1, 1, 0, 0)
	to := endOfDay(2024, 1, 3)

	daily := recurringTask(utc(1700, 1, 1, 9, 0), utc(1700, 1, 1, 9, 0), model.Recurrence{Rule: model.RuleDaily})
	res := Expander{}.Expand(daily, from, to)
	assert.Equal(t, []time.Time{utc(2024, 1, 1, 9, 0), utc(2024, 1, 2, 9, 0), utc(2024, 1, 3, 9, 0)}, starts(res.Occurrences))
	assert.False(t, res.Truncated)

	// 2024-01-01 is a Monday, 2024-01-03 a Wednesday.
	weekly := recurringTask(utc(1700, 1, 1, 9, 0), utc(1700, 1, 1, 9, 0), model.Recurrence{Rule: model.RuleWeekly, ByWeekday: []int{1, 3}})
	res = Expander{}.Expand(weekly, from, to)
	assert.Equal(t, []time.Time{utc(2024, 1, 1, 9, 0), utc(2024, 1, 3, 9, 0)}, starts(res.Occurrences))
	assert.False(t, res.Truncated)
}

func TestExpand_ZeroIntervalMeansOne(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 9, 0), model.Recurrence{Rule: model.RuleDaily, Interval: 0})

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 3))
	assert.Len(t, got, 3)
}

func TestExpand_MissingDatesFallBackToNow(t *testing.T) {
	now := utc(2024, 3, 1, 12, 0)
	task := model.Task{ID: "t", Title: "someday", Recurrence: &model.Recurrence{Rule: model.RuleDaily}}

	res := Expander{Now: func() time.Time { return now }}.Expand(task, utc(2024, 2, 28, 0, 0), endOfDay(2024, 3, 3))

	assert.Equal(t, []time.Time{
		utc(2024, 3, 1, 12, 0),
		utc(2024, 3, 2, 12, 0),
		utc(2024, 3, 3, 12, 0),
	}, starts(res.Occurrences))
	for _, o := range res.Occurrences {
		assert.Equal(t, o.StartAt, o.DueAt)
	}
}

func TestExpand_DueOnlyUsesDueAsBase(t *testing.T) {
	task := model.Task{
		ID:         "t",
		DueAt:      mo.Some(utc(2024, 1, 1, 17, 0)),
		Recurrence: &model.Recurrence{Rule: model.RuleDaily, Interval: 2},
	}

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 5))
	assert.Equal(t, []time.Time{utc(2024, 1, 1, 17, 0), utc(2024, 1, 3, 17, 0), utc(2024, 1, 5, 17, 0)}, starts(got))
}

func TestExpand_NegativeDurationIsFloored(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 10, 0), utc(2024, 1, 1, 9, 0), model.Recurrence{Rule: model.RuleDaily})

	got := Expand(task, utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 2))
	require.Len(t, got, 2)
	for _, o := range got {
		assert.Equal(t, o.StartAt, o.DueAt)
	}
}

func TestExpand_ReversedWindow(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 10, 0), model.Recurrence{Rule: model.RuleDaily})
	assert.Empty(t, Expand(task, utc(2024, 2, 1, 0, 0), utc(2024, 1, 1, 0, 0)))
}

func TestExpand_KeepsWallClockAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	base := time.Date(2024, 3, 8, 9, 0, 0, 0, ny)
	task := recurringTask(base, base.Add(time.Hour), model.Recurrence{Rule: model.RuleDaily})

	got := Expand(task, time.Date(2024, 3, 8, 0, 0, 0, 0, ny), time.Date(2024, 3, 12, 23, 0, 0, 0, ny))
	require.Len(t, got, 5)
	for _, o := range got {
		assert.Equal(t, 9, o.StartAt.Hour())
		assert.Equal(t, time.Hour, o.DueAt.Sub(o.StartAt))
	}
}

func TestExpand_Idempotent(t *testing.T) {
	task := recurringTask(utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 10, 0), model.Recurrence{
		Rule:      model.RuleWeekly,
		ByWeekday: []int{2, 4},
		Count:     mo.Some(20),
	})
	from, to := utc(2024, 1, 1, 0, 0), endOfDay(2024, 3, 31)

	assert.Equal(t, Expand(task, from, to), Expand(task, from, to))
}

func TestExpand_Properties(t *testing.T) {
	bases := []time.Time{utc(2023, 11, 30, 9, 0), utc(2024, 1, 31, 23, 30), utc(2024, 2, 29, 0, 0)}
	rules := []model.Recurrence{
		{Rule: model.RuleDaily, Interval: 1},
		{Rule: model.RuleDaily, Interval: 5, Count: mo.Some(12)},
		{Rule: model.RuleWeekly, Interval: 1},
		{Rule: model.RuleWeekly, Interval: 3, ByWeekday: []int{0, 6, 3, 3}},
		{Rule: model.RuleMonthly, Interval: 1, Until: mo.Some(utc(2024, 9, 1, 0, 0))},
		{Rule: model.RuleMonthly, Interval: 2},
	}
	windows := [][2]time.Time{
		{utc(2024, 1, 1, 0, 0), endOfDay(2024, 1, 31)},
		{utc(2024, 2, 10, 12, 0), endOfDay(2024, 6, 30)},
		{utc(2023, 1, 1, 0, 0), endOfDay(2023, 12, 31)},
	}

	for _, base := range bases {
		for _, rec := range rules {
			task := recurringTask(base, base.Add(45*time.Minute), rec)
			for _, w := range windows {
				got := Expand(task, w[0], w[1])
				for i, o := range got {
					assert.False(t, o.StartAt.Before(w[0]), "start before window")
					assert.False(t, o.StartAt.After(w[1]), "start after window")
					assert.Equal(t, 45*time.Minute, o.DueAt.Sub(o.StartAt))
					if u, ok := rec.Until.Get(); ok {
						assert.True(t, o.StartAt.Before(u))
					}
					if i > 0 {
						assert.True(t, o.StartAt.After(got[i-1].StartAt), "not strictly increasing")
						assert.Greater(t, o.Index, got[i-1].Index)
					}
				}
			}
		}
	}
}

// rrule-go implements RFC 5545; for daily and weekly rules the two must
// agree on every instant.
func TestExpand_AgreesWithRRule(t *testing.T) {
	base := utc(2024, 1, 3, 8, 15)

	tests := []struct {
		name string
		rec  model.Recurrence
	}{
		{"daily every 3 days", model.Recurrence{Rule: model.RuleDaily, Interval: 3}},
		{"daily with count", model.Recurrence{Rule: model.RuleDaily, Count: mo.Some(17)}},
		{"weekly every 2 weeks", model.Recurrence{Rule: model.RuleWeekly, Interval: 2}},
		{"weekly by weekday", model.Recurrence{Rule: model.RuleWeekly, ByWeekday: []int{1, 2, 5}}},
		{"weekly by weekday every 3 weeks with count", model.Recurrence{Rule: model.RuleWeekly, Interval: 3, ByWeekday: []int{0, 3, 4}, Count: mo.Some(11)}},
	}

	from, to := utc(2024, 2, 1, 0, 0), endOfDay(2024, 6, 30)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, ok := ToROption(&tt.rec, base)
			require.True(t, ok)
			r, err := rrule.NewRRule(opt)
			require.NoError(t, err)

			want := r.Between(from, to, true)
			got := starts(Expand(recurringTask(base, base, tt.rec), from, to))

			require.Equal(t, len(want), len(got))
			for i := range want {
				assert.True(t, want[i].Equal(got[i]), "occurrence %d: want %s, got %s", i, want[i], got[i])
			}
		})
	}
}
