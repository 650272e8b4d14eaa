package recurrence

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"taskcal/internal/model"
)

func TestROptionRoundTrip(t *testing.T) {
	dtstart := utc(2024, 1, 1, 9, 0)

	recs := []model.Recurrence{
		{Rule: model.RuleDaily, Interval: 2},
		{Rule: model.RuleWeekly, Interval: 1, ByWeekday: []int{0, 1, 3, 5}},
		{Rule: model.RuleMonthly, Interval: 6, Count: mo.Some(4)},
		{Rule: model.RuleWeekly, Interval: 3, Until: mo.Some(utc(2024, 6, 1, 0, 0))},
	}

	for _, rec := range recs {
		t.Run(string(rec.Rule), func(t *testing.T) {
			opt, ok := ToROption(&rec, dtstart)
			require.True(t, ok)

			parsed, err := rrule.StrToROption(opt.RRuleString())
			require.NoError(t, err)

			back, ok := FromROption(*parsed)
			require.True(t, ok)
			assert.Equal(t, rec.Rule, back.Rule)
			assert.Equal(t, rec.Interval, back.Interval)
			assert.Equal(t, rec.ByWeekday, back.ByWeekday)
			assert.Equal(t, rec.Count, back.Count)
			if u, ok := rec.Until.Get(); ok {
				assert.True(t, u.Equal(back.Until.MustGet()), "until %s != %s", u, back.Until.MustGet())
			} else {
				assert.True(t, back.Until.IsAbsent())
			}
		})
	}
}

func TestToROption_RejectsNonRecurring(t *testing.T) {
	_, ok := ToROption(nil, time.Now())
	assert.False(t, ok)

	_, ok = ToROption(&model.Recurrence{Rule: model.RuleNone}, time.Now())
	assert.False(t, ok)

	_, ok = ToROption(&model.Recurrence{Rule: model.RuleDaily, Interval: -1}, time.Now())
	assert.False(t, ok)
}

func TestFromROption_Unsupported(t *testing.T) {
	rules := []string{
		"FREQ=YEARLY",
		"FREQ=HOURLY;INTERVAL=2",
		"FREQ=MONTHLY;BYMONTHDAY=15",
		"FREQ=MONTHLY;BYDAY=2MO",
		"FREQ=DAILY;BYDAY=MO,TU",
		"FREQ=WEEKLY;BYDAY=MO;BYSETPOS=1",
		"FREQ=DAILY;INTERVAL=1001",
		"FREQ=WEEKLY;INTERVAL=576460752303423488",
	}

	for _, s := range rules {
		t.Run(s, func(t *testing.T) {
			opt, err := rrule.StrToROption(s)
			require.NoError(t, err)
			_, ok := FromROption(*opt)
			assert.False(t, ok)
		})
	}
}

func TestFromROption_WeekdayNumbering(t *testing.T) {
	opt, err := rrule.StrToROption("FREQ=WEEKLY;BYDAY=SU,SA,WE")
	require.NoError(t, err)

	rec, ok := FromROption(*opt)
	require.True(t, ok)
	assert.Equal(t, []int{0, 6, 3}, rec.ByWeekday)
	assert.Equal(t, 1, rec.Interval)
}
