package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcal/internal/model"
)

// 2024-01-07 is a Sunday.
var sunday = time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC)

func template(rule *model.RecurrenceRule, start time.Time, dur time.Duration) model.Event {
	return model.Event{
		ID:         "tpl",
		Calendar:   "family",
		Name:       "Swim",
		Kind:       model.KindEvent,
		Start:      start,
		End:        start.Add(dur),
		Recurrence: rule,
	}
}

func TestExpand_DailyOrderingDurationContainment(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurDaily}, sunday, 45*time.Minute)
	rs := sunday.AddDate(0, 0, 3)
	re := sunday.AddDate(0, 0, 10)

	got := Expand(tpl, rs, re)
	require.Len(t, got, 7)
	for i, o := range got {
		assert.Equal(t, 45*time.Minute, o.End.Sub(o.Start))
		assert.False(t, o.Start.Before(rs))
		assert.True(t, o.Start.Before(re))
		assert.Equal(t, "tpl", o.OriginalID)
		assert.Equal(t, model.OriginExpanded, o.Origin)
		if i > 0 {
			assert.False(t, o.Start.Before(got[i-1].Start))
		}
	}
	assert.Equal(t, "tpl_1704877200000", got[0].ID)
}

func TestExpand_RangeEndExclusive(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurDaily}, sunday, time.Hour)
	got := Expand(tpl, sunday, sunday.AddDate(0, 0, 2))
	require.Len(t, got, 2)
	assert.Equal(t, sunday.AddDate(0, 0, 1), got[1].Start)
}

func TestExpand_UntilInclusive(t *testing.T) {
	until := sunday.AddDate(0, 0, 4)
	tpl := template(&model.RecurrenceRule{Type: model.RecurDaily, Until: &until}, sunday, time.Hour)

	got := Expand(tpl, sunday, sunday.AddDate(0, 1, 0))
	require.Len(t, got, 5)
	assert.Equal(t, until, got[4].Start)

	earlier := until.Add(-time.Minute)
	tpl.Recurrence.Until = &earlier
	assert.Len(t, Expand(tpl, sunday, sunday.AddDate(0, 1, 0)), 4)
}

func TestExpand_UntilBeforeStart(t *testing.T) {
	until := sunday.Add(-time.Hour)
	tpl := template(&model.RecurrenceRule{Type: model.RecurDaily, Until: &until}, sunday, time.Hour)
	assert.Empty(t, Expand(tpl, sunday.AddDate(0, 0, -1), sunday.AddDate(0, 0, 7)))
}

func TestExpand_WeeklyInterval(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurWeekly, IntervalWeeks: 3}, sunday, time.Hour)
	got := Expand(tpl, sunday, sunday.AddDate(0, 0, 7*7))
	require.Len(t, got, 3)
	assert.Equal(t, sunday.AddDate(0, 0, 21), got[1].Start)
	assert.Equal(t, sunday.AddDate(0, 0, 42), got[2].Start)
}

func TestExpand_WeeklyZeroIntervalTreatedAsOne(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurWeekly}, sunday, time.Hour)
	assert.Len(t, Expand(tpl, sunday, sunday.AddDate(0, 0, 28)), 4)
}

func TestExpand_BiweeklyIgnoresInterval(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurBiweekly, IntervalWeeks: 5}, sunday, time.Hour)
	got := Expand(tpl, sunday, sunday.AddDate(0, 0, 28))
	require.Len(t, got, 2)
	assert.Equal(t, sunday.AddDate(0, 0, 14), got[1].Start)
}

func TestExpand_CustomWeekdays(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurCustom, IntervalWeeks: 1, Days: []int{1, 3, 5}}, sunday, time.Hour)

	got := Expand(tpl, sunday, sunday.AddDate(0, 0, 14))
	require.Len(t, got, 6)
	wantDays := []time.Weekday{time.Monday, time.Wednesday, time.Friday, time.Monday, time.Wednesday, time.Friday}
	for i, o := range got {
		assert.Equal(t, wantDays[i], o.Start.Weekday())
		assert.Equal(t, 9, o.Start.Hour())
		assert.False(t, o.Start.Before(tpl.Start))
	}
}

func TestExpand_CustomNeverPrecedesTemplateStart(t *testing.T) {
	wednesday := sunday.AddDate(0, 0, 3)
	tpl := template(&model.RecurrenceRule{Type: model.RecurCustom, Days: []int{1, 3, 5}}, wednesday, time.Hour)

	got := Expand(tpl, sunday, sunday.AddDate(0, 0, 14))
	require.Len(t, got, 5)
	assert.Equal(t, wednesday, got[0].Start)
}

func TestExpand_CustomIntervalSkipsBuckets(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurCustom, IntervalWeeks: 2, Days: []int{2}}, sunday, time.Hour)
	got := Expand(tpl, sunday, sunday.AddDate(0, 0, 28))
	require.Len(t, got, 2)
	assert.Equal(t, sunday.AddDate(0, 0, 2), got[0].Start)
	assert.Equal(t, sunday.AddDate(0, 0, 16), got[1].Start)
}

func TestExpand_CustomEmptyDaysIsMalformed(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurCustom}, sunday, time.Hour)
	assert.Empty(t, Expand(tpl, sunday, sunday.AddDate(0, 0, 14)))

	tpl.Recurrence.Days = []int{7, -1}
	assert.Empty(t, Expand(tpl, sunday, sunday.AddDate(0, 0, 14)))
}

func TestExpand_SimpleCapCountsFromTemplateStart(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurDaily}, sunday, time.Hour)

	all := Expand(tpl, sunday, sunday.AddDate(10, 0, 0))
	assert.Len(t, all, MaxSimpleIterations)

	assert.Empty(t, Expand(tpl, sunday.AddDate(3, 0, 0), sunday.AddDate(3, 1, 0)))
}

func TestExpand_CustomBucketCap(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurCustom, Days: []int{1}}, sunday, time.Hour)
	assert.Len(t, Expand(tpl, sunday, sunday.AddDate(5, 0, 0)), MaxCustomWeeks)
}

func TestExpand_InvalidDurationClamped(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurDaily}, sunday, -time.Hour)
	got := Expand(tpl, sunday, sunday.AddDate(0, 0, 1))
	require.Len(t, got, 1)
	assert.Equal(t, model.MinDuration, got[0].End.Sub(got[0].Start))
}

func TestExpand_NonRecurring(t *testing.T) {
	tpl := template(nil, sunday, time.Hour)
	got := Expand(tpl, sunday.Add(-time.Hour), sunday.Add(time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, "tpl", got[0].ID)
	assert.Equal(t, model.OriginFixed, got[0].Origin)

	assert.Empty(t, Expand(tpl, sunday.Add(time.Minute), sunday.Add(time.Hour)))
}

func TestExpand_Restartable(t *testing.T) {
	tpl := template(&model.RecurrenceRule{Type: model.RecurWeekly}, sunday, time.Hour)
	a := Expand(tpl, sunday, sunday.AddDate(0, 2, 0))
	b := Expand(tpl, sunday, sunday.AddDate(0, 2, 0))
	assert.Equal(t, a, b)
	assert.Equal(t, sunday, tpl.Start)
}

func TestWeekStart(t *testing.T) {
	thursday := time.Date(2024, 1, 11, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), WeekStart(thursday))
	assert.Equal(t, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), WeekStart(sunday))
}

func TestExpand_SubSecondTemplateStart(t *testing.T) {
	// 2024-09-02 is a Monday.
	start := time.Date(2024, 9, 2, 9, 0, 0, 250*int(time.Millisecond), time.UTC)

	daily := template(&model.RecurrenceRule{Type: model.RecurDaily}, start, time.Hour)
	daily.ID = "d"
	got := Expand(daily, start, start.Add(72*time.Hour))
	require.Len(t, got, 3)
	assert.Equal(t, start, got[0].Start)
	assert.Equal(t, "d_1725267600250", got[0].ID)
	for i, o := range got {
		assert.Equal(t, start.AddDate(0, 0, i), o.Start)
		assert.Equal(t, time.Hour, o.End.Sub(o.Start))
	}

	custom := template(&model.RecurrenceRule{Type: model.RecurCustom, Days: []int{1, 3}}, start, time.Hour)
	custom.ID = "c"
	got = Expand(custom, start.Add(-time.Hour), start.AddDate(0, 0, 7))
	require.Len(t, got, 2)
	assert.Equal(t, "c_1725267600250", got[0].ID)
	for _, o := range got {
		assert.False(t, o.Start.Before(start))
		assert.Equal(t, 250*time.Millisecond, time.Duration(o.Start.Nanosecond()))
	}
	assert.Equal(t, time.Wednesday, got[1].Start.Weekday())

	until := start.AddDate(0, 0, 2)
	daily.Recurrence.Until = &until
	assert.Len(t, Expand(daily, start, start.AddDate(0, 0, 10)), 3)
	early := until.Add(-100 * time.Millisecond)
	daily.Recurrence.Until = &early
	assert.Len(t, Expand(daily, start, start.AddDate(0, 0, 10)), 2)
}
