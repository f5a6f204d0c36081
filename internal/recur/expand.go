// Package recur projects recurring templates into concrete occurrences.
package recur

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

const (
	// MaxSimpleIterations caps daily/weekly/biweekly walks, counted from the
	// template start, skipped candidates included.
	MaxSimpleIterations = 1000
	// MaxCustomWeeks caps the number of week buckets walked for custom rules.
	MaxCustomWeeks = 100
)

var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Expand returns the occurrences of template whose start lies in
// [rangeStart, rangeEnd), in ascending start order.
//
// Non-recurring templates yield themselves when their start is in range.
// Malformed rules yield nothing.
func Expand(template model.Event, rangeStart, rangeEnd time.Time) []model.Occurrence {
	if !rangeEnd.After(rangeStart) || template.Start.IsZero() {
		return nil
	}
	if !template.IsRecurring() {
		if inRange(template.Start, rangeStart, rangeEnd) {
			return []model.Occurrence{model.View(template, model.OriginFixed)}
		}
		return nil
	}

	opt, ok := options(template)
	if !ok {
		appLog.Debug("recur: malformed rule yields no occurrences",
			"id", template.ID,
			"type", template.Recurrence.Type,
		)
		return nil
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		appLog.Error("recur: failed to build rule", err, "id", template.ID, "type", template.Recurrence.Type)
		return nil
	}

	// rrule-go works at second precision: Dtstart is truncated and every
	// candidate comes back without the template's sub-second part. The
	// fraction is added back before filtering, so the lower bound is widened
	// by it and Until and the template start are compared on exact times.
	loc := template.Start.Location()
	frac := template.Start.Sub(template.Start.Truncate(time.Second))
	starts := r.Between(rangeStart.Add(-frac).In(loc), rangeEnd.In(loc), true)

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		s = s.Add(frac)
		if s.Before(template.Start) || !inRange(s, rangeStart, rangeEnd) {
			continue
		}
		if until := template.Recurrence.Until; until != nil && s.After(*until) {
			break
		}
		out = append(out, model.Instance(template, s))
	}
	return out
}

// options translates a RecurrenceRule into an rrule option set. The second
// return is false when the rule cannot produce occurrences.
func options(template model.Event) (rrule.ROption, bool) {
	rule := template.Recurrence
	opt := rrule.ROption{
		Dtstart: template.Start.Truncate(time.Second),
		Wkst:    rrule.SU,
	}
	if rule.Until != nil {
		if rule.Until.Before(template.Start) {
			return opt, false
		}
		opt.Until = *rule.Until
	}

	switch rule.Type {
	case model.RecurDaily:
		opt.Freq = rrule.DAILY
		opt.Interval = 1
		opt.Count = MaxSimpleIterations
	case model.RecurWeekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = rule.Interval()
		opt.Count = MaxSimpleIterations
	case model.RecurBiweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
		opt.Count = MaxSimpleIterations
	case model.RecurCustom:
		days := customDays(rule.Days)
		if len(days) == 0 {
			return opt, false
		}
		opt.Freq = rrule.WEEKLY
		opt.Interval = rule.Interval()
		opt.Byweekday = days

		// Bucket cap: the walk ends before the first bucket past the limit.
		capEnd := WeekStart(template.Start).AddDate(0, 0, 7*rule.Interval()*MaxCustomWeeks).Add(-time.Second)
		if opt.Until.IsZero() || capEnd.Before(opt.Until) {
			opt.Until = capEnd
		}
	default:
		return opt, false
	}
	return opt, true
}

// customDays keeps valid weekday indices, dropping duplicates.
func customDays(days []int) []rrule.Weekday {
	seen := [7]bool{}
	out := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, weekdays[d])
	}
	return out
}

// WeekStart returns midnight of the Sunday on or before t, in t's location.
func WeekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -int(day.Weekday()))
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
