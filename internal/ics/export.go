package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"famcal/internal/model"
)

// propertyKind marks exported tasks so a re-import keeps them as tasks.
const propertyKind = ical.ComponentProperty("X-FAMCAL-KIND")

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// ExportICS serializes templates as a VCALENDAR. Deleted records and tasks
// without a pinned slot are left out; recurring templates carry an RRULE.
func ExportICS(events []model.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//famcal//famcal//EN")

	for _, e := range events {
		if e.Deleted || !e.Anchored() {
			continue
		}
		e.EnsureID()

		ve := cal.AddEvent(e.ID)
		ve.SetDtStampTime(now)
		ve.SetSummary(e.Name)

		end := e.Start.Add(e.Duration())
		if e.IsTask() {
			if !e.End.After(e.Start) {
				end = e.Start.Add(e.TaskDuration())
			}
			ve.AddProperty(propertyKind, string(model.KindTask))
		}
		if e.AllDay {
			ve.SetAllDayStartAt(e.Start)
			ve.SetAllDayEndAt(end)
		} else {
			ve.SetStartAt(e.Start)
			ve.SetEndAt(end)
		}

		if e.IsRecurring() {
			if opt, ok := rruleFor(*e.Recurrence); ok {
				ve.AddProperty(ical.ComponentPropertyRrule, opt.RRuleString())
			}
		}
	}
	return cal.Serialize()
}

func rruleFor(r model.RecurrenceRule) (rrule.ROption, bool) {
	opt := rrule.ROption{Freq: rrule.WEEKLY, Interval: r.Interval(), Wkst: rrule.SU}
	switch r.Type {
	case model.RecurDaily:
		opt.Freq = rrule.DAILY
		opt.Interval = 1
	case model.RecurWeekly:
	case model.RecurBiweekly:
		opt.Interval = 2
	case model.RecurCustom:
		for _, d := range r.Days {
			if d >= 0 && d < len(rruleWeekdays) {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
			}
		}
		if len(opt.Byweekday) == 0 {
			return opt, false
		}
	default:
		return opt, false
	}
	if r.Until != nil {
		opt.Until = r.Until.UTC()
	}
	return opt, true
}
