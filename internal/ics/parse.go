// Package ics converts between iCalendar payloads and stored event
// templates.
package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

// ImportICS parses body and returns one template per VEVENT, assigned to
// calendar. Events that cannot be read are logged and skipped.
//
//   - All-day is detected from VALUE=DATE or a DTSTART without a time part.
//   - A missing or non-positive DTEND falls back to a one hour length.
//   - RRULEs are mapped onto the supported cadences (see recurrenceFromRRule);
//     anything else imports as a single event.
//   - RECURRENCE-ID overrides are skipped; their master carries the series.
//   - Events marked X-FAMCAL-KIND:task come back as anchored tasks.
func ImportICS(calendar string, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "calendar", calendar)
		return nil, err
	}

	events := make([]model.Event, 0)
	for _, comp := range cal.Events() {
		ev, ok, perr := parseVEvent(calendar, comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "calendar", calendar)
			continue
		}
		if !ok {
			continue
		}
		ev.EnsureID()
		events = append(events, ev)
	}

	appLog.Info("ics import completed", "calendar", calendar, "event_count", len(events))
	return events, nil
}

func parseVEvent(calendar string, ve *ical.VEvent) (model.Event, bool, error) {
	out := model.Event{Calendar: calendar, Kind: model.KindEvent}

	if ve.GetProperty("RECURRENCE-ID") != nil {
		return out, false, nil
	}

	if uid := ve.GetProperty(ical.ComponentPropertyUniqueId); uid != nil {
		out.ID = sanitizeID(uid.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Name = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, false, err
	}
	out.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.AllDay = true
		}
	}

	if !out.End.After(out.Start) {
		if out.AllDay {
			out.End = out.Start.AddDate(0, 0, 1)
		} else {
			out.End = out.Start.Add(time.Hour)
		}
	}

	if p := ve.GetProperty(propertyKind); p != nil && p.Value == string(model.KindTask) {
		out.Kind = model.KindTask
		out.DurationMinutes = int(out.End.Sub(out.Start) / time.Minute)
		return out, true, nil
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil && rruleProp.Value != "" {
		rule, ok := recurrenceFromRRule(rruleProp.Value, out.Start)
		if ok {
			out.Recurrence = rule
		} else {
			appLog.Warn("ics rrule not representable; importing single event",
				"calendar", calendar, "name", out.Name, "rrule", rruleProp.Value)
		}
	}

	return out, true, nil
}

// recurrenceFromRRule maps an RRULE value onto a RecurrenceRule.
//
//   - FREQ=DAILY;INTERVAL=1 is daily.
//   - FREQ=WEEKLY without BYDAY, or with only the start's weekday, is weekly
//     (INTERVAL=2 becomes biweekly).
//   - FREQ=WEEKLY with several BYDAY values is custom.
//   - COUNT is converted to the date of the last instance.
//
// Any other shape reports false.
func recurrenceFromRRule(value string, start time.Time) (*model.RecurrenceRule, bool) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return nil, false
	}
	interval := opt.Interval
	if interval < 1 {
		interval = 1
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return nil, false
		}
	}

	rule := &model.RecurrenceRule{IntervalWeeks: interval}
	switch opt.Freq {
	case rrule.DAILY:
		if interval != 1 || len(opt.Byweekday) > 0 {
			return nil, false
		}
		rule.Type = model.RecurDaily
		rule.IntervalWeeks = 0
	case rrule.WEEKLY:
		days := make([]int, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			days = append(days, sundayFirst(wd))
		}
		switch {
		case len(days) > 1 || (len(days) == 1 && days[0] != int(start.Weekday())):
			rule.Type = model.RecurCustom
			rule.Days = days
		case interval == 2:
			rule.Type = model.RecurBiweekly
		default:
			rule.Type = model.RecurWeekly
		}
	default:
		return nil, false
	}

	if !opt.Until.IsZero() {
		until := opt.Until
		rule.Until = &until
	} else if opt.Count > 0 {
		opt.Dtstart = start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, false
		}
		all := r.All()
		if len(all) == 0 {
			return nil, false
		}
		last := all[len(all)-1]
		rule.Until = &last
	}
	return rule, true
}

// sundayFirst converts an rrule weekday (Monday = 0) to time.Weekday numbering.
func sundayFirst(wd rrule.Weekday) int {
	return (wd.Day() + 1) % 7
}

// sanitizeID keeps UIDs usable as record keys and instance-id prefixes.
func sanitizeID(uid string) string {
	uid = strings.TrimSpace(uid)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '_', ' ':
			return '-'
		}
		return r
	}, uid)
}
