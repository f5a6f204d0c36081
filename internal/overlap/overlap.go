// Package overlap answers range and conflict queries over a flat template
// collection, expanding recurring series on the way.
package overlap

import (
	"sort"
	"time"

	"famcal/internal/model"
	"famcal/internal/recur"
)

// Scope is a set of calendar names. An empty scope matches every calendar.
type Scope map[string]struct{}

// NewScope builds a Scope from calendar names, ignoring blanks.
func NewScope(names ...string) Scope {
	s := make(Scope, len(names))
	for _, n := range names {
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Has reports whether calendar is visible in the scope.
func (s Scope) Has(calendar string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[calendar]
	return ok
}

// InRange returns the concrete items of templates visible in scope that
// intersect [rangeStart, rangeEnd). Recurring templates contribute the
// instances that start inside the range. Results are ordered by start,
// stable on input order.
func InRange(templates []model.Event, scope Scope, rangeStart, rangeEnd time.Time) []model.Occurrence {
	out := make([]model.Occurrence, 0)
	if !rangeEnd.After(rangeStart) {
		return out
	}
	for _, ev := range templates {
		if ev.Deleted || !scope.Has(ev.Calendar) || ev.Start.IsZero() {
			continue
		}
		if ev.IsRecurring() {
			out = append(out, recur.Expand(ev, rangeStart, rangeEnd)...)
			continue
		}
		if intersects(ev.Start, ev.Start.Add(ev.Duration()), rangeStart, rangeEnd) {
			out = append(out, model.View(ev, origin(ev)))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Overlaps returns the items in scope conflicting with [start, end),
// skipping excludeID (matched against both instance and template ids).
func Overlaps(templates []model.Event, start, end time.Time, scope Scope, excludeID string) []model.Occurrence {
	out := make([]model.Occurrence, 0)
	if !end.After(start) {
		return out
	}
	for _, ev := range templates {
		if ev.Deleted || !scope.Has(ev.Calendar) || ev.Start.IsZero() || (excludeID != "" && ev.ID == excludeID) {
			continue
		}
		var items []model.Occurrence
		if ev.IsRecurring() {
			// Widen by one duration so an instance starting before the
			// candidate but still running is caught.
			items = recur.Expand(ev, start.Add(-ev.Duration()), end)
		} else {
			items = []model.Occurrence{model.View(ev, origin(ev))}
		}
		for _, o := range items {
			if excludeID != "" && o.ID == excludeID {
				continue
			}
			if intersects(o.Start, o.End, start, end) {
				out = append(out, o)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Index holds a template snapshot for repeated queries.
type Index struct {
	templates []model.Event
}

// NewIndex wraps templates. The slice is not copied and must not be
// mutated while the index is in use.
func NewIndex(templates []model.Event) *Index {
	return &Index{templates: templates}
}

func (x *Index) InRange(scope Scope, rangeStart, rangeEnd time.Time) []model.Occurrence {
	return InRange(x.templates, scope, rangeStart, rangeEnd)
}

func (x *Index) Overlaps(start, end time.Time, scope Scope, excludeID string) []model.Occurrence {
	return Overlaps(x.templates, start, end, scope, excludeID)
}

func intersects(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func origin(ev model.Event) model.Origin {
	if ev.IsTask() {
		return model.OriginAnchored
	}
	return model.OriginFixed
}
