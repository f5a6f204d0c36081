// Package tasks sequences flexible-duration tasks from now and merges them
// with fixed-time events into one chronological view.
package tasks

import (
	"sort"
	"time"

	"famcal/internal/model"
	"famcal/internal/overlap"
)

// DefaultHorizon bounds how far ahead fixed and recurring events are merged.
const DefaultHorizon = 7 * 24 * time.Hour

// Options controls a Schedule pass.
type Options struct {
	IncludeDone bool
	Now         time.Time
	// Horizon is how far past Now fixed events are collected. Zero means
	// DefaultHorizon.
	Horizon time.Duration
	Scope   overlap.Scope
}

// Schedule builds the merged view. Fixed events and anchored tasks come
// from the start of Now's day up to Now+Horizon; undone unanchored tasks are packed
// back-to-back from Now in OrderIndex order.
func Schedule(templates []model.Event, opts Options) []model.Occurrence {
	now := opts.Now
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	fixed := make([]model.Event, 0, len(templates))
	queue := make([]model.Event, 0)
	for _, ev := range templates {
		if ev.Deleted || !opts.Scope.Has(ev.Calendar) {
			continue
		}
		if !ev.IsTask() {
			fixed = append(fixed, ev)
			continue
		}
		if ev.Done && !opts.IncludeDone {
			continue
		}
		queue = append(queue, ev)
	}

	from, to := dayStart(now), now.Add(horizon)
	out := overlap.InRange(fixed, nil, from, to)
	out = append(out, pack(queue, now, from, to)...)

	// Tasks were appended in OrderIndex order, so a stable sort keeps fixed
	// events ahead of tasks on equal starts.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// pack places tasks in OrderIndex order (stable on input order). Anchored
// tasks keep their committed slot and are shown only when it intersects
// [from, to), like fixed events. Undone unanchored ones advance the cursor,
// done unanchored ones have no slot.
func pack(queue []model.Event, now, from, to time.Time) []model.Occurrence {
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].OrderIndex < queue[j].OrderIndex })

	out := make([]model.Occurrence, 0, len(queue))
	cursor := now
	for _, t := range queue {
		switch {
		case t.Anchored():
			v := model.View(t, model.OriginAnchored)
			if !t.End.After(t.Start) {
				v.End = t.Start.Add(t.TaskDuration())
			}
			if v.Start.Before(to) && v.End.After(from) {
				out = append(out, v)
			}
		case t.Done:
			v := model.View(t, model.OriginUnscheduled)
			v.Start, v.End = time.Time{}, time.Time{}
			out = append(out, v)
		default:
			start := cursor
			if start.Before(now) {
				start = now
			}
			v := model.View(t, model.OriginPacked)
			v.Start = start
			v.End = start.Add(t.TaskDuration())
			cursor = v.End
			out = append(out, v)
		}
	}
	return out
}

// Scheduler binds a template snapshot to a horizon and scope.
type Scheduler struct {
	templates []model.Event
	horizon   time.Duration
	scope     overlap.Scope
}

func NewScheduler(templates []model.Event, horizon time.Duration, scope overlap.Scope) *Scheduler {
	return &Scheduler{templates: templates, horizon: horizon, scope: scope}
}

func (s *Scheduler) Schedule(includeDone bool, now time.Time) []model.Occurrence {
	return Schedule(s.templates, Options{IncludeDone: includeDone, Now: now, Horizon: s.horizon, Scope: s.scope})
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
