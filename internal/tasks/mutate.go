package tasks

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"famcal/internal/model"
)

// ErrNotFound is returned when a mutation names an id that is not a live
// task in the snapshot.
var ErrNotFound = errors.New("task not found")

// find returns the index of the live task with id.
func find(templates []model.Event, id string) (int, error) {
	for i, ev := range templates {
		if ev.ID == id && ev.IsTask() && !ev.Deleted {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Commit fixes the task's currently computed slot as its committed time,
// turning it into an anchored item. Already anchored tasks are returned
// unchanged.
func Commit(templates []model.Event, id string, now time.Time) (model.Event, error) {
	i, err := find(templates, id)
	if err != nil {
		return model.Event{}, err
	}
	task := templates[i]
	if task.Anchored() {
		return task, nil
	}
	for _, o := range Schedule(templates, Options{Now: now, Horizon: time.Minute}) {
		if o.Origin == model.OriginPacked && o.ID == id {
			task.Start = o.Start
			task.End = o.End
			return task, nil
		}
	}
	// Done tasks are never packed; pin them at now.
	task.Start = now
	task.End = now.Add(task.TaskDuration())
	return task, nil
}

// CommitAt anchors the task at an explicit start.
func CommitAt(templates []model.Event, id string, start time.Time) (model.Event, error) {
	i, err := find(templates, id)
	if err != nil {
		return model.Event{}, err
	}
	task := templates[i]
	task.Start = start
	task.End = start.Add(task.TaskDuration())
	return task, nil
}

// Release clears a committed time so the task rejoins the packed queue.
func Release(templates []model.Event, id string) (model.Event, error) {
	i, err := find(templates, id)
	if err != nil {
		return model.Event{}, err
	}
	task := templates[i]
	task.Start, task.End = time.Time{}, time.Time{}
	return task, nil
}

// Complete marks the task done.
func Complete(templates []model.Event, id string) (model.Event, error) {
	i, err := find(templates, id)
	if err != nil {
		return model.Event{}, err
	}
	task := templates[i]
	task.Done = true
	return task, nil
}

// Reorder moves the task to position pos among the undone tasks and returns
// every task whose OrderIndex changed. Indices are renumbered 0..n-1.
func Reorder(templates []model.Event, id string, pos int) ([]model.Event, error) {
	if _, err := find(templates, id); err != nil {
		return nil, err
	}

	queue := make([]model.Event, 0)
	var moved model.Event
	for _, ev := range templates {
		if !ev.IsTask() || ev.Deleted || ev.Done {
			continue
		}
		if ev.ID == id {
			moved = ev
			continue
		}
		queue = append(queue, ev)
	}
	if moved.ID == "" {
		return nil, fmt.Errorf("%w: %s is done", ErrNotFound, id)
	}
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].OrderIndex < queue[j].OrderIndex })

	if pos < 0 {
		pos = 0
	}
	if pos > len(queue) {
		pos = len(queue)
	}
	queue = append(queue[:pos], append([]model.Event{moved}, queue[pos:]...)...)

	changed := make([]model.Event, 0)
	for i, ev := range queue {
		if ev.OrderIndex != i {
			ev.OrderIndex = i
			changed = append(changed, ev)
		}
	}
	return changed, nil
}

// NextOrderIndex returns the index that appends a new task after the last
// queued one.
func NextOrderIndex(templates []model.Event) int {
	next := 0
	for _, ev := range templates {
		if ev.IsTask() && !ev.Deleted && ev.OrderIndex >= next {
			next = ev.OrderIndex + 1
		}
	}
	return next
}

// QueueEnd returns when the packed queue drains if started at now, i.e.
// where a task appended now would begin.
func QueueEnd(templates []model.Event, now time.Time) time.Time {
	end := now
	for _, o := range Schedule(templates, Options{Now: now, Horizon: time.Minute}) {
		if o.Origin == model.OriginPacked && o.End.After(end) {
			end = o.End
		}
	}
	return end
}
