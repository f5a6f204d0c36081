// Package calendar keeps the in-memory snapshot of stored records and
// routes queries and task mutations through the scheduling core.
package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/overlap"
	"famcal/internal/store"
	"famcal/internal/tasks"
)

// Book is a loaded copy of the events collection. Queries read the
// snapshot; mutations write through to the store, then update it.
type Book struct {
	st      store.Store
	horizon time.Duration
	scope   overlap.Scope

	mu     sync.RWMutex
	events []model.Event

	// onChange runs after every reload or mutation.
	onChange func()
}

// NewBook creates an empty Book over st. scope restricts the schedule
// and notification view to the visible calendars.
func NewBook(st store.Store, horizon time.Duration, visible []string) *Book {
	if horizon <= 0 {
		horizon = tasks.DefaultHorizon
	}
	return &Book{st: st, horizon: horizon, scope: overlap.NewScope(visible...)}
}

// OnChange registers a callback fired after the snapshot changes.
func (b *Book) OnChange(fn func()) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Reload replaces the snapshot with the store's contents.
func (b *Book) Reload(ctx context.Context) error {
	events, err := store.LoadEvents(ctx, b.st)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.events = events
	fn := b.onChange
	b.mu.Unlock()

	appLog.Debug("book reloaded", "events", len(events))
	if fn != nil {
		fn()
	}
	return nil
}

// Events returns a copy of the snapshot.
func (b *Book) Events() []model.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]model.Event(nil), b.events...)
}

// InRange lists concrete items of the given calendars (all when empty).
func (b *Book) InRange(calendars []string, start, end time.Time) []model.Occurrence {
	return overlap.NewIndex(b.Events()).InRange(overlap.NewScope(calendars...), start, end)
}

// Overlaps lists items conflicting with [start, end), excluding excludeID.
func (b *Book) Overlaps(start, end time.Time, calendars []string, excludeID string) []model.Occurrence {
	return overlap.NewIndex(b.Events()).Overlaps(start, end, overlap.NewScope(calendars...), excludeID)
}

// Schedule returns the merged event/task view at now.
func (b *Book) Schedule(includeDone bool, now time.Time) []model.Occurrence {
	return tasks.NewScheduler(b.Events(), b.horizon, b.scope).Schedule(includeDone, now)
}

// Upcoming implements notify.Source.
func (b *Book) Upcoming(now time.Time) []model.Occurrence {
	return b.Schedule(false, now)
}

// Add stores a new record and returns it with its assigned id.
func (b *Book) Add(ctx context.Context, ev model.Event) (model.Event, error) {
	return b.write(ctx, ev)
}

// AddTask appends a task after the last queued one.
func (b *Book) AddTask(ctx context.Context, calendar, name string, minutes int) (model.Event, error) {
	ev := model.Event{
		Calendar:        calendar,
		Name:            name,
		Kind:            model.KindTask,
		DurationMinutes: minutes,
		OrderIndex:      tasks.NextOrderIndex(b.Events()),
	}
	return b.write(ctx, ev)
}

// CommitTask pins the task's current computed slot.
func (b *Book) CommitTask(ctx context.Context, id string, now time.Time) (model.Event, error) {
	ev, err := tasks.Commit(b.Events(), id, now)
	if err != nil {
		return ev, err
	}
	return b.write(ctx, ev)
}

// PinTask anchors the task at an explicit start.
func (b *Book) PinTask(ctx context.Context, id string, start time.Time) (model.Event, error) {
	ev, err := tasks.CommitAt(b.Events(), id, start)
	if err != nil {
		return ev, err
	}
	return b.write(ctx, ev)
}

// ReleaseTask drops a committed time; the task is packed again.
func (b *Book) ReleaseTask(ctx context.Context, id string) (model.Event, error) {
	ev, err := tasks.Release(b.Events(), id)
	if err != nil {
		return ev, err
	}
	return b.write(ctx, ev)
}

// QueueEnd is when the packed queue drains if started at now.
func (b *Book) QueueEnd(now time.Time) time.Time {
	return tasks.QueueEnd(b.Events(), now)
}

// CompleteTask marks the task done.
func (b *Book) CompleteTask(ctx context.Context, id string) (model.Event, error) {
	ev, err := tasks.Complete(b.Events(), id)
	if err != nil {
		return ev, err
	}
	return b.write(ctx, ev)
}

// MoveTask reorders the task queue.
func (b *Book) MoveTask(ctx context.Context, id string, pos int) error {
	changed, err := tasks.Reorder(b.Events(), id, pos)
	if err != nil {
		return err
	}
	for _, ev := range changed {
		if _, err := b.write(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Delete tombstones the record with id.
func (b *Book) Delete(ctx context.Context, id string) error {
	for _, ev := range b.Events() {
		if ev.ID == id && !ev.Deleted {
			ev.Deleted = true
			_, err := b.write(ctx, ev)
			return err
		}
	}
	return fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
}

func (b *Book) write(ctx context.Context, ev model.Event) (model.Event, error) {
	saved, err := store.PutEvent(ctx, b.st, ev)
	if err != nil {
		return saved, err
	}

	b.mu.Lock()
	replaced := false
	for i := range b.events {
		if b.events[i].ID == saved.ID {
			b.events[i] = saved
			replaced = true
			break
		}
	}
	if !replaced {
		b.events = append(b.events, saved)
	}
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
	return saved, nil
}
