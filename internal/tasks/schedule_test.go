package tasks

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"famcal/internal/model"
	"famcal/internal/overlap"
)

var now = time.Date(2024, 5, 6, 10, 17, 0, 0, time.UTC)

func task(id string, order, minutes int) model.Event {
	return model.Event{ID: id, Calendar: "home", Name: id, Kind: model.KindTask, OrderIndex: order, DurationMinutes: minutes}
}

func fixed(id string, start time.Time, dur time.Duration) model.Event {
	return model.Event{ID: id, Calendar: "home", Name: id, Kind: model.KindEvent, Start: start, End: start.Add(dur)}
}

func packed(out []model.Occurrence) []model.Occurrence {
	res := make([]model.Occurrence, 0)
	for _, o := range out {
		if o.Origin == model.OriginPacked {
			res = append(res, o)
		}
	}
	return res
}

func TestSchedule_PacksBackToBack(t *testing.T) {
	items := []model.Event{task("B", 1, 30), task("A", 0, 60)}

	got := Schedule(items, Options{Now: now})
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, now, got[0].Start)
	assert.Equal(t, now.Add(60*time.Minute), got[0].End)
	assert.Equal(t, "B", got[1].ID)
	assert.Equal(t, now.Add(60*time.Minute), got[1].Start)
	assert.Equal(t, now.Add(90*time.Minute), got[1].End)

	items[1].Done = true
	got = Schedule(items, Options{Now: now})
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].ID)
	assert.Equal(t, now, got[0].Start)
}

func TestSchedule_NoPastStartsAndNoOverlap(t *testing.T) {
	items := []model.Event{task("a", 3, 15), task("b", 1, 0), task("c", 2, -5), task("d", 2, 45)}
	later := now.Add(37 * time.Minute)

	got := packed(Schedule(items, Options{Now: later}))
	require.Len(t, got, 4)
	for i, o := range got {
		assert.False(t, o.Start.Before(later))
		assert.True(t, o.End.After(o.Start))
		if i > 0 {
			assert.Equal(t, got[i-1].End, o.Start)
		}
	}
	assert.Equal(t, []string{"b", "c", "d", "a"}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})
	assert.Equal(t, model.MinDuration, got[0].End.Sub(got[0].Start))
}

func TestSchedule_MergesFixedAndAnchored(t *testing.T) {
	anchored := task("anchored", 0, 20)
	anchored.Start = now.Add(3 * time.Hour)
	anchored.End = now.Add(3*time.Hour + 20*time.Minute)

	daily := fixed("standup", now.Add(-24*time.Hour+time.Hour), 15*time.Minute)
	daily.Recurrence = &model.RecurrenceRule{Type: model.RecurDaily}

	items := []model.Event{
		fixed("lunch", now.Add(2*time.Hour), time.Hour),
		fixed("tie", now, 30*time.Minute),
		task("q", 1, 30),
		anchored,
		daily,
		fixed("last-week", now.AddDate(0, 0, -7), time.Hour),
	}

	got := Schedule(items, Options{Now: now, Horizon: 24 * time.Hour})
	ids := make([]string, 0, len(got))
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	standupToday := "standup_" + strconv.FormatInt(now.Add(time.Hour).UnixMilli(), 10)
	assert.Equal(t, []string{"tie", "q", standupToday, "lunch", "anchored"}, ids)
	assert.Equal(t, model.OriginAnchored, got[4].Origin)
	assert.Equal(t, model.OriginExpanded, got[2].Origin)
}

func TestSchedule_IncludeDone(t *testing.T) {
	doneAnchored := task("da", 0, 10)
	doneAnchored.Done = true
	doneAnchored.Start = now.Add(-time.Hour)
	doneLoose := task("dl", 1, 10)
	doneLoose.Done = true
	items := []model.Event{doneAnchored, doneLoose, task("t", 2, 10)}

	assert.Len(t, Schedule(items, Options{Now: now}), 1)

	got := Schedule(items, Options{Now: now, IncludeDone: true})
	require.Len(t, got, 3)
	assert.Equal(t, "dl", got[0].ID)
	assert.Equal(t, model.OriginUnscheduled, got[0].Origin)
	assert.True(t, got[0].Start.IsZero())
	assert.Equal(t, "da", got[1].ID)
	assert.Equal(t, now.Add(-50*time.Minute), got[1].End)
	assert.Equal(t, "t", got[2].ID)
	assert.Equal(t, now, got[2].Start)
}

func TestSchedule_ScopeAndDeleted(t *testing.T) {
	other := task("other", 0, 10)
	other.Calendar = "work"
	gone := task("gone", 1, 10)
	gone.Deleted = true
	items := []model.Event{other, gone, task("mine", 2, 10)}

	s := NewScheduler(items, time.Hour, overlap.NewScope("home"))
	got := s.Schedule(false, now)
	require.Len(t, got, 1)
	assert.Equal(t, "mine", got[0].ID)
	assert.Equal(t, now, got[0].Start)
}

func TestCommit(t *testing.T) {
	items := []model.Event{task("A", 0, 60), task("B", 1, 30)}

	b, err := Commit(items, "B", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), b.Start)
	assert.Equal(t, now.Add(90*time.Minute), b.End)
	assert.True(t, b.Anchored())
	assert.False(t, items[1].Anchored(), "input snapshot must not be mutated")

	items[1] = b
	again, err := Commit(items, "B", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, b.Start, again.Start)

	_, err = Commit(items, "missing", now)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCommitAtAndRelease(t *testing.T) {
	items := []model.Event{task("A", 0, 25)}
	at := now.Add(5 * time.Hour)

	a, err := CommitAt(items, "A", at)
	require.NoError(t, err)
	assert.Equal(t, at.Add(25*time.Minute), a.End)

	items[0] = a
	r, err := Release(items, "A")
	require.NoError(t, err)
	assert.False(t, r.Anchored())

	_, err = Release(items, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComplete(t *testing.T) {
	items := []model.Event{task("A", 0, 25), fixed("E", now, time.Hour)}
	a, err := Complete(items, "A")
	require.NoError(t, err)
	assert.True(t, a.Done)

	_, err = Complete(items, "E")
	assert.ErrorIs(t, err, ErrNotFound, "events are not tasks")
}

func TestReorder(t *testing.T) {
	items := []model.Event{task("a", 0, 10), task("b", 1, 10), task("c", 2, 10)}

	changed, err := Reorder(items, "c", 0)
	require.NoError(t, err)
	byID := map[string]int{}
	for _, ev := range changed {
		byID[ev.ID] = ev.OrderIndex
	}
	assert.Equal(t, map[string]int{"c": 0, "a": 1, "b": 2}, byID)

	_, err = Reorder(items, "zzz", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNextOrderIndexAndQueueEnd(t *testing.T) {
	items := []model.Event{task("a", 4, 10), task("b", 1, 20), fixed("e", now, time.Hour)}
	assert.Equal(t, 5, NextOrderIndex(items))
	assert.Equal(t, 0, NextOrderIndex(nil))
	assert.Equal(t, now.Add(30*time.Minute), QueueEnd(items, now))
	assert.Equal(t, now, QueueEnd(nil, now))
}

func TestSchedule_AnchoredTasksHonourHorizon(t *testing.T) {
	stale := task("stale", 0, 30)
	stale.Start = now.AddDate(0, 0, -3)
	earlyToday := task("early", 1, 30)
	earlyToday.Start = dayStart(now).Add(time.Hour)
	nextMonth := task("later", 2, 30)
	nextMonth.Start = now.AddDate(0, 1, 0)
	items := []model.Event{stale, earlyToday, nextMonth, task("q", 3, 10)}

	got := Schedule(items, Options{Now: now, Horizon: 48 * time.Hour})
	ids := make([]string, 0, len(got))
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"early", "q"}, ids)

	got = Schedule(items, Options{Now: now, Horizon: 40 * 24 * time.Hour})
	require.Len(t, got, 3)
	assert.Equal(t, "later", got[2].ID)
}
