package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MinDuration is the shortest span any item may occupy. Zero-length instants
// and inverted ranges are clamped up to it.
const MinDuration = time.Minute

// Kind distinguishes fixed appointments from flexible-duration tasks.
type Kind string

const (
	KindEvent Kind = "event"
	KindTask  Kind = "task"
)

// RecurrenceType selects the step rule used by the expander.
type RecurrenceType string

const (
	RecurNone     RecurrenceType = "none"
	RecurDaily    RecurrenceType = "daily"
	RecurWeekly   RecurrenceType = "weekly"
	RecurBiweekly RecurrenceType = "biweekly"
	RecurCustom   RecurrenceType = "custom"
)

// RecurrenceRule describes how a template repeats.
type RecurrenceRule struct {
	Type RecurrenceType `json:"type"`
	// IntervalWeeks applies to weekly and custom cadences. Zero is treated as 1.
	IntervalWeeks int `json:"intervalWeeks,omitempty"`
	// Days holds weekday indices, 0 = Sunday ... 6 = Saturday. Custom only.
	Days []int `json:"days,omitempty"`
	// Until is an inclusive cutoff on occurrence start times.
	Until *time.Time `json:"until,omitempty"`
}

// Interval returns IntervalWeeks with degenerate values raised to 1.
func (r RecurrenceRule) Interval() int {
	if r.IntervalWeeks < 1 {
		return 1
	}
	return r.IntervalWeeks
}

// Event is a stored record: either a fixed-time item, a task, or the
// template of a recurring series.
type Event struct {
	ID       string `json:"id"`
	Calendar string `json:"calendar"`
	Name     string `json:"name"`

	// Start / End are absolute for single items and describe the template
	// occurrence for recurring ones. Unanchored tasks leave them zero.
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"allDay,omitempty"`

	Kind            Kind `json:"type"`
	Done            bool `json:"done,omitempty"`
	OrderIndex      int  `json:"orderIndex,omitempty"`
	DurationMinutes int  `json:"durationMinutes,omitempty"`

	Deleted    bool            `json:"deleted,omitempty"`
	Recurrence *RecurrenceRule `json:"recurrence,omitempty"`
}

// IsTask reports whether the record is a task.
func (e Event) IsTask() bool { return e.Kind == KindTask }

// IsRecurring reports whether the record is a recurring template.
func (e Event) IsRecurring() bool {
	return e.Recurrence != nil && e.Recurrence.Type != "" && e.Recurrence.Type != RecurNone
}

// Anchored reports whether a task carries a committed start time.
func (e Event) Anchored() bool { return !e.Start.IsZero() }

// Duration returns End - Start, clamped to MinDuration.
func (e Event) Duration() time.Duration {
	d := e.End.Sub(e.Start)
	if d < MinDuration {
		return MinDuration
	}
	return d
}

// TaskDuration returns DurationMinutes as a duration, clamped to MinDuration.
func (e Event) TaskDuration() time.Duration {
	if e.DurationMinutes < 1 {
		return MinDuration
	}
	return time.Duration(e.DurationMinutes) * time.Minute
}

var idNamespace = uuid.MustParse("6f1c2c0e-4f7a-4db4-9a57-0d8c1f3b9e21")

// EnsureID assigns a content-derived id when none is set.
func (e *Event) EnsureID() {
	if e.ID != "" {
		return
	}
	key := fmt.Sprintf("%s|%s|%s|%s|%d", e.Calendar, e.Kind, e.Name, e.Start.UTC().Format(time.RFC3339Nano), e.OrderIndex)
	e.ID = uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// Origin tags how an Occurrence's times were obtained.
type Origin string

const (
	OriginFixed       Origin = "fixed"       // non-recurring item, times as stored
	OriginExpanded    Origin = "expanded"    // projected from a recurring template
	OriginAnchored    Origin = "anchored"    // task with a committed slot
	OriginPacked      Origin = "packed"      // task slot computed by the packer
	OriginUnscheduled Origin = "unscheduled" // done task without a slot
)

// Occurrence is a derived, query-scoped view of an Event. It is never
// persisted; write paths accept Event only.
type Occurrence struct {
	ID         string
	OriginalID string
	Origin     Origin

	Calendar string
	Name     string
	Kind     Kind
	AllDay   bool
	Done     bool

	OrderIndex int

	Start time.Time
	End   time.Time
}

// FixedTime reports whether the occurrence has a real, user-visible time
// (as opposed to an estimate that moves with now).
func (o Occurrence) FixedTime() bool {
	switch o.Origin {
	case OriginFixed, OriginExpanded, OriginAnchored:
		return true
	}
	return false
}

// SourceID returns the id of the stored record behind the occurrence.
func (o Occurrence) SourceID() string {
	if o.OriginalID != "" {
		return o.OriginalID
	}
	return o.ID
}

// View builds an Occurrence that mirrors e as stored.
func View(e Event, origin Origin) Occurrence {
	return Occurrence{
		ID:         e.ID,
		OriginalID: e.ID,
		Origin:     origin,
		Calendar:   e.Calendar,
		Name:       e.Name,
		Kind:       e.Kind,
		AllDay:     e.AllDay,
		Done:       e.Done,
		OrderIndex: e.OrderIndex,
		Start:      e.Start,
		End:        e.Start.Add(e.Duration()),
	}
}

// Instance builds the expanded occurrence of e starting at start.
func Instance(e Event, start time.Time) Occurrence {
	o := View(e, OriginExpanded)
	o.ID = e.ID + "_" + strconv.FormatInt(start.UnixMilli(), 10)
	o.Start = start
	o.End = start.Add(e.Duration())
	return o
}
