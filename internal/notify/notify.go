// Package notify runs the voice alert loop. It polls the effective schedule
// on an adaptive cadence and fires at-start and lead-time alerts at most
// once per item and phase.
package notify

import (
	"context"
	"sync"
	"time"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

const (
	PastWindow  = 15 * time.Minute
	WindowSlack = 30 * time.Minute
	Tolerance   = 30 * time.Second
	FiredTTL    = 5 * time.Minute
	CacheTTL    = 30 * time.Second

	BusyDelay      = 5 * time.Second
	MinIdleDelay   = 60 * time.Second
	MaxIdleDelay   = 300 * time.Second
	HeartbeatDelay = 60 * time.Second
)

// Phase is one of the two alert triggers of an item.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseLead  Phase = "lead"
)

// Settings is the read-only preference snapshot the loop works from.
type Settings struct {
	VoiceEnabled bool
	LeadTime     time.Duration
	AtStart      bool
	Language     string
}

// FutureWindow is how far ahead of now items are considered.
func (s Settings) FutureWindow() time.Duration {
	return s.LeadTime + WindowSlack
}

// Source yields the effective schedule at now.
type Source interface {
	Upcoming(now time.Time) []model.Occurrence
}

// SourceFunc adapts a function to Source.
type SourceFunc func(now time.Time) []model.Occurrence

func (f SourceFunc) Upcoming(now time.Time) []model.Occurrence { return f(now) }

// AlertFunc receives fired alerts. minutesBefore is 0 for at-start alerts.
type AlertFunc func(name string, minutesBefore int)

// Alert describes one fired alert.
type Alert struct {
	ItemID        string
	Name          string
	Phase         Phase
	MinutesBefore int
}

// Result summarizes one evaluation pass.
type Result struct {
	Alerts     []Alert
	Candidates int
	Next       time.Duration
}

type firedKey struct {
	id    string
	phase Phase
}

type windowCache struct {
	from, to   time.Time
	expires    time.Time
	items      []model.Occurrence
	candidates []model.Occurrence
}

func (c *windowCache) valid(now time.Time) bool {
	return c != nil && !now.Before(c.from) && !now.After(c.to) && now.Before(c.expires)
}

// Notifier owns the window cache, the fired set and the single pending
// wake-up timer.
type Notifier struct {
	clock   Clock
	source  Source
	onAlert AlertFunc

	mu       sync.Mutex
	settings Settings
	cache    *windowCache
	fired    map[firedKey]time.Time
	pending  Timer
	gen      uint64
	stopped  bool
}

// New creates a Notifier. A nil clock uses the system clock.
func New(clock Clock, source Source, settings Settings, onAlert AlertFunc) *Notifier {
	if clock == nil {
		clock = SystemClock()
	}
	if onAlert == nil {
		onAlert = func(string, int) {}
	}
	return &Notifier{
		clock:    clock,
		source:   source,
		onAlert:  onAlert,
		settings: settings,
		fired:    make(map[firedKey]time.Time),
	}
}

// Settings returns the current preference snapshot.
func (n *Notifier) Settings() Settings {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.settings
}

// SetSettings swaps the preferences. Disabling voice cancels the pending
// wake and keeps it cancelled; otherwise a pass runs right away under the
// new settings.
func (n *Notifier) SetSettings(s Settings) {
	n.mu.Lock()
	n.settings = s
	n.cache = nil
	if !s.VoiceEnabled {
		n.cancelLocked()
	}
	n.mu.Unlock()

	appLog.Info("notify settings applied",
		"voice_enabled", s.VoiceEnabled,
		"lead_time", s.LeadTime.String(),
		"at_start", s.AtStart,
		"language", s.Language,
	)
	if s.VoiceEnabled {
		n.CheckNow()
	}
}

// Invalidate drops the window cache, e.g. after the underlying records
// were reloaded.
func (n *Notifier) Invalidate() {
	n.mu.Lock()
	n.cache = nil
	n.mu.Unlock()
}

// CheckNow cancels any pending wake, evaluates at the clock's now and arms
// the next wake. It does nothing while voice alerts are disabled.
func (n *Notifier) CheckNow() Result {
	n.mu.Lock()
	n.cancelLocked()
	enabled := n.settings.VoiceEnabled && !n.stopped
	n.mu.Unlock()
	if !enabled {
		return Result{}
	}

	res := n.Evaluate(n.clock.Now())
	n.Reschedule(res.Next)
	return res
}

// Reschedule replaces the pending wake with one after delay. Calling it
// repeatedly leaves exactly one wake pending.
func (n *Notifier) Reschedule(delay time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelLocked()
	if !n.settings.VoiceEnabled || n.stopped {
		return
	}
	gen := n.gen
	n.pending = n.clock.AfterFunc(delay, func() { n.wake(gen) })
	appLog.Debug("notify wake armed", "delay", delay.String())
}

// Pending reports whether a wake is armed.
func (n *Notifier) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending != nil
}

// Stop cancels the pending wake and prevents re-arming.
func (n *Notifier) Stop() {
	n.mu.Lock()
	n.stopped = true
	n.cancelLocked()
	n.mu.Unlock()
}

// Run starts the loop and blocks until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	n.mu.Lock()
	n.stopped = false
	n.mu.Unlock()

	n.CheckNow()
	<-ctx.Done()
	n.Stop()
	return nil
}

func (n *Notifier) wake(gen uint64) {
	n.mu.Lock()
	stale := gen != n.gen
	if !stale {
		n.pending = nil
	}
	n.mu.Unlock()
	if stale {
		return
	}
	n.CheckNow()
}

// cancelLocked stops the pending timer and invalidates callbacks that may
// already be in flight.
func (n *Notifier) cancelLocked() {
	n.gen++
	if n.pending != nil {
		n.pending.Stop()
		n.pending = nil
	}
}

// Evaluate runs one pass at now: fires due alerts through the hook and
// computes the delay until the next pass.
func (n *Notifier) Evaluate(now time.Time) Result {
	n.mu.Lock()
	s := n.settings
	cache := n.windowLocked(now, s)

	for k, exp := range n.fired {
		if !now.Before(exp) {
			delete(n.fired, k)
		}
	}

	var alerts []Alert
	for _, o := range cache.candidates {
		until := o.Start.Sub(now)
		if s.AtStart && abs(until) <= Tolerance {
			if a, ok := n.fireLocked(o, PhaseStart, 0, now); ok {
				alerts = append(alerts, a)
			}
		}
		if s.LeadTime > 0 && abs(until-s.LeadTime) <= Tolerance {
			if a, ok := n.fireLocked(o, PhaseLead, int(s.LeadTime/time.Minute), now); ok {
				alerts = append(alerts, a)
			}
		}
	}

	res := Result{
		Alerts:     alerts,
		Candidates: len(cache.candidates),
		Next:       nextDelay(now, s, cache),
	}
	n.mu.Unlock()

	for _, a := range alerts {
		appLog.Info("voice alert", "id", a.ItemID, "name", a.Name, "phase", string(a.Phase), "minutes_before", a.MinutesBefore)
		n.onAlert(a.Name, a.MinutesBefore)
	}
	return res
}

func (n *Notifier) fireLocked(o model.Occurrence, phase Phase, minutes int, now time.Time) (Alert, bool) {
	key := firedKey{id: o.ID, phase: phase}
	if _, done := n.fired[key]; done {
		return Alert{}, false
	}
	n.fired[key] = now.Add(FiredTTL)
	return Alert{ItemID: o.ID, Name: o.Name, Phase: phase, MinutesBefore: minutes}, true
}

// windowLocked returns the cached window or rebuilds it from the source.
func (n *Notifier) windowLocked(now time.Time, s Settings) *windowCache {
	if n.cache.valid(now) {
		return n.cache
	}

	from := now.Add(-PastWindow)
	to := now.Add(s.FutureWindow())
	c := &windowCache{from: from, to: to, expires: now.Add(CacheTTL)}
	if n.source != nil {
		for _, o := range n.source.Upcoming(now) {
			if !o.FixedTime() || o.AllDay || o.Done || o.Start.Before(from) {
				continue
			}
			c.items = append(c.items, o)
			if !o.Start.After(to) {
				c.candidates = append(c.candidates, o)
			}
		}
	}
	n.cache = c
	appLog.Debug("notify window rebuilt", "items", len(c.items), "candidates", len(c.candidates))
	return c
}

func nextDelay(now time.Time, s Settings, c *windowCache) time.Duration {
	if len(c.candidates) > 0 {
		return BusyDelay
	}

	var nearest time.Duration
	found := false
	for _, o := range c.items {
		until := o.Start.Sub(now)
		if until <= 0 {
			continue
		}
		if !found || until < nearest {
			nearest = until
			found = true
		}
	}
	if !found {
		return HeartbeatDelay
	}

	d := nearest - s.FutureWindow() + s.LeadTime
	if d < 0 {
		d = 0
	}
	if d < MinIdleDelay {
		return MinIdleDelay
	}
	if d > MaxIdleDelay {
		return MaxIdleDelay
	}
	return d
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
