// Package voice turns fired alerts into spoken phrases.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	appLog "famcal/internal/log"
)

// Speaker is the synthesis collaborator.
type Speaker interface {
	Speak(ctx context.Context, text, locale string) error
}

// LogSpeaker writes utterances to the log instead of an audio device.
type LogSpeaker struct{}

func (LogSpeaker) Speak(_ context.Context, text, locale string) error {
	appLog.Info("speak", "locale", locale, "text", text)
	return nil
}

// CommandSpeaker runs an external TTS program. Args may contain the
// placeholders {locale} and {text}; when {text} is absent the text is
// appended as the last argument.
type CommandSpeaker struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func (c CommandSpeaker) Speak(ctx context.Context, text, locale string) error {
	if c.Command == "" {
		return errors.New("voice: command is empty")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, 0, len(c.Args)+1)
	hasText := false
	for _, a := range c.Args {
		if strings.Contains(a, "{text}") {
			hasText = true
		}
		a = strings.ReplaceAll(a, "{locale}", locale)
		a = strings.ReplaceAll(a, "{text}", text)
		args = append(args, a)
	}
	if !hasText {
		args = append(args, text)
	}

	out, err := exec.CommandContext(ctx, c.Command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("voice: %s: %w (%s)", c.Command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

var supported = []language.Tag{
	language.English,
	language.French,
	language.German,
	language.Korean,
}

var matcher = language.NewMatcher(supported)

type phrases struct {
	now   string // %s = name
	soon  string // %s = name, %d = minutes
	one   string // %s = name
	label string
}

var catalog = map[language.Tag]phrases{
	language.English: {now: "%s is starting now", soon: "%s starts in %d minutes", one: "%s starts in one minute", label: "en"},
	language.French:  {now: "%s commence maintenant", soon: "%s commence dans %d minutes", one: "%s commence dans une minute", label: "fr"},
	language.German:  {now: "%s beginnt jetzt", soon: "%s beginnt in %d Minuten", one: "%s beginnt in einer Minute", label: "de"},
	language.Korean:  {now: "%s 지금 시작합니다", soon: "%s %d분 후에 시작합니다", one: "%s 1분 후에 시작합니다", label: "ko"},
}

// Phrase renders the alert text for locale, falling back to English.
// It also returns the matched locale tag.
func Phrase(locale, name string, minutesBefore int) (string, string) {
	_, idx, _ := matcher.Match(parseLocale(locale))
	p := catalog[supported[idx]]
	switch {
	case minutesBefore <= 0:
		return fmt.Sprintf(p.now, name), p.label
	case minutesBefore == 1:
		return fmt.Sprintf(p.one, name), p.label
	default:
		return fmt.Sprintf(p.soon, name, minutesBefore), p.label
	}
}

func parseLocale(locale string) language.Tag {
	t, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
	if err != nil {
		return language.English
	}
	return t
}

type utterance struct {
	text   string
	locale string
}

// Announcer queues alert phrases and speaks them one at a time, spaced by
// a rate limiter so simultaneous alerts do not talk over each other.
type Announcer struct {
	speaker Speaker
	limiter *rate.Limiter
	queue   chan utterance

	mu     sync.RWMutex
	locale string
}

// NewAnnouncer creates an Announcer. gap is the minimum pause between two
// utterances; queue bounds pending phrases (extra ones are dropped).
func NewAnnouncer(speaker Speaker, locale string, gap time.Duration, queue int) *Announcer {
	if queue <= 0 {
		queue = 16
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if gap > 0 {
		lim = rate.NewLimiter(rate.Every(gap), 1)
	}
	return &Announcer{
		speaker: speaker,
		limiter: lim,
		queue:   make(chan utterance, queue),
		locale:  locale,
	}
}

// SetLocale changes the language of subsequent alerts.
func (a *Announcer) SetLocale(locale string) {
	a.mu.Lock()
	a.locale = locale
	a.mu.Unlock()
}

// Alert matches notify.AlertFunc. It never blocks.
func (a *Announcer) Alert(name string, minutesBefore int) {
	a.mu.RLock()
	locale := a.locale
	a.mu.RUnlock()

	text, label := Phrase(locale, name, minutesBefore)
	select {
	case a.queue <- utterance{text: text, locale: label}:
	default:
		appLog.Warn("voice queue full; alert dropped", "name", name, "minutes_before", minutesBefore)
	}
}

// Run speaks queued phrases until ctx is done.
func (a *Announcer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-a.queue:
			if err := a.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := a.speaker.Speak(ctx, u.text, u.locale); err != nil {
				appLog.Error("voice speak failed", err, "locale", u.locale)
			}
		}
	}
}
