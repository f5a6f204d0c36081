package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSpeaker struct {
	mock.Mock
}

func (m *MockSpeaker) Speak(ctx context.Context, text, locale string) error {
	args := m.Called(ctx, text, locale)
	return args.Error(0)
}

func TestPhrase(t *testing.T) {
	cases := []struct {
		locale  string
		minutes int
		text    string
		label   string
	}{
		{"en-US", 10, "Piano starts in 10 minutes", "en"},
		{"en", 0, "Piano is starting now", "en"},
		{"fr_FR", 1, "Piano commence dans une minute", "fr"},
		{"de", 5, "Piano beginnt in 5 Minuten", "de"},
		{"ko-KR", 0, "Piano 지금 시작합니다", "ko"},
		{"", 3, "Piano starts in 3 minutes", "en"},
		{"xx-invalid-@@", 3, "Piano starts in 3 minutes", "en"},
	}
	for _, tc := range cases {
		text, label := Phrase(tc.locale, "Piano", tc.minutes)
		assert.Equal(t, tc.text, text, tc.locale)
		assert.Equal(t, tc.label, label, tc.locale)
	}
}

func TestAnnouncer_SpeaksQueuedAlerts(t *testing.T) {
	sp := new(MockSpeaker)
	done := make(chan struct{})
	sp.On("Speak", mock.Anything, "Soccer starts in 10 minutes", "en").Return(nil).Once()
	sp.On("Speak", mock.Anything, "Soccer commence maintenant", "fr").Return(errors.New("no audio")).Once().
		Run(func(mock.Arguments) { close(done) })

	a := NewAnnouncer(sp, "en", 0, 4)
	a.Alert("Soccer", 10)
	a.SetLocale("fr")
	a.Alert("Soccer", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("announcer did not speak both alerts")
	}
	sp.AssertExpectations(t)
}

func TestAnnouncer_DropsWhenFull(t *testing.T) {
	a := NewAnnouncer(LogSpeaker{}, "en", time.Second, 1)
	a.Alert("a", 1)
	a.Alert("b", 1)
	assert.Len(t, a.queue, 1)
}

func TestCommandSpeaker(t *testing.T) {
	ok := CommandSpeaker{Command: "sh", Args: []string{"-c", `test "$0" = "fr:bonjour"`, "{locale}:{text}"}}
	require.NoError(t, ok.Speak(context.Background(), "bonjour", "fr"))

	bad := CommandSpeaker{Command: "sh", Args: []string{"-c", "exit 3"}}
	assert.Error(t, bad.Speak(context.Background(), "x", "en"))

	assert.Error(t, CommandSpeaker{}.Speak(context.Background(), "x", "en"))
}
