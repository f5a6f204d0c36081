package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"famcal/internal/calendar"
	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/notify"
	"famcal/internal/voice"
	"famcal/internal/web"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, periodic reload and spoken reminders.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
		},
		Action: func(c *cli.Context) error {
			appLog.Info("famcal starting", "version", version)

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				cfg.Listen = l
			}

			appLog.Info("effective config",
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"refresh", cfg.RefreshCron,
				"horizon_days", cfg.HorizonDays,
				"calendars", len(cfg.Calendars),
				"storage", cfg.Storage.Driver,
				"voice_enabled", cfg.Voice.Enabled,
			)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			book, st, err := openBook(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			d := newService(cfg, book)
			err = d.run(ctx, c.String("config"))
			appLog.Info("famcal exiting")
			return err
		},
	}
}

// service ties the book to its consumers: the notifier and announcer, the
// HTTP API, the reload cron and the config watcher.
type service struct {
	cfg       *config.Config
	book      *calendar.Book
	announcer *voice.Announcer
	notifier  *notify.Notifier
	web       *web.Server
}

func newService(cfg *config.Config, book *calendar.Book) *service {
	d := &service{cfg: cfg, book: book}
	d.announcer = voice.NewAnnouncer(speakerFor(cfg.Voice), cfg.Voice.Language,
		time.Duration(cfg.Voice.GapSeconds)*time.Second, 16)
	d.notifier = notify.New(notify.SystemClock(), book, cfg.Voice.Settings(), d.announcer.Alert)
	d.web = web.NewServer(cfg, book)

	book.OnChange(func() {
		d.web.Invalidate()
		d.notifier.Invalidate()
		d.notifier.CheckNow()
	})
	return d
}

func speakerFor(v config.VoiceConfig) voice.Speaker {
	if v.Command == "" {
		return voice.LogSpeaker{}
	}
	return voice.CommandSpeaker{Command: v.Command, Args: v.Args}
}

// applyConfig pushes a reloaded config into the running components.
// Listen, storage and refresh changes need a restart.
func (d *service) applyConfig(cfg *config.Config) {
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	d.announcer.SetLocale(cfg.Voice.Language)
	d.notifier.SetSettings(cfg.Voice.Settings())
}

func (d *service) run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := cron.New(cron.WithLocation(d.cfg.Location()))
	if _, err := sched.AddFunc(d.cfg.RefreshCron, func() {
		if err := d.book.Reload(ctx); err != nil {
			appLog.Error("scheduled reload failed", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", d.cfg.RefreshCron, err)
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				appLog.Error("component stopped", err, "component", name)
				errOnce.Do(func() { firstErr = err })
				cancel()
			}
		}()
	}

	spawn("announcer", d.announcer.Run)
	spawn("notifier", d.notifier.Run)
	spawn("web", d.web.Run)
	if configPath != "" {
		spawn("config-watch", func(ctx context.Context) error {
			return config.Watch(ctx, configPath, d.applyConfig)
		})
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		appLog.Warn("systemd notify failed", "err", err.Error())
	} else if ok {
		appLog.Debug("systemd notified ready")
	}

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	wg.Wait()
	return firstErr
}
