package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"famcal/internal/calendar"
	"famcal/internal/config"
	"famcal/internal/ics"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/store"
)

const version = "0.1.0"

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		appLog.Error("famcal failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "famcal",
		Usage:   "Family calendar: recurring events, a task queue and spoken reminders.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "/etc/famcal/config.yaml",
				Usage:   "Path to config file",
				EnvVars: []string{"FAMCAL_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			agendaCommand(),
			importCommand(),
			exportCommand(),
			addTaskCommand(),
			commitCommand(),
			releaseCommand(),
			doneCommand(),
		},
	}
}

// loadConfig reads the config file, applies environment overrides and sets
// the log level.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// openBook opens the configured store and loads it into a Book. The
// caller closes the returned store.
func openBook(ctx context.Context, cfg *config.Config) (*calendar.Book, store.Store, error) {
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	book := calendar.NewBook(st, cfg.Horizon(), cfg.Calendars)
	if err := book.Reload(ctx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return book, st, nil
}

// withBook runs fn against a freshly loaded book.
func withBook(c *cli.Context, fn func(cfg *config.Config, book *calendar.Book) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	book, st, err := openBook(c.Context, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, book)
}

func agendaCommand() *cli.Command {
	return &cli.Command{
		Name:  "agenda",
		Usage: "Print the merged schedule of events and queued tasks.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "include-done", Usage: "Also list completed tasks."},
		},
		Action: func(c *cli.Context) error {
			return withBook(c, func(cfg *config.Config, book *calendar.Book) error {
				loc := cfg.Location()
				now := time.Now().In(loc)
				for _, o := range book.Schedule(c.Bool("include-done"), now) {
					printOccurrence(c.App.Writer, o, loc)
				}
				return nil
			})
		},
	}
}

func printOccurrence(w io.Writer, o model.Occurrence, loc *time.Location) {
	when := "--"
	length := ""
	switch {
	case o.Start.IsZero():
	case o.AllDay:
		when = o.Start.In(loc).Format("2006-01-02") + " all day"
	default:
		when = o.Start.In(loc).Format("2006-01-02 15:04")
		length = o.End.Sub(o.Start).String()
	}
	mark := ""
	if o.Done {
		mark = " (done)"
	}
	fmt.Fprintf(w, "%-22s %-8s [%s] %s%s  %s  %s\n", when, length, o.Calendar, o.Name, mark, o.Origin, o.ID)
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import events from one or more .ics files.",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calendar", Value: "family", Usage: "Calendar the events are assigned to."},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("import: at least one .ics file is required")
			}
			return withBook(c, func(_ *config.Config, book *calendar.Book) error {
				total := 0
				for _, path := range c.Args().Slice() {
					body, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					events, err := ics.ImportICS(c.String("calendar"), body)
					if err != nil {
						return fmt.Errorf("import %s: %w", path, err)
					}
					for _, ev := range events {
						if _, err := book.Add(c.Context, ev); err != nil {
							return err
						}
					}
					total += len(events)
				}
				fmt.Fprintf(c.App.Writer, "imported %d events\n", total)
				return nil
			})
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write stored events and pinned tasks as iCalendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)."},
		},
		Action: func(c *cli.Context) error {
			return withBook(c, func(_ *config.Config, book *calendar.Book) error {
				body := ics.ExportICS(book.Events(), time.Now())
				if out := c.String("out"); out != "" {
					return os.WriteFile(out, []byte(body), 0o644)
				}
				_, err := io.WriteString(c.App.Writer, body)
				return err
			})
		},
	}
}

func addTaskCommand() *cli.Command {
	return &cli.Command{
		Name:      "add-task",
		Usage:     "Append a task to the queue.",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calendar", Value: "family", Usage: "Calendar the task belongs to."},
			&cli.IntFlag{Name: "minutes", Value: 30, Usage: "Estimated duration in minutes."},
		},
		Action: func(c *cli.Context) error {
			name := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if name == "" {
				return errors.New("add-task: a task name is required")
			}
			return withBook(c, func(_ *config.Config, book *calendar.Book) error {
				ev, err := book.AddTask(c.Context, c.String("calendar"), name, c.Int("minutes"))
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, ev.ID)
				return nil
			})
		},
	}
}

func commitCommand() *cli.Command {
	return &cli.Command{
		Name:      "commit",
		Usage:     "Pin a queued task to its currently computed slot, or to --at.",
		ArgsUsage: "ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "at", Usage: `Explicit start, "2006-01-02 15:04" in the configured timezone.`},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("commit: a task id is required")
			}
			return withBook(c, func(cfg *config.Config, book *calendar.Book) error {
				var (
					ev  model.Event
					err error
				)
				if at := c.String("at"); at != "" {
					start, perr := time.ParseInLocation("2006-01-02 15:04", at, cfg.Location())
					if perr != nil {
						return fmt.Errorf("commit: invalid --at %q: %w", at, perr)
					}
					ev, err = book.PinTask(c.Context, id, start)
				} else {
					ev, err = book.CommitTask(c.Context, id, time.Now())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s pinned at %s\n", ev.Name, ev.Start.In(cfg.Location()).Format("2006-01-02 15:04"))
				return nil
			})
		},
	}
}

func releaseCommand() *cli.Command {
	return &cli.Command{
		Name:      "release",
		Usage:     "Drop a task's pinned time so it is queued again.",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("release: a task id is required")
			}
			return withBook(c, func(_ *config.Config, book *calendar.Book) error {
				ev, err := book.ReleaseTask(c.Context, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s queued\n", ev.Name)
				return nil
			})
		},
	}
}

func doneCommand() *cli.Command {
	return &cli.Command{
		Name:      "done",
		Usage:     "Mark a task as completed.",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("done: a task id is required")
			}
			return withBook(c, func(_ *config.Config, book *calendar.Book) error {
				ev, err := book.CompleteTask(c.Context, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s done\n", ev.Name)
				return nil
			})
		},
	}
}
